package models

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// CNPGClusterGVR identifies the CloudNativePG Cluster custom resource
var CNPGClusterGVR = schema.GroupVersionResource{
	Group:    "postgresql.cnpg.io",
	Version:  "v1",
	Resource: "clusters",
}

// CNPGClusterCRD is the CustomResourceDefinition name backing CNPGClusterGVR
const CNPGClusterCRD = "clusters.postgresql.cnpg.io"

// CNPG condition values read by the status evaluator
const (
	ConditionContinuousArchiving     = "ContinuousArchiving"
	ReasonContinuousArchivingFailing = "ContinuousArchivingFailing"
)

// CNPGCluster is the subset of a postgresql.cnpg.io/v1 Cluster the dashboard reads
type CNPGCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   CNPGClusterSpec   `json:"spec,omitempty"`
	Status CNPGClusterStatus `json:"status,omitempty"`
}

// CNPGClusterSpec holds the desired topology and backup configuration
type CNPGClusterSpec struct {
	Instances int                         `json:"instances,omitempty"`
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
	Backup    *CNPGBackupConfiguration    `json:"backup,omitempty"`
}

// CNPGBackupConfiguration points at the object store used for base backups and WAL archiving
type CNPGBackupConfiguration struct {
	BarmanObjectStore *BarmanObjectStore `json:"barmanObjectStore,omitempty"`
}

// BarmanObjectStore describes an S3-compatible destination
type BarmanObjectStore struct {
	DestinationPath string         `json:"destinationPath,omitempty"`
	EndpointURL     string         `json:"endpointURL,omitempty"`
	S3Credentials   *S3Credentials `json:"s3Credentials,omitempty"`
}

// S3Credentials references the secrets holding object store credentials
type S3Credentials struct {
	AccessKeyID     *SecretKeySelector `json:"accessKeyId,omitempty"`
	SecretAccessKey *SecretKeySelector `json:"secretAccessKey,omitempty"`
	Region          *SecretKeySelector `json:"region,omitempty"`
}

// SecretKeySelector selects one key of a Secret in the cluster's namespace
type SecretKeySelector struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// CNPGClusterStatus is the observed state reported by the operator.
// Timestamps are kept as the RFC3339 strings the operator writes.
type CNPGClusterStatus struct {
	Instances                int                 `json:"instances,omitempty"`
	ReadyInstances           int                 `json:"readyInstances,omitempty"`
	InstanceNames            []string            `json:"instanceNames,omitempty"`
	InstancesStatus          map[string][]string `json:"instancesStatus,omitempty"`
	CurrentPrimary           string              `json:"currentPrimary,omitempty"`
	CurrentPrimaryTimestamp  string              `json:"currentPrimaryTimestamp,omitempty"`
	TargetPrimary            string              `json:"targetPrimary,omitempty"`
	Phase                    string              `json:"phase,omitempty"`
	FirstRecoverabilityPoint string              `json:"firstRecoverabilityPoint,omitempty"`
	LastSuccessfulBackup     string              `json:"lastSuccessfulBackup,omitempty"`
	Conditions               []metav1.Condition  `json:"conditions,omitempty"`
}

// StorageStats is the disk usage of the primary's data volume, as printed by df
type StorageStats struct {
	Total       string `json:"total"`
	Used        string `json:"used"`
	PercentUsed string `json:"percentUsed"`
}

// UnknownStorageStats is reported when the disk usage probe fails
var UnknownStorageStats = StorageStats{Total: "?", Used: "?", PercentUsed: "?"}

// PodStats is the current cpu and memory usage of the primary pod. Empty fields mean unknown.
type PodStats struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
}

// DumpFile is one logical dump archive found in the object store
type DumpFile struct {
	Name         string      `json:"name"`
	Size         int64       `json:"size"`
	LastModified metav1.Time `json:"lastModified"`
}

// ClusterRecord is a CNPG cluster plus best-effort enrichment.
// Dumps is nil when dump listing was not attempted for the cluster.
type ClusterRecord struct {
	CNPGCluster

	StorageStats StorageStats `json:"storageStats"`
	PodStats     PodStats     `json:"podStats"`
	Dumps        []DumpFile   `json:"dumps,omitempty"`
}
