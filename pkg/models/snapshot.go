package models

import (
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
)

// Status is the derived health of a dashboard entity
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// ReplicaSetGroup is a ReplicaSet together with the live pods it owns
type ReplicaSetGroup struct {
	Name string             `json:"name"`
	Raw  *appsv1.ReplicaSet `json:"raw"`
	Pods []corev1.Pod       `json:"pods"`
}

// WorkloadGroup is a Deployment view: the deployment and every replicaset that currently has pods
type WorkloadGroup struct {
	Name        string             `json:"name"`
	Raw         *appsv1.Deployment `json:"raw"`
	LogsURL     string             `json:"logsUrl,omitempty"`
	ReplicaSets []ReplicaSetGroup  `json:"replicasets"`
}

// JobGroup wraps one Job owned by a CronJob
type JobGroup struct {
	Name string      `json:"name"`
	Raw  batchv1.Job `json:"raw"`
}

// CronjobGroup gathers the jobs sharing an owner name.
// Raw is nil when no CronJob of that name exists anymore.
type CronjobGroup struct {
	Name    string           `json:"name"`
	Raw     *batchv1.CronJob `json:"raw,omitempty"`
	LogsURL string           `json:"logsUrl,omitempty"`
	Jobs    []JobGroup       `json:"jobs"`
}

// NamespaceSnapshot is everything the dashboard shows for one namespace
type NamespaceSnapshot struct {
	Name        string          `json:"name"`
	Clusters    []ClusterRecord `json:"clusters"`
	Events      []corev1.Event  `json:"events"`
	Deployments []WorkloadGroup `json:"deployments"`
	Cronjobs    []CronjobGroup  `json:"cronjobs"`
}

// KubeSnapshot is the aggregation result for one cluster context
type KubeSnapshot struct {
	Namespaces []NamespaceSnapshot `json:"namespaces"`
}

// MultiClusterSnapshot maps cluster context names to their aggregation result.
// Contexts preserves the configured context order.
type MultiClusterSnapshot struct {
	Contexts []string                `json:"contexts"`
	Clusters map[string]KubeSnapshot `json:"clusters"`
}

// EmptyMultiClusterSnapshot returns the snapshot published before the first refresh completes
func EmptyMultiClusterSnapshot() MultiClusterSnapshot {
	return MultiClusterSnapshot{
		Contexts: []string{},
		Clusters: map[string]KubeSnapshot{},
	}
}

// CachedSnapshot is the published state: a snapshot and the time it was published.
// Values are replaced as a whole and never mutated after publication.
type CachedSnapshot[T any] struct {
	Data        T         `json:"data"`
	LastRefresh time.Time `json:"lastRefresh"`
	RefreshID   string    `json:"refreshId,omitempty"`
}
