package handlers

import (
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/kubestellar/pgboard/pkg/models"
	"github.com/kubestellar/pgboard/pkg/status"
)

// ClusterView is a CNPG cluster record with its derived statuses
type ClusterView struct {
	Cluster         models.ClusterRecord `json:"cluster"`
	Status          models.Status        `json:"status"`
	BackupStatus    models.Status        `json:"backupStatus"`
	ArchivingStatus models.Status        `json:"archivingStatus"`
	Instances       []status.Instance    `json:"instances"`
}

// WorkloadView is a deployment group with its status and the status of every pod
type WorkloadView struct {
	models.WorkloadGroup
	Status      models.Status            `json:"status"`
	PodStatuses map[string]models.Status `json:"podStatuses"`
}

// CronjobView is a cronjob group with its status and success history
type CronjobView struct {
	models.CronjobGroup
	Status               models.Status     `json:"status"`
	LastSuccessfulJob    *models.JobGroup  `json:"lastSuccessfulJob,omitempty"`
	JobsAfterLastSuccess []models.JobGroup `json:"jobsAfterLastSuccess"`
}

// NamespaceView is one namespace as rendered by the dashboard
type NamespaceView struct {
	Name                string         `json:"name"`
	Status              models.Status  `json:"status"`
	Clusters            []ClusterView  `json:"clusters"`
	Events              []corev1.Event `json:"events"`
	RecentProblemEvents []corev1.Event `json:"recentProblemEvents"`
	Deployments         []WorkloadView `json:"deployments"`
	Cronjobs            []CronjobView  `json:"cronjobs"`
}

// KubeView holds the namespaces of one cluster context
type KubeView struct {
	Namespaces []NamespaceView `json:"namespaces"`
}

// SnapshotResponse is the body of GET /api/snapshot
type SnapshotResponse struct {
	Ready       bool                `json:"ready"`
	LastRefresh time.Time           `json:"lastRefresh"`
	RefreshID   string              `json:"refreshId,omitempty"`
	Contexts    []string            `json:"contexts"`
	Clusters    map[string]KubeView `json:"clusters"`
}

func namespaceViews(list []models.NamespaceSnapshot, now time.Time) []NamespaceView {
	out := make([]NamespaceView, 0, len(list))
	for i := range list {
		out = append(out, namespaceView(&list[i], now))
	}
	return out
}

func namespaceView(ns *models.NamespaceSnapshot, now time.Time) NamespaceView {
	v := NamespaceView{
		Name:                ns.Name,
		Status:              status.Namespace(ns, now),
		Clusters:            make([]ClusterView, 0, len(ns.Clusters)),
		Events:              ns.Events,
		RecentProblemEvents: status.RecentProblemEvents(ns.Events, now),
		Deployments:         make([]WorkloadView, 0, len(ns.Deployments)),
		Cronjobs:            make([]CronjobView, 0, len(ns.Cronjobs)),
	}
	if v.Events == nil {
		v.Events = []corev1.Event{}
	}

	for i := range ns.Clusters {
		c := &ns.Clusters[i].CNPGCluster
		v.Clusters = append(v.Clusters, ClusterView{
			Cluster:         ns.Clusters[i],
			Status:          status.CNPGCluster(c, now),
			BackupStatus:    status.CNPGBackupStatus(c, now),
			ArchivingStatus: status.CNPGArchivingStatus(c),
			Instances:       status.CNPGInstances(c),
		})
	}

	for i := range ns.Deployments {
		w := &ns.Deployments[i]
		pods := make(map[string]models.Status)
		for _, rs := range w.ReplicaSets {
			for j := range rs.Pods {
				pods[rs.Pods[j].Name] = status.Pod(&rs.Pods[j])
			}
		}
		v.Deployments = append(v.Deployments, WorkloadView{
			WorkloadGroup: *w,
			Status:        status.Workload(w),
			PodStatuses:   pods,
		})
	}

	for i := range ns.Cronjobs {
		c := &ns.Cronjobs[i]
		after := status.JobsAfterLastSuccess(c)
		if after == nil {
			after = []models.JobGroup{}
		}
		v.Cronjobs = append(v.Cronjobs, CronjobView{
			CronjobGroup:         *c,
			Status:               status.Cronjob(c),
			LastSuccessfulJob:    status.LastSuccessfulJob(c),
			JobsAfterLastSuccess: after,
		})
	}
	return v
}
