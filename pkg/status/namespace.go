package status

import (
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/kubestellar/pgboard/pkg/models"
)

// RecentEventWindow bounds how far back RecentProblemEvents looks
const RecentEventWindow = time.Hour

// Namespace rolls up clusters, deployments and cronjobs. Pods and bare jobs do not count.
func Namespace(ns *models.NamespaceSnapshot, now time.Time) models.Status {
	for i := range ns.Clusters {
		if CNPGCluster(&ns.Clusters[i].CNPGCluster, now) == models.StatusError {
			return models.StatusError
		}
	}
	for i := range ns.Deployments {
		if Workload(&ns.Deployments[i]) == models.StatusError {
			return models.StatusError
		}
	}
	for i := range ns.Cronjobs {
		if Cronjob(&ns.Cronjobs[i]) == models.StatusError {
			return models.StatusError
		}
	}
	return models.StatusOK
}

// RecentProblemEvents returns non-Normal events seen within RecentEventWindow, newest first
func RecentProblemEvents(events []corev1.Event, now time.Time) []corev1.Event {
	cutoff := now.Add(-RecentEventWindow)
	out := []corev1.Event{}
	for _, e := range events {
		if e.Type == corev1.EventTypeNormal {
			continue
		}
		if eventTime(e).Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return eventTime(out[i]).After(eventTime(out[j]))
	})
	return out
}

// FilterNamespaces keeps namespaces whose name contains substr and, when onlyErrors is set,
// that are currently in error. An empty substr matches everything.
func FilterNamespaces(list []models.NamespaceSnapshot, substr string, onlyErrors bool, now time.Time) []models.NamespaceSnapshot {
	out := []models.NamespaceSnapshot{}
	for i := range list {
		if substr != "" && !strings.Contains(list[i].Name, substr) {
			continue
		}
		if onlyErrors && Namespace(&list[i], now) != models.StatusError {
			continue
		}
		out = append(out, list[i])
	}
	return out
}

func eventTime(e corev1.Event) time.Time {
	switch {
	case !e.LastTimestamp.IsZero():
		return e.LastTimestamp.Time
	case !e.EventTime.IsZero():
		return e.EventTime.Time
	case !e.FirstTimestamp.IsZero():
		return e.FirstTimestamp.Time
	default:
		return e.CreationTimestamp.Time
	}
}
