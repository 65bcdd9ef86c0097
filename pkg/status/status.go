// Package status derives ok/warning/error health from aggregated dashboard objects.
// Every function here is pure: callers pass the evaluation time explicitly.
package status

import (
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/kubestellar/pgboard/pkg/models"
)

// MaxBackupAge is how old the last base backup may be before a cluster is flagged
const MaxBackupAge = 24 * time.Hour

// Pod returns the health of a single pod
func Pod(p *corev1.Pod) models.Status {
	switch p.Status.Phase {
	case corev1.PodSucceeded:
		return models.StatusOK
	case corev1.PodRunning:
		if len(p.Status.ContainerStatuses) == 0 {
			return models.StatusError
		}
		first := p.Status.ContainerStatuses[0]
		if first.State.Running != nil && first.Ready {
			return models.StatusOK
		}
		return models.StatusError
	case corev1.PodPending:
		return models.StatusWarning
	default:
		return models.StatusError
	}
}

// Deployment is ok when the ready replica count equals the observed replica count.
// Unset counts compare as zero.
func Deployment(d *appsv1.Deployment) models.Status {
	if d == nil {
		return models.StatusError
	}
	if d.Status.ReadyReplicas == d.Status.Replicas {
		return models.StatusOK
	}
	return models.StatusError
}

// Workload evaluates the deployment behind a workload group
func Workload(w *models.WorkloadGroup) models.Status {
	return Deployment(w.Raw)
}

// Job is ok while it is running or once it has succeeded
func Job(j *batchv1.Job) models.Status {
	if j.Status.Succeeded > 0 || j.Status.Active > 0 {
		return models.StatusOK
	}
	return models.StatusError
}

// LastSuccessfulJob returns the most recently completed job with exactly one success, or nil.
// Jobs are ordered by completion time; on ties the later one in group order wins.
func LastSuccessfulJob(c *models.CronjobGroup) *models.JobGroup {
	var succeeded []*models.JobGroup
	for i := range c.Jobs {
		if c.Jobs[i].Raw.Status.Succeeded == 1 {
			succeeded = append(succeeded, &c.Jobs[i])
		}
	}
	if len(succeeded) == 0 {
		return nil
	}
	sort.SliceStable(succeeded, func(i, j int) bool {
		return completionTime(succeeded[i]).Before(completionTime(succeeded[j]))
	})
	return succeeded[len(succeeded)-1]
}

// JobsAfterLastSuccess returns the jobs created after the last successful one.
// Without any success every job is returned.
func JobsAfterLastSuccess(c *models.CronjobGroup) []models.JobGroup {
	last := LastSuccessfulJob(c)
	if last == nil {
		return c.Jobs
	}
	cutoff := last.Raw.CreationTimestamp.Time
	var out []models.JobGroup
	for _, j := range c.Jobs {
		if j.Raw.CreationTimestamp.Time.After(cutoff) {
			out = append(out, j)
		}
	}
	return out
}

// Cronjob is in error when a job started since the last success has failed
func Cronjob(c *models.CronjobGroup) models.Status {
	for _, j := range JobsAfterLastSuccess(c) {
		if Job(&j.Raw) == models.StatusError {
			return models.StatusError
		}
	}
	return models.StatusOK
}

func completionTime(j *models.JobGroup) time.Time {
	if j.Raw.Status.CompletionTime == nil {
		return time.Time{}
	}
	return j.Raw.Status.CompletionTime.Time
}
