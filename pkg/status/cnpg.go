package status

import (
	"strings"
	"time"

	"github.com/kubestellar/pgboard/pkg/models"
)

// Instance states reported by the operator in status.instancesStatus
const (
	InstanceHealthy     = "healthy"
	InstanceReplicating = "replicating"
	InstanceFailed      = "failed"
	InstanceUnknown     = "unknown"
)

// Instance is one postgres pod of a CNPG cluster as shown on the dashboard
type Instance struct {
	Name      string        `json:"name"`
	ShortName string        `json:"shortName"`
	IsPrimary bool          `json:"isPrimary"`
	State     string        `json:"state"`
	Status    models.Status `json:"status"`
}

// CNPGBackupStatus flags clusters whose last base backup is missing, unparseable or older than MaxBackupAge
func CNPGBackupStatus(c *models.CNPGCluster, now time.Time) models.Status {
	if c.Status.LastSuccessfulBackup == "" {
		return models.StatusError
	}
	last, err := time.Parse(time.RFC3339, c.Status.LastSuccessfulBackup)
	if err != nil {
		return models.StatusError
	}
	if now.Sub(last) > MaxBackupAge {
		return models.StatusError
	}
	return models.StatusOK
}

// CNPGArchivingStatus is error only when the ContinuousArchiving condition reports failure
func CNPGArchivingStatus(c *models.CNPGCluster) models.Status {
	for _, cond := range c.Status.Conditions {
		if cond.Type != models.ConditionContinuousArchiving {
			continue
		}
		if cond.Reason == models.ReasonContinuousArchivingFailing {
			return models.StatusError
		}
		return models.StatusOK
	}
	return models.StatusOK
}

// CNPGCluster combines instance readiness, backup freshness and archiving health
func CNPGCluster(c *models.CNPGCluster, now time.Time) models.Status {
	if c.Status.Instances != c.Status.ReadyInstances {
		return models.StatusError
	}
	if CNPGBackupStatus(c, now) == models.StatusError {
		return models.StatusError
	}
	return CNPGArchivingStatus(c)
}

// CNPGInstances lists the cluster's instances in status.instanceNames order
func CNPGInstances(c *models.CNPGCluster) []Instance {
	states := make(map[string]string)
	for state, names := range c.Status.InstancesStatus {
		for _, n := range names {
			states[n] = state
		}
	}

	out := make([]Instance, 0, len(c.Status.InstanceNames))
	for _, name := range c.Status.InstanceNames {
		state, ok := states[name]
		if !ok {
			state = InstanceUnknown
		}
		out = append(out, Instance{
			Name:      name,
			ShortName: strings.TrimPrefix(strings.TrimPrefix(name, c.Name), "-"),
			IsPrimary: name == c.Status.CurrentPrimary,
			State:     state,
			Status:    instanceBadge(state),
		})
	}
	return out
}

func instanceBadge(state string) models.Status {
	switch state {
	case InstanceHealthy:
		return models.StatusOK
	case InstanceFailed:
		return models.StatusError
	default:
		return models.StatusWarning
	}
}
