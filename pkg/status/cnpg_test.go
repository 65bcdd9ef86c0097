package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubestellar/pgboard/pkg/models"
)

func healthyCluster(backupAge time.Duration) *models.CNPGCluster {
	return &models.CNPGCluster{
		ObjectMeta: metav1.ObjectMeta{Name: "pg-main", Namespace: "shop"},
		Status: models.CNPGClusterStatus{
			Instances:            3,
			ReadyInstances:       3,
			LastSuccessfulBackup: now.Add(-backupAge).Format(time.RFC3339),
			Conditions: []metav1.Condition{
				{Type: models.ConditionContinuousArchiving, Status: metav1.ConditionTrue, Reason: "ContinuousArchivingSuccess"},
			},
		},
	}
}

func TestCNPGCluster_FreshBackupIsOK(t *testing.T) {
	c := healthyCluster(2 * time.Hour)
	assert.Equal(t, models.StatusOK, CNPGBackupStatus(c, now))
	assert.Equal(t, models.StatusOK, CNPGArchivingStatus(c))
	assert.Equal(t, models.StatusOK, CNPGCluster(c, now))
}

func TestCNPGCluster_StaleBackupIsError(t *testing.T) {
	c := healthyCluster(72 * time.Hour)
	assert.Equal(t, models.StatusError, CNPGBackupStatus(c, now))
	assert.Equal(t, models.StatusError, CNPGCluster(c, now))
}

func TestCNPGCluster_Readiness(t *testing.T) {
	c := healthyCluster(time.Hour)
	c.Status.ReadyInstances = 2
	assert.Equal(t, models.StatusError, CNPGCluster(c, now))
}

func TestCNPGBackupStatus_MissingOrInvalid(t *testing.T) {
	c := healthyCluster(time.Hour)
	c.Status.LastSuccessfulBackup = ""
	assert.Equal(t, models.StatusError, CNPGBackupStatus(c, now))

	c.Status.LastSuccessfulBackup = "yesterday"
	assert.Equal(t, models.StatusError, CNPGBackupStatus(c, now))
}

func TestCNPGArchivingStatus(t *testing.T) {
	c := healthyCluster(time.Hour)
	c.Status.Conditions = nil
	assert.Equal(t, models.StatusOK, CNPGArchivingStatus(c))

	c.Status.Conditions = []metav1.Condition{
		{Type: "Ready", Status: metav1.ConditionTrue},
		{Type: models.ConditionContinuousArchiving, Status: metav1.ConditionFalse, Reason: models.ReasonContinuousArchivingFailing},
	}
	assert.Equal(t, models.StatusError, CNPGArchivingStatus(c))
	assert.Equal(t, models.StatusError, CNPGCluster(c, now))
}

func TestCNPGInstances(t *testing.T) {
	c := healthyCluster(time.Hour)
	c.Status.InstanceNames = []string{"pg-main-1", "pg-main-2", "pg-main-3", "pg-main-4"}
	c.Status.CurrentPrimary = "pg-main-2"
	c.Status.InstancesStatus = map[string][]string{
		InstanceHealthy:     {"pg-main-1", "pg-main-2"},
		InstanceReplicating: {"pg-main-3"},
	}

	instances := CNPGInstances(c)
	require.Len(t, instances, 4)

	assert.Equal(t, "1", instances[0].ShortName)
	assert.False(t, instances[0].IsPrimary)
	assert.Equal(t, models.StatusOK, instances[0].Status)

	assert.True(t, instances[1].IsPrimary)

	assert.Equal(t, InstanceReplicating, instances[2].State)
	assert.Equal(t, models.StatusWarning, instances[2].Status)

	assert.Equal(t, InstanceUnknown, instances[3].State)
	assert.Equal(t, models.StatusWarning, instances[3].Status)
}

func TestNamespace_RollsUpGroupedEntitiesOnly(t *testing.T) {
	ns := &models.NamespaceSnapshot{
		Name:     "shop",
		Clusters: []models.ClusterRecord{{CNPGCluster: *healthyCluster(time.Hour)}},
		Deployments: []models.WorkloadGroup{{
			Name: "web",
			Raw:  &appsDeployment,
		}},
	}
	assert.Equal(t, models.StatusOK, Namespace(ns, now))

	ns.Cronjobs = []models.CronjobGroup{{
		Name: "nightly",
		Jobs: []models.JobGroup{job("nightly-1", *at(-1), nil, 0, 0, 1)},
	}}
	assert.Equal(t, models.StatusError, Namespace(ns, now))
}

func TestRecentProblemEvents(t *testing.T) {
	ev := func(name, typ string, seen time.Time) corev1.Event {
		return corev1.Event{
			ObjectMeta:    metav1.ObjectMeta{Name: name, Namespace: "shop"},
			Type:          typ,
			LastTimestamp: metav1.NewTime(seen),
		}
	}
	events := []corev1.Event{
		ev("normal", corev1.EventTypeNormal, now.Add(-time.Minute)),
		ev("old-warning", corev1.EventTypeWarning, now.Add(-2*time.Hour)),
		ev("warning-a", corev1.EventTypeWarning, now.Add(-30*time.Minute)),
		ev("warning-b", corev1.EventTypeWarning, now.Add(-5*time.Minute)),
	}

	got := RecentProblemEvents(events, now)
	require.Len(t, got, 2)
	assert.Equal(t, "warning-b", got[0].Name)
	assert.Equal(t, "warning-a", got[1].Name)
}

func TestFilterNamespaces(t *testing.T) {
	broken := healthyCluster(72 * time.Hour)
	list := []models.NamespaceSnapshot{
		{Name: "shop-prod", Clusters: []models.ClusterRecord{{CNPGCluster: *broken}}},
		{Name: "shop-staging"},
		{Name: "billing"},
	}

	assert.Len(t, FilterNamespaces(list, "", false, now), 3)

	got := FilterNamespaces(list, "shop", false, now)
	require.Len(t, got, 2)
	assert.Equal(t, "shop-prod", got[0].Name)

	got = FilterNamespaces(list, "shop", true, now)
	require.Len(t, got, 1)
	assert.Equal(t, "shop-prod", got[0].Name)

	assert.Empty(t, FilterNamespaces(list, "nothing", false, now))
}
