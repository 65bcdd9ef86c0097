// Package aggregate reshapes the flat per-kind resource collections of one cluster
// into per-namespace dashboard snapshots.
package aggregate

import (
	"strings"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubestellar/pgboard/pkg/models"
)

// Labels consulted, in order, to name the application behind a workload
var appLabelKeys = []string{
	"component",
	"application",
	"app",
	"app.kubernetes.io/name",
}

// Aggregator builds NamespaceSnapshots. It holds no state between calls.
type Aggregator struct {
	logger          *zap.Logger
	logsURLTemplate string
}

// New creates an Aggregator. logsURLTemplate may contain {namespace} and {app}; empty disables log links.
func New(logger *zap.Logger, logsURLTemplate string) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		logger:          logger.Named("aggregate"),
		logsURLTemplate: logsURLTemplate,
	}
}

// Aggregate groups res by namespace and joins workloads. clusters are the enriched CNPG records for the
// same pass; res.Clusters is ignored. Namespaces are returned in order of first sighting.
func (a *Aggregator) Aggregate(res *models.ResourceSet, clusters []models.ClusterRecord) []models.NamespaceSnapshot {
	idx := newIndex()
	if res == nil {
		res = &models.ResourceSet{}
	}

	for i := range clusters {
		b := idx.bucket(clusters[i].Namespace)
		b.snapshot.Clusters = append(b.snapshot.Clusters, clusters[i])
	}
	for i := range res.Events {
		e := &res.Events[i]
		if e.InvolvedObject.Namespace != "" && e.InvolvedObject.Namespace != e.Namespace {
			a.logger.Debug("dropping event for object in another namespace",
				zap.String("namespace", e.Namespace),
				zap.String("name", e.Name),
				zap.String("involvedNamespace", e.InvolvedObject.Namespace))
			continue
		}
		b := idx.bucket(e.Namespace)
		b.snapshot.Events = append(b.snapshot.Events, *e)
	}
	for i := range res.Pods {
		b := idx.bucket(res.Pods[i].Namespace)
		b.pods = append(b.pods, &res.Pods[i])
	}
	for i := range res.ReplicaSets {
		rs := &res.ReplicaSets[i]
		idx.bucket(rs.Namespace).replicaSets[rs.Name] = rs
	}
	for i := range res.Deployments {
		d := &res.Deployments[i]
		idx.bucket(d.Namespace).deployments[d.Name] = d
	}
	for i := range res.Jobs {
		b := idx.bucket(res.Jobs[i].Namespace)
		b.jobs = append(b.jobs, &res.Jobs[i])
	}
	for i := range res.CronJobs {
		cj := &res.CronJobs[i]
		idx.bucket(cj.Namespace).cronJobs[cj.Name] = cj
	}

	out := make([]models.NamespaceSnapshot, 0, len(idx.order))
	for _, ns := range idx.order {
		b := idx.buckets[ns]
		b.snapshot.Deployments = a.joinDeployments(b)
		b.snapshot.Cronjobs = a.joinCronjobs(b)
		out = append(out, b.snapshot)
	}
	return out
}

// joinDeployments groups pods by owning ReplicaSet and ReplicaSets by owning Deployment.
// Pod groups whose ReplicaSet or Deployment cannot be resolved are dropped.
func (a *Aggregator) joinDeployments(b *bucket) []models.WorkloadGroup {
	var rsOrder []string
	podsByRS := make(map[string][]corev1.Pod)
	for _, p := range b.pods {
		owner := firstOwner(p.OwnerReferences)
		if owner == nil || owner.Kind != models.KindReplicaSet {
			continue
		}
		if _, seen := podsByRS[owner.Name]; !seen {
			rsOrder = append(rsOrder, owner.Name)
		}
		podsByRS[owner.Name] = append(podsByRS[owner.Name], *p)
	}

	var depOrder []string
	groups := make(map[string]*models.WorkloadGroup)
	for _, rsName := range rsOrder {
		rs, ok := b.replicaSets[rsName]
		if !ok {
			a.logger.Debug("dropping pods of unknown replicaset",
				zap.String("namespace", b.snapshot.Name), zap.String("name", rsName))
			continue
		}
		owner := firstOwner(rs.OwnerReferences)
		if owner == nil || owner.Kind != models.KindDeployment {
			a.logger.Debug("dropping replicaset not owned by a deployment",
				zap.String("namespace", b.snapshot.Name), zap.String("name", rsName))
			continue
		}
		dep, ok := b.deployments[owner.Name]
		if !ok {
			a.logger.Debug("dropping replicaset of unknown deployment",
				zap.String("namespace", b.snapshot.Name),
				zap.String("name", rsName),
				zap.String("deployment", owner.Name))
			continue
		}

		g, ok := groups[dep.Name]
		if !ok {
			depCopy := dep.DeepCopy()
			g = &models.WorkloadGroup{
				Name:        dep.Name,
				Raw:         depCopy,
				LogsURL:     a.logsURL(b.snapshot.Name, appName(&dep.ObjectMeta)),
				ReplicaSets: []models.ReplicaSetGroup{},
			}
			groups[dep.Name] = g
			depOrder = append(depOrder, dep.Name)
		}
		g.ReplicaSets = append(g.ReplicaSets, models.ReplicaSetGroup{
			Name: rsName,
			Raw:  rs.DeepCopy(),
			Pods: podsByRS[rsName],
		})
	}

	out := make([]models.WorkloadGroup, 0, len(depOrder))
	for _, name := range depOrder {
		out = append(out, *groups[name])
	}
	return out
}

// joinCronjobs groups jobs by their first owner name. Groups without a matching CronJob are kept with a nil Raw.
func (a *Aggregator) joinCronjobs(b *bucket) []models.CronjobGroup {
	var order []string
	groups := make(map[string]*models.CronjobGroup)
	for _, j := range b.jobs {
		owner := firstOwner(j.OwnerReferences)
		if owner == nil {
			continue
		}
		g, ok := groups[owner.Name]
		if !ok {
			g = &models.CronjobGroup{Name: owner.Name, Jobs: []models.JobGroup{}}
			meta := &metav1.ObjectMeta{Name: owner.Name}
			if cj, found := b.cronJobs[owner.Name]; found {
				g.Raw = cj.DeepCopy()
				meta = &cj.ObjectMeta
			} else {
				a.logger.Debug("jobs owned by missing cronjob",
					zap.String("namespace", b.snapshot.Name), zap.String("name", owner.Name))
			}
			g.LogsURL = a.logsURL(b.snapshot.Name, appName(meta))
			groups[owner.Name] = g
			order = append(order, owner.Name)
		}
		g.Jobs = append(g.Jobs, models.JobGroup{Name: j.Name, Raw: *j.DeepCopy()})
	}

	out := make([]models.CronjobGroup, 0, len(order))
	for _, name := range order {
		out = append(out, *groups[name])
	}
	return out
}

func (a *Aggregator) logsURL(namespace, app string) string {
	if a.logsURLTemplate == "" {
		return ""
	}
	return strings.NewReplacer("{namespace}", namespace, "{app}", app).Replace(a.logsURLTemplate)
}

// appName resolves the application label of a workload, falling back to its name
func appName(meta *metav1.ObjectMeta) string {
	for _, k := range appLabelKeys {
		if v := meta.Labels[k]; v != "" {
			return v
		}
	}
	return meta.Name
}

func firstOwner(refs []metav1.OwnerReference) *metav1.OwnerReference {
	if len(refs) == 0 {
		return nil
	}
	return &refs[0]
}

type bucket struct {
	snapshot    models.NamespaceSnapshot
	pods        []*corev1.Pod
	jobs        []*batchv1.Job
	replicaSets map[string]*appsv1.ReplicaSet
	deployments map[string]*appsv1.Deployment
	cronJobs    map[string]*batchv1.CronJob
}

type index struct {
	order   []string
	buckets map[string]*bucket
}

func newIndex() *index {
	return &index{buckets: make(map[string]*bucket)}
}

// bucket returns the namespace bucket, creating it on first sighting
func (i *index) bucket(ns string) *bucket {
	if b, ok := i.buckets[ns]; ok {
		return b
	}
	b := &bucket{
		snapshot: models.NamespaceSnapshot{
			Name:        ns,
			Clusters:    []models.ClusterRecord{},
			Events:      []corev1.Event{},
			Deployments: []models.WorkloadGroup{},
			Cronjobs:    []models.CronjobGroup{},
		},
		replicaSets: make(map[string]*appsv1.ReplicaSet),
		deployments: make(map[string]*appsv1.Deployment),
		cronJobs:    make(map[string]*batchv1.CronJob),
	}
	i.buckets[ns] = b
	i.order = append(i.order, ns)
	return b
}
