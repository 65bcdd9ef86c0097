package models

import (
	"errors"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// Kind names of the resources the dashboard reads
const (
	KindPod         = "Pod"
	KindReplicaSet  = "ReplicaSet"
	KindDeployment  = "Deployment"
	KindJob         = "Job"
	KindCronJob     = "CronJob"
	KindEvent       = "Event"
	KindNamespace   = "Namespace"
	KindCNPGCluster = "Cluster"
)

// ErrInvalidResource is returned when a fetched object does not have the expected shape
var ErrInvalidResource = errors.New("invalid resource")

// ValidationError describes why a single object was rejected at the fetch boundary
type ValidationError struct {
	Kind   string
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Name, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidResource
}

// Decode converts an unstructured API object into the typed record for kind and validates it.
// The returned value is always a pointer to one of the typed records held by ResourceSet.
func Decode(kind string, u *unstructured.Unstructured) (metav1.Object, error) {
	if u == nil {
		return nil, &ValidationError{Kind: kind, Reason: "empty object"}
	}

	var obj metav1.Object
	switch kind {
	case KindPod:
		obj = &corev1.Pod{}
	case KindReplicaSet:
		obj = &appsv1.ReplicaSet{}
	case KindDeployment:
		obj = &appsv1.Deployment{}
	case KindJob:
		obj = &batchv1.Job{}
	case KindCronJob:
		obj = &batchv1.CronJob{}
	case KindEvent:
		obj = &corev1.Event{}
	case KindNamespace:
		obj = &corev1.Namespace{}
	case KindCNPGCluster:
		obj = &CNPGCluster{}
	default:
		return nil, &ValidationError{Kind: kind, Name: u.GetName(), Reason: "unsupported kind"}
	}

	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.UnstructuredContent(), obj); err != nil {
		return nil, &ValidationError{Kind: kind, Name: u.GetName(), Reason: err.Error()}
	}
	if err := Validate(kind, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Validate checks the fields every record must carry before it is accepted into a cache
func Validate(kind string, obj metav1.Object) error {
	if obj == nil {
		return &ValidationError{Kind: kind, Reason: "empty object"}
	}
	if obj.GetName() == "" {
		return &ValidationError{Kind: kind, Reason: "missing metadata.name"}
	}
	if kind != KindNamespace && obj.GetNamespace() == "" {
		return &ValidationError{Kind: kind, Name: obj.GetName(), Reason: "missing metadata.namespace"}
	}
	if c, ok := obj.(*CNPGCluster); ok {
		if c.Status.Instances < 0 || c.Status.ReadyInstances < 0 {
			return &ValidationError{Kind: kind, Name: obj.GetName(), Reason: "negative instance count"}
		}
	}
	return nil
}

// ResourceSet holds one materialized collection per watched kind for a single cluster context
type ResourceSet struct {
	Pods        []corev1.Pod        `json:"pods"`
	ReplicaSets []appsv1.ReplicaSet `json:"replicaSets"`
	Deployments []appsv1.Deployment `json:"deployments"`
	Jobs        []batchv1.Job       `json:"jobs"`
	CronJobs    []batchv1.CronJob   `json:"cronJobs"`
	Events      []corev1.Event      `json:"events"`
	Namespaces  []corev1.Namespace  `json:"namespaces"`
	Clusters    []CNPGCluster       `json:"clusters"`
}

// Add appends a decoded record to the matching collection. Unknown types are ignored.
func (r *ResourceSet) Add(obj metav1.Object) {
	switch o := obj.(type) {
	case *corev1.Pod:
		r.Pods = append(r.Pods, *o)
	case *appsv1.ReplicaSet:
		r.ReplicaSets = append(r.ReplicaSets, *o)
	case *appsv1.Deployment:
		r.Deployments = append(r.Deployments, *o)
	case *batchv1.Job:
		r.Jobs = append(r.Jobs, *o)
	case *batchv1.CronJob:
		r.CronJobs = append(r.CronJobs, *o)
	case *corev1.Event:
		r.Events = append(r.Events, *o)
	case *corev1.Namespace:
		r.Namespaces = append(r.Namespaces, *o)
	case *CNPGCluster:
		r.Clusters = append(r.Clusters, *o)
	}
}

// Len returns the total number of records across all kinds
func (r *ResourceSet) Len() int {
	return len(r.Pods) + len(r.ReplicaSets) + len(r.Deployments) + len(r.Jobs) +
		len(r.CronJobs) + len(r.Events) + len(r.Namespaces) + len(r.Clusters)
}

// Sort orders every collection by namespace then name so that downstream grouping is deterministic
func (r *ResourceSet) Sort() {
	sortByKey(r.Pods, func(o corev1.Pod) string { return o.Namespace + "/" + o.Name })
	sortByKey(r.ReplicaSets, func(o appsv1.ReplicaSet) string { return o.Namespace + "/" + o.Name })
	sortByKey(r.Deployments, func(o appsv1.Deployment) string { return o.Namespace + "/" + o.Name })
	sortByKey(r.Jobs, func(o batchv1.Job) string { return o.Namespace + "/" + o.Name })
	sortByKey(r.CronJobs, func(o batchv1.CronJob) string { return o.Namespace + "/" + o.Name })
	sortByKey(r.Events, func(o corev1.Event) string { return o.Namespace + "/" + o.Name })
	sortByKey(r.Namespaces, func(o corev1.Namespace) string { return o.Name })
	sortByKey(r.Clusters, func(o CNPGCluster) string { return o.Namespace + "/" + o.Name })
}

func sortByKey[T any](items []T, key func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return key(items[i]) < key(items[j])
	})
}
