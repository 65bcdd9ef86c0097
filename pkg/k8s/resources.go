package k8s

import (
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/kubestellar/pgboard/pkg/models"
)

// ResourceType describes one watched API resource
type ResourceType struct {
	Kind     string
	ListKind string
	GVR      schema.GroupVersionResource
	// CRD is set when the resource is served by a CustomResourceDefinition that may be absent
	CRD string
}

// WatchedResources is the fixed set of resources read from every cluster
var WatchedResources = []ResourceType{
	{Kind: models.KindEvent, ListKind: "EventList", GVR: schema.GroupVersionResource{Version: "v1", Resource: "events"}},
	{Kind: models.KindPod, ListKind: "PodList", GVR: schema.GroupVersionResource{Version: "v1", Resource: "pods"}},
	{Kind: models.KindNamespace, ListKind: "NamespaceList", GVR: schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}},
	{Kind: models.KindReplicaSet, ListKind: "ReplicaSetList", GVR: schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "replicasets"}},
	{Kind: models.KindDeployment, ListKind: "DeploymentList", GVR: schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}},
	{Kind: models.KindCronJob, ListKind: "CronJobList", GVR: schema.GroupVersionResource{Group: "batch", Version: "v1", Resource: "cronjobs"}},
	{Kind: models.KindJob, ListKind: "JobList", GVR: schema.GroupVersionResource{Group: "batch", Version: "v1", Resource: "jobs"}},
	{Kind: models.KindCNPGCluster, ListKind: "ClusterList", GVR: models.CNPGClusterGVR, CRD: models.CNPGClusterCRD},
}

// ListKinds maps every watched GVR to its list kind, as needed by the fake dynamic client
func ListKinds() map[schema.GroupVersionResource]string {
	out := make(map[schema.GroupVersionResource]string, len(WatchedResources))
	for _, rt := range WatchedResources {
		out[rt.GVR] = rt.ListKind
	}
	return out
}

// ResourceForKind returns the watched resource with the given kind
func ResourceForKind(kind string) (ResourceType, bool) {
	for _, rt := range WatchedResources {
		if rt.Kind == kind {
			return rt, true
		}
	}
	return ResourceType{}, false
}
