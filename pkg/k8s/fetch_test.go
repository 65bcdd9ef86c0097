package k8s

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	apiextv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextfake "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/fake"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8sruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/dynamic/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/kubestellar/pgboard/pkg/metrics"
	"github.com/kubestellar/pgboard/pkg/models"
)

func newObject(apiVersion, kind, namespace, name string, fields map[string]interface{}) *unstructured.Unstructured {
	obj := map[string]interface{}{
		"apiVersion": apiVersion,
		"kind":       kind,
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
		},
	}
	if namespace == "" {
		delete(obj["metadata"].(map[string]interface{}), "namespace")
	}
	for k, v := range fields {
		obj[k] = v
	}
	return &unstructured.Unstructured{Object: obj}
}

func injectDynamicClusterWithObjects(t *testing.T, m *MultiClusterClient, cluster string, objs ...k8sruntime.Object) *fake.FakeDynamicClient {
	t.Helper()
	dyn := fake.NewSimpleDynamicClientWithCustomListKinds(k8sruntime.NewScheme(), ListKinds(), objs...)
	m.InjectDynamicClient(cluster, dyn)
	return dyn
}

func injectCNPGCRD(m *MultiClusterClient, cluster string, installed bool) {
	var objs []k8sruntime.Object
	if installed {
		objs = append(objs, &apiextv1.CustomResourceDefinition{ObjectMeta: metav1.ObjectMeta{Name: models.CNPGClusterCRD}})
	}
	m.InjectAPIExtensionsClient(cluster, apiextfake.NewSimpleClientset(objs...))
}

func sampleObjects() []k8sruntime.Object {
	return []k8sruntime.Object{
		newObject("v1", "Namespace", "", "shop", nil),
		newObject("v1", "Pod", "shop", "web-7d9-abc", map[string]interface{}{
			"status": map[string]interface{}{"phase": "Running"},
		}),
		newObject("apps/v1", "ReplicaSet", "shop", "web-7d9", nil),
		newObject("apps/v1", "Deployment", "shop", "web", nil),
		newObject("batch/v1", "Job", "shop", "report-1", nil),
		newObject("batch/v1", "CronJob", "shop", "report", nil),
		newObject("v1", "Event", "shop", "web.17a", map[string]interface{}{"type": "Warning"}),
		newObject("postgresql.cnpg.io/v1", "Cluster", "shop", "pg-main", map[string]interface{}{
			"status": map[string]interface{}{"instances": int64(3), "readyInstances": int64(3)},
		}),
	}
}

func TestFetchAll_ListsEveryKind(t *testing.T) {
	m := newTestClient(t)
	injectDynamicClusterWithObjects(t, m, "prod", sampleObjects()...)
	injectCNPGCRD(m, "prod", true)

	f := NewFetcher(m, zaptest.NewLogger(t), metrics.New(prometheus.NewRegistry()), 0)
	set, err := f.FetchAll(context.Background(), "prod")
	require.NoError(t, err)

	assert.Len(t, set.Namespaces, 1)
	assert.Len(t, set.Pods, 1)
	assert.Len(t, set.ReplicaSets, 1)
	assert.Len(t, set.Deployments, 1)
	assert.Len(t, set.Jobs, 1)
	assert.Len(t, set.CronJobs, 1)
	assert.Len(t, set.Events, 1)
	require.Len(t, set.Clusters, 1)
	assert.Equal(t, 3, set.Clusters[0].Status.ReadyInstances)
}

func TestFetchAll_FailedKindIsLeftEmpty(t *testing.T) {
	m := newTestClient(t)
	dyn := injectDynamicClusterWithObjects(t, m, "prod", sampleObjects()...)
	injectCNPGCRD(m, "prod", true)
	dyn.PrependReactor("list", "pods", func(action k8stesting.Action) (bool, k8sruntime.Object, error) {
		return true, nil, errors.New("connection refused")
	})

	f := NewFetcher(m, zaptest.NewLogger(t), nil, 0)
	set, err := f.FetchAll(context.Background(), "prod")
	require.NoError(t, err)

	assert.Empty(t, set.Pods)
	assert.Len(t, set.Deployments, 1)
	assert.Len(t, set.Clusters, 1)
}

func TestFetchAll_SkipsMissingCRD(t *testing.T) {
	m := newTestClient(t)
	dyn := injectDynamicClusterWithObjects(t, m, "prod", sampleObjects()...)
	injectCNPGCRD(m, "prod", false)

	f := NewFetcher(m, zaptest.NewLogger(t), nil, 0)
	set, err := f.FetchAll(context.Background(), "prod")
	require.NoError(t, err)

	assert.Empty(t, set.Clusters)
	assert.Len(t, set.Pods, 1)
	for _, action := range dyn.Actions() {
		assert.NotEqual(t, "clusters", action.GetResource().Resource, "cnpg clusters should not be listed")
	}
}

func TestFetchAll_RejectsInvalidObjects(t *testing.T) {
	m := newTestClient(t)
	objs := sampleObjects()
	objs = append(objs, newObject("postgresql.cnpg.io/v1", "Cluster", "shop", "broken", map[string]interface{}{
		"status": map[string]interface{}{"instances": "three"},
	}))
	injectDynamicClusterWithObjects(t, m, "prod", objs...)
	injectCNPGCRD(m, "prod", true)

	f := NewFetcher(m, zaptest.NewLogger(t), nil, 0)
	set, err := f.FetchAll(context.Background(), "prod")
	require.NoError(t, err)

	require.Len(t, set.Clusters, 1)
	assert.Equal(t, "pg-main", set.Clusters[0].Name)
}

func TestFetchAll_UnknownCluster(t *testing.T) {
	m := newTestClient(t)
	f := NewFetcher(m, zaptest.NewLogger(t), nil, 0)

	_, err := f.FetchAll(context.Background(), "nope")
	require.Error(t, err)
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestList_ReturnsResourceVersion(t *testing.T) {
	m := newTestClient(t)
	dyn := injectDynamicClusterWithObjects(t, m, "prod")
	dyn.PrependReactor("list", "pods", func(k8stesting.Action) (bool, k8sruntime.Object, error) {
		list := &unstructured.UnstructuredList{Object: map[string]interface{}{"apiVersion": "v1", "kind": "PodList"}}
		list.SetResourceVersion("42")
		list.Items = []unstructured.Unstructured{*newObject("v1", "Pod", "shop", "web-7d9-abc", nil)}
		return true, list, nil
	})

	rt, ok := ResourceForKind(models.KindPod)
	require.True(t, ok)

	f := NewFetcher(m, zaptest.NewLogger(t), nil, 0)
	objs, rv, err := f.List(context.Background(), "prod", rt)
	require.NoError(t, err)
	assert.Equal(t, "42", rv)
	require.Len(t, objs, 1)
	assert.Equal(t, "web-7d9-abc", objs[0].GetName())
}
