package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func TestDecode_Pod(t *testing.T) {
	u := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "v1",
			"kind":       "Pod",
			"metadata": map[string]interface{}{
				"name":      "web-7d9-abc",
				"namespace": "shop",
				"ownerReferences": []interface{}{
					map[string]interface{}{
						"apiVersion": "apps/v1",
						"kind":       "ReplicaSet",
						"name":       "web-7d9",
						"uid":        "1",
					},
				},
			},
			"status": map[string]interface{}{
				"phase": "Running",
			},
		},
	}

	obj, err := Decode(KindPod, u)
	require.NoError(t, err)

	pod, ok := obj.(*corev1.Pod)
	require.True(t, ok, "expected *corev1.Pod, got %T", obj)
	assert.Equal(t, "web-7d9-abc", pod.Name)
	assert.Equal(t, corev1.PodRunning, pod.Status.Phase)
	require.Len(t, pod.OwnerReferences, 1)
	assert.Equal(t, "web-7d9", pod.OwnerReferences[0].Name)
}

func TestDecode_CNPGCluster(t *testing.T) {
	u := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": "postgresql.cnpg.io/v1",
			"kind":       "Cluster",
			"metadata": map[string]interface{}{
				"name":      "pg-main",
				"namespace": "shop",
			},
			"spec": map[string]interface{}{
				"instances": int64(3),
				"backup": map[string]interface{}{
					"barmanObjectStore": map[string]interface{}{
						"destinationPath": "s3://backups/shop",
						"s3Credentials": map[string]interface{}{
							"accessKeyId": map[string]interface{}{"name": "s3-creds", "key": "ACCESS_KEY_ID"},
						},
					},
				},
			},
			"status": map[string]interface{}{
				"instances":            int64(3),
				"readyInstances":       int64(2),
				"currentPrimary":       "pg-main-1",
				"lastSuccessfulBackup": "2024-05-01T10:00:00Z",
				"instancesStatus": map[string]interface{}{
					"healthy": []interface{}{"pg-main-1", "pg-main-2"},
				},
			},
		},
	}

	obj, err := Decode(KindCNPGCluster, u)
	require.NoError(t, err)

	c, ok := obj.(*CNPGCluster)
	require.True(t, ok)
	assert.Equal(t, 3, c.Status.Instances)
	assert.Equal(t, 2, c.Status.ReadyInstances)
	assert.Equal(t, "pg-main-1", c.Status.CurrentPrimary)
	assert.Equal(t, []string{"pg-main-1", "pg-main-2"}, c.Status.InstancesStatus["healthy"])
	require.NotNil(t, c.Spec.Backup)
	require.NotNil(t, c.Spec.Backup.BarmanObjectStore)
	assert.Equal(t, "s3-creds", c.Spec.Backup.BarmanObjectStore.S3Credentials.AccessKeyID.Name)
}

func TestDecode_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		kind string
		obj  *unstructured.Unstructured
	}{
		{
			name: "nil object",
			kind: KindPod,
			obj:  nil,
		},
		{
			name: "missing name",
			kind: KindPod,
			obj: &unstructured.Unstructured{Object: map[string]interface{}{
				"metadata": map[string]interface{}{"namespace": "shop"},
			}},
		},
		{
			name: "missing namespace",
			kind: KindDeployment,
			obj: &unstructured.Unstructured{Object: map[string]interface{}{
				"metadata": map[string]interface{}{"name": "web"},
			}},
		},
		{
			name: "wrong field type",
			kind: KindCNPGCluster,
			obj: &unstructured.Unstructured{Object: map[string]interface{}{
				"metadata": map[string]interface{}{"name": "pg", "namespace": "shop"},
				"status":   map[string]interface{}{"instances": "three"},
			}},
		},
		{
			name: "unsupported kind",
			kind: "Secret",
			obj: &unstructured.Unstructured{Object: map[string]interface{}{
				"metadata": map[string]interface{}{"name": "s", "namespace": "shop"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.kind, tt.obj)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidResource), "error should wrap ErrInvalidResource: %v", err)
		})
	}
}

func TestValidate_NamespaceIsClusterScoped(t *testing.T) {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "shop"}}
	assert.NoError(t, Validate(KindNamespace, ns))
}

func TestResourceSet_AddAndSort(t *testing.T) {
	var set ResourceSet
	set.Add(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "b", Namespace: "ns2"}})
	set.Add(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "ns2"}})
	set.Add(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "z", Namespace: "ns1"}})
	set.Add(&CNPGCluster{ObjectMeta: metav1.ObjectMeta{Name: "pg", Namespace: "ns1"}})

	require.Equal(t, 4, set.Len())
	set.Sort()

	names := []string{}
	for _, p := range set.Pods {
		names = append(names, p.Namespace+"/"+p.Name)
	}
	assert.Equal(t, []string{"ns1/z", "ns2/a", "ns2/b"}, names)
	assert.Len(t, set.Clusters, 1)
}
