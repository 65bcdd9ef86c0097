package k8s

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// HasCRD reports whether the named CustomResourceDefinition is installed on a cluster
func (m *MultiClusterClient) HasCRD(ctx context.Context, contextName, crdName string) (bool, error) {
	client, err := m.GetAPIExtensionsClient(contextName)
	if err != nil {
		return false, err
	}

	_, err = client.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, crdName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, NewAPIError(contextName, err)
	}
	return true, nil
}
