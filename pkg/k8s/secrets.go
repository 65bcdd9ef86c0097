package k8s

import (
	"context"
	"fmt"
	"unicode/utf8"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SecretValue reads one key of a Secret as UTF-8 text
func (m *MultiClusterClient) SecretValue(ctx context.Context, contextName, namespace, name, key string) (string, error) {
	client, err := m.GetClient(contextName)
	if err != nil {
		return "", err
	}

	secret, err := client.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", NewAPIError(contextName, fmt.Errorf("get secret %s/%s: %w", namespace, name, err))
	}

	value, ok := secret.Data[key]
	if !ok {
		if s, found := secret.StringData[key]; found {
			return s, nil
		}
		return "", fmt.Errorf("secret %s/%s has no key %q", namespace, name, key)
	}
	if !utf8.Valid(value) {
		return "", fmt.Errorf("secret %s/%s key %q is not valid UTF-8", namespace, name, key)
	}
	return string(value), nil
}
