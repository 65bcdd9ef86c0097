package k8s

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

// Exec runs command in a pod container and returns its stdout. An empty container uses the pod default.
func (m *MultiClusterClient) Exec(ctx context.Context, contextName, namespace, pod, container string, command []string) (string, error) {
	client, err := m.GetClient(contextName)
	if err != nil {
		return "", err
	}
	config, err := m.GetRestConfig(contextName)
	if err != nil {
		return "", err
	}

	req := client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(config, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("failed to create executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return "", NewAPIError(contextName, fmt.Errorf("exec %s in %s/%s: %w, stderr: %s",
			strings.Join(command, " "), namespace, pod, err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}
