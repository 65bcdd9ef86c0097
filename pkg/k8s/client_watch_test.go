package k8s

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubestellar/pgboard/pkg/models"
)

// idleWatchServer accepts watch requests and keeps them open without sending events
func idleWatchServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("watch") != "true" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func clientForServer(t *testing.T, server string) *MultiClusterClient {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	kubeconfig := fmt.Sprintf(`apiVersion: v1
kind: Config
current-context: idle
clusters:
- name: idle
  cluster:
    server: %s
contexts:
- name: idle
  context:
    cluster: idle
    user: idle
users:
- name: idle
  user:
    token: abc
`, server)
	if err := os.WriteFile(path, []byte(kubeconfig), 0o600); err != nil {
		t.Fatalf("write kubeconfig: %v", err)
	}
	m, err := NewMultiClusterClient(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewMultiClusterClient failed: %v", err)
	}
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	return m
}

func TestDynamicClient_WatchOutlivesRequestTimeout(t *testing.T) {
	srv := idleWatchServer(t)
	m := clientForServer(t, srv.URL)
	m.requestTimeout = 100 * time.Millisecond

	dyn, err := m.GetDynamicClient("idle")
	if err != nil {
		t.Fatalf("GetDynamicClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := dyn.Resource(models.CNPGClusterGVR).Namespace(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Stop()

	select {
	case ev, ok := <-w.ResultChan():
		t.Fatalf("idle watch ended early (ok=%v, event=%v)", ok, ev.Type)
	case <-time.After(5 * m.requestTimeout):
	}

	cfg, err := m.GetRestConfig("idle")
	if err != nil {
		t.Fatalf("GetRestConfig failed: %v", err)
	}
	if cfg.Timeout != m.requestTimeout {
		t.Errorf("request/response clients should keep the request timeout, got %v", cfg.Timeout)
	}
}
