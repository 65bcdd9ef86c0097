package k8s

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	apiextclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
)

// InClusterContext is the context name used when running inside a cluster without a kubeconfig
const InClusterContext = "in-cluster"

const (
	k8sClientTimeout       = 45 * time.Second
	kubeconfigDebounce     = 500 * time.Millisecond
	kubeconfigPollInterval = 5 * time.Second
)

// MultiClusterClient manages connections to the configured Kubernetes contexts
type MultiClusterClient struct {
	mu              sync.RWMutex
	kubeconfig      string
	logger          *zap.Logger
	clients         map[string]kubernetes.Interface
	dynamicClients  map[string]dynamic.Interface
	metricsClients  map[string]metricsclientset.Interface
	apiextClients   map[string]apiextclientset.Interface
	configs         map[string]*rest.Config
	requestTimeout  time.Duration
	rawConfig       *api.Config
	watcher         *fsnotify.Watcher
	stopWatch       chan struct{}
	onReload        func()       // Callback when config is reloaded
	inClusterConfig *rest.Config // In-cluster config when running inside k8s
}

// NewMultiClusterClient creates a new multi-cluster client.
// An empty kubeconfig falls back to $KUBECONFIG and then ~/.kube/config.
func NewMultiClusterClient(kubeconfig string, logger *zap.Logger) (*MultiClusterClient, error) {
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, _ := os.UserHomeDir()
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &MultiClusterClient{
		kubeconfig:     kubeconfig,
		logger:         logger.Named("k8s"),
		requestTimeout: k8sClientTimeout,
	}
	client.resetClients()

	if _, err := os.Stat(kubeconfig); os.IsNotExist(err) {
		if inClusterConfig, err := rest.InClusterConfig(); err == nil {
			client.logger.Info("using in-cluster config (no kubeconfig file found)")
			client.inClusterConfig = inClusterConfig
		}
	}

	return client, nil
}

// resetClients drops every cached client. Callers must hold mu or own m exclusively.
func (m *MultiClusterClient) resetClients() {
	m.clients = make(map[string]kubernetes.Interface)
	m.dynamicClients = make(map[string]dynamic.Interface)
	m.metricsClients = make(map[string]metricsclientset.Interface)
	m.apiextClients = make(map[string]apiextclientset.Interface)
	m.configs = make(map[string]*rest.Config)
}

// IsInCluster returns true if the process runs with an in-cluster ServiceAccount config
func (m *MultiClusterClient) IsInCluster() bool {
	return m.inClusterConfig != nil
}

// Kubeconfig returns the kubeconfig path being used
func (m *MultiClusterClient) Kubeconfig() string {
	return m.kubeconfig
}

// InjectClient injects a typed client for a context (for testing)
func (m *MultiClusterClient) InjectClient(contextName string, client kubernetes.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[contextName] = client
}

// InjectDynamicClient injects a dynamic client for a context (for testing)
func (m *MultiClusterClient) InjectDynamicClient(contextName string, client dynamic.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dynamicClients[contextName] = client
}

// InjectMetricsClient injects a metrics.k8s.io client for a context (for testing)
func (m *MultiClusterClient) InjectMetricsClient(contextName string, client metricsclientset.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metricsClients[contextName] = client
}

// InjectAPIExtensionsClient injects an apiextensions client for a context (for testing)
func (m *MultiClusterClient) InjectAPIExtensionsClient(contextName string, client apiextclientset.Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiextClients[contextName] = client
}

// SetRawConfig sets the raw kubeconfig (for testing)
func (m *MultiClusterClient) SetRawConfig(config *api.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawConfig = config
}

// LoadConfig loads the kubeconfig and drops cached clients
func (m *MultiClusterClient) LoadConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inClusterConfig != nil {
		if _, err := os.Stat(m.kubeconfig); os.IsNotExist(err) {
			m.rawConfig = nil
			m.resetClients()
			return nil
		}
	}

	config, err := clientcmd.LoadFromFile(m.kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	m.rawConfig = config
	m.resetClients()
	return nil
}

// Contexts resolves the contexts to serve. A non-empty configured list is returned as is,
// otherwise the kubeconfig's current context (or the in-cluster context) is used.
func (m *MultiClusterClient) Contexts(configured []string) ([]string, error) {
	if len(configured) > 0 {
		out := make([]string, len(configured))
		copy(out, configured)
		m.warnUnknownContexts(out)
		return out, nil
	}

	m.mu.RLock()
	rawConfig := m.rawConfig
	inCluster := m.inClusterConfig != nil
	m.mu.RUnlock()

	if rawConfig == nil && !inCluster {
		if err := m.LoadConfig(); err != nil {
			return nil, err
		}
		m.mu.RLock()
		rawConfig = m.rawConfig
		m.mu.RUnlock()
	}

	if rawConfig != nil && rawConfig.CurrentContext != "" {
		return []string{rawConfig.CurrentContext}, nil
	}
	if inCluster {
		return []string{InClusterContext}, nil
	}
	return nil, fmt.Errorf("no current context in %s", m.kubeconfig)
}

// AvailableContexts lists every context in the kubeconfig, sorted by name
func (m *MultiClusterClient) AvailableContexts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	if m.inClusterConfig != nil {
		names = append(names, InClusterContext)
	}
	if m.rawConfig != nil {
		for name := range m.rawConfig.Contexts {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// warnUnknownContexts logs configured contexts that the loaded kubeconfig does not define.
// They stay in the list; their clients fail and the context is published empty.
func (m *MultiClusterClient) warnUnknownContexts(configured []string) {
	m.mu.RLock()
	loaded := m.rawConfig != nil
	m.mu.RUnlock()
	if !loaded {
		return
	}

	available := m.AvailableContexts()
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}
	for _, name := range configured {
		if !known[name] {
			m.logger.Warn("configured context not found in kubeconfig",
				zap.String("context", name),
				zap.String("kubeconfig", m.kubeconfig),
				zap.Strings("available", available))
		}
	}
}

// StartWatching starts watching the kubeconfig file for changes.
// Uses fsnotify plus a polling fallback to catch changes fsnotify misses after atomic writes.
func (m *MultiClusterClient) StartWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	m.watcher = watcher
	m.stopWatch = make(chan struct{})

	if err := watcher.Add(m.kubeconfig); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch kubeconfig: %w", err)
	}

	// Also watch the directory (for editors that do atomic saves)
	dir := filepath.Dir(m.kubeconfig)
	if err := watcher.Add(dir); err != nil {
		m.logger.Warn("could not watch kubeconfig directory", zap.String("path", dir), zap.Error(err))
	}

	go m.watchLoop()
	m.logger.Info("watching kubeconfig for changes", zap.String("path", m.kubeconfig))
	return nil
}

// reloadAndNotify reloads the kubeconfig and notifies listeners.
// The file is re-added to the watcher since atomic writes replace the inode.
func (m *MultiClusterClient) reloadAndNotify() {
	m.logger.Info("kubeconfig changed, reloading")
	if err := m.LoadConfig(); err != nil {
		m.logger.Error("error reloading kubeconfig", zap.Error(err))
		return
	}

	if m.watcher != nil {
		_ = m.watcher.Remove(m.kubeconfig)
		if err := m.watcher.Add(m.kubeconfig); err != nil {
			m.logger.Warn("could not re-watch kubeconfig file", zap.Error(err))
		}
	}

	m.mu.RLock()
	callback := m.onReload
	m.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (m *MultiClusterClient) watchLoop() {
	var debounceTimer *time.Timer

	pollTicker := time.NewTicker(kubeconfigPollInterval)
	defer pollTicker.Stop()
	var lastModTime time.Time
	if info, err := os.Stat(m.kubeconfig); err == nil {
		lastModTime = info.ModTime()
	}

	triggerReload := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(kubeconfigDebounce, m.reloadAndNotify)
	}

	for {
		select {
		case <-m.stopWatch:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Name == m.kubeconfig || filepath.Base(event.Name) == filepath.Base(m.kubeconfig) {
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					// Keep the poller from double-triggering
					if info, err := os.Stat(m.kubeconfig); err == nil {
						lastModTime = info.ModTime()
					}
					triggerReload()
				}
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("kubeconfig watcher error", zap.Error(err))
		case <-pollTicker.C:
			info, err := os.Stat(m.kubeconfig)
			if err != nil {
				continue
			}
			if info.ModTime() != lastModTime {
				lastModTime = info.ModTime()
				m.logger.Debug("kubeconfig change detected by poll")
				triggerReload()
			}
		}
	}
}

// StopWatching stops watching the kubeconfig file
func (m *MultiClusterClient) StopWatching() {
	if m.stopWatch != nil {
		close(m.stopWatch)
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// SetOnReload sets a callback to be called when kubeconfig is reloaded
func (m *MultiClusterClient) SetOnReload(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = callback
}

// restConfigLocked returns the cached rest config for a context, building it on first use.
// Callers must hold the write lock.
func (m *MultiClusterClient) restConfigLocked(contextName string) (*rest.Config, error) {
	if config, ok := m.configs[contextName]; ok {
		return config, nil
	}

	var config *rest.Config
	if contextName == InClusterContext && m.inClusterConfig != nil {
		config = rest.CopyConfig(m.inClusterConfig)
	} else {
		var err error
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: m.kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: contextName},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get config for context %s: %w", contextName, err)
		}
	}

	config.Timeout = m.requestTimeout
	m.configs[contextName] = config
	return config, nil
}

// GetClient returns a kubernetes client for the specified context
func (m *MultiClusterClient) GetClient(contextName string) (kubernetes.Interface, error) {
	m.mu.RLock()
	if client, ok := m.clients[contextName]; ok {
		m.mu.RUnlock()
		return client, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if client, ok := m.clients[contextName]; ok {
		return client, nil
	}

	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for context %s: %w", contextName, err)
	}

	m.clients[contextName] = client
	return client, nil
}

// GetRestConfig returns a copy of the REST config for the specified context
func (m *MultiClusterClient) GetRestConfig(contextName string) (*rest.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	return rest.CopyConfig(config), nil
}

// GetDynamicClient returns a dynamic kubernetes client for the specified context
func (m *MultiClusterClient) GetDynamicClient(contextName string) (dynamic.Interface, error) {
	m.mu.RLock()
	if client, ok := m.dynamicClients[contextName]; ok {
		m.mu.RUnlock()
		return client, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.dynamicClients[contextName]; ok {
		return client, nil
	}

	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	// The dynamic client carries long-lived watches; its list and watch calls are bounded by ctx
	streaming := rest.CopyConfig(config)
	streaming.Timeout = 0
	client, err := dynamic.NewForConfig(streaming)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client for context %s: %w", contextName, err)
	}

	m.dynamicClients[contextName] = client
	return client, nil
}

// GetMetricsClient returns a metrics.k8s.io client for the specified context
func (m *MultiClusterClient) GetMetricsClient(contextName string) (metricsclientset.Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.metricsClients[contextName]; ok {
		return client, nil
	}

	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	client, err := metricsclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client for context %s: %w", contextName, err)
	}

	m.metricsClients[contextName] = client
	return client, nil
}

// GetAPIExtensionsClient returns an apiextensions client for the specified context
func (m *MultiClusterClient) GetAPIExtensionsClient(contextName string) (apiextclientset.Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.apiextClients[contextName]; ok {
		return client, nil
	}

	config, err := m.restConfigLocked(contextName)
	if err != nil {
		return nil, err
	}
	client, err := apiextclientset.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create apiextensions client for context %s: %w", contextName, err)
	}

	m.apiextClients[contextName] = client
	return client, nil
}
