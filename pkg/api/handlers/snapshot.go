package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kubestellar/pgboard/pkg/models"
	"github.com/kubestellar/pgboard/pkg/snapshot"
	"github.com/kubestellar/pgboard/pkg/status"
)

// SnapshotHandlers serves the published snapshot. Statuses are derived on every read so
// that age-dependent checks such as backup freshness stay current between refreshes.
type SnapshotHandlers struct {
	store  *snapshot.Store[models.MultiClusterSnapshot]
	now    func() time.Time
	logger *zap.Logger
}

// NewSnapshotHandlers creates handlers reading from store
func NewSnapshotHandlers(store *snapshot.Store[models.MultiClusterSnapshot], logger *zap.Logger) *SnapshotHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotHandlers{store: store, now: time.Now, logger: logger.Named("snapshot")}
}

// Health reports liveness and whether a first snapshot has been published
func (h *SnapshotHandlers) Health(c *fiber.Ctx) error {
	snap := h.store.Get()
	return c.JSON(fiber.Map{
		"status":      "ok",
		"ready":       h.store.Ready(),
		"lastRefresh": snap.LastRefresh,
	})
}

// GetSnapshot returns every context, or only ?cluster=, with namespaces filtered by
// ?ns-filter= (substring) and ?show-only-errors=true
func (h *SnapshotHandlers) GetSnapshot(c *fiber.Ctx) error {
	snap := h.store.Get()
	contexts, err := selectContexts(c, snap.Data)
	if err != nil {
		return err
	}

	q := readQuery(c)
	now := h.now()
	resp := SnapshotResponse{
		Ready:       !snap.LastRefresh.IsZero(),
		LastRefresh: snap.LastRefresh,
		RefreshID:   snap.RefreshID,
		Contexts:    contexts,
		Clusters:    make(map[string]KubeView, len(contexts)),
	}
	for _, name := range contexts {
		resp.Clusters[name] = q.view(snap.Data.Clusters[name], now)
	}
	return c.JSON(resp)
}

type viewQuery struct {
	nsFilter   string
	onlyErrors bool
}

func readQuery(c *fiber.Ctx) viewQuery {
	return viewQuery{
		nsFilter:   c.Query("ns-filter"),
		onlyErrors: c.QueryBool("show-only-errors", false),
	}
}

func (q viewQuery) view(kube models.KubeSnapshot, now time.Time) KubeView {
	filtered := status.FilterNamespaces(kube.Namespaces, q.nsFilter, q.onlyErrors, now)
	return KubeView{Namespaces: namespaceViews(filtered, now)}
}

// selectContexts returns ?cluster= when set and known, otherwise every context in display order
func selectContexts(c *fiber.Ctx, snap models.MultiClusterSnapshot) ([]string, error) {
	if cluster := c.Query("cluster"); cluster != "" {
		if _, ok := snap.Clusters[cluster]; !ok {
			return nil, fiber.NewError(fiber.StatusNotFound, "unknown cluster: "+cluster)
		}
		return []string{cluster}, nil
	}
	return append([]string{}, snap.Contexts...), nil
}

// GetNamespace returns one namespace of one context
func (h *SnapshotHandlers) GetNamespace(c *fiber.Ctx) error {
	cluster := c.Params("cluster")
	namespace := c.Params("namespace")

	snap := h.store.Get()
	kube, ok := snap.Data.Clusters[cluster]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown cluster: "+cluster)
	}
	for i := range kube.Namespaces {
		if kube.Namespaces[i].Name == namespace {
			return c.JSON(fiber.Map{
				"lastRefresh": snap.LastRefresh,
				"namespace":   namespaceView(&kube.Namespaces[i], h.now()),
			})
		}
	}
	return fiber.NewError(fiber.StatusNotFound, "unknown namespace: "+namespace)
}
