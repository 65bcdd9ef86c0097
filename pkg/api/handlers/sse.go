package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SSE event names
const (
	EventClusterData = "cluster_data"
	EventDone        = "done"
)

// writeSSEEvent writes one SSE event to the buffered writer and flushes.
func writeSSEEvent(w *bufio.Writer, eventName string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName, jsonData); err != nil {
		return err
	}
	return w.Flush()
}

// StreamSnapshot streams the current snapshot as server-sent events: one cluster_data event
// per context, then done. It accepts the same query parameters as GetSnapshot.
func (h *SnapshotHandlers) StreamSnapshot(c *fiber.Ctx) error {
	snap := h.store.Get()
	contexts, err := selectContexts(c, snap.Data)
	if err != nil {
		return err
	}
	q := readQuery(c)
	now := h.now()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		sent := 0
		for _, name := range contexts {
			err := writeSSEEvent(w, EventClusterData, fiber.Map{
				"cluster":     name,
				"lastRefresh": snap.LastRefresh,
				"namespaces":  q.view(snap.Data.Clusters[name], now).Namespaces,
			})
			if err != nil {
				h.logger.Debug("sse client went away", zap.Error(err))
				return
			}
			sent++
		}
		_ = writeSSEEvent(w, EventDone, fiber.Map{
			"refreshId":     snap.RefreshID,
			"totalClusters": sent,
		})
	})
	return nil
}
