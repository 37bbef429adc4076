package onboarding

import (
	"net/http"
	"time"

	"github.com/zhouzirui/fin-onboard/backend/pkg/utils"
)

// handleEvents 以 SSE 推送控制器事件。首条事件为当前快照。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	client, ok := h.client(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, stop := client.Subscribe()
	defer stop()

	ctx := r.Context()
	snap, err := client.Snapshot(ctx)
	if err != nil {
		h.respondControllerError(w, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "snapshot", snap); err != nil {
		return
	}
	h.logger.Debugf("[sse] opened stream for client=%s", client.ID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugf("[sse] closing stream for client=%s", client.ID)
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEChunk(w, flusher, map[string]any{
				"event": "heartbeat",
				"time":  t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}
