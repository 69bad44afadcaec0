package api

import (
	"net/http"

	"github.com/snarg/meetscribe/internal/ingest"
	"github.com/snarg/meetscribe/internal/ledger"
)

type StatsResponse struct {
	Ledger     ledger.Stats   `json:"ledger"`
	ActiveRuns int            `json:"active_runs"`
	Watcher    *ingest.Status `json:"watcher,omitempty"`
}

type StatsHandler struct {
	led     ledger.Store
	watcher WatcherSource
	runs    RunSource
}

func NewStatsHandler(led ledger.Store, watcher WatcherSource, runs RunSource) *StatsHandler {
	return &StatsHandler{led: led, watcher: watcher, runs: runs}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st, err := h.led.Stats(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "ledger stats unavailable")
		return
	}

	resp := StatsResponse{Ledger: st}
	if h.runs != nil {
		resp.ActiveRuns = h.runs.ActiveRunCount()
	}
	if h.watcher != nil {
		ws := h.watcher.Status()
		resp.Watcher = &ws
	}
	WriteJSON(w, http.StatusOK, resp)
}
