package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/meetscribe/internal/config"
	"github.com/snarg/meetscribe/internal/ingest"
	"github.com/snarg/meetscribe/internal/ledger"
)

// capabilityProbeTimeout bounds the health check's GET against each
// capability service. Short on purpose: a slow capability is reported
// degraded, not allowed to hang the probe.
const capabilityProbeTimeout = 3 * time.Second

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Watcher       *ingest.Status    `json:"watcher,omitempty"`
}

type HealthHandler struct {
	led     ledger.Store
	watcher WatcherSource
	version string

	transcriptionURL string
	diarizationURL   string

	startTime time.Time
	client    *http.Client
}

func NewHealthHandler(cfg *config.Config, led ledger.Store, watcher WatcherSource, version string) *HealthHandler {
	return &HealthHandler{
		led:              led,
		watcher:          watcher,
		version:          version,
		transcriptionURL: cfg.TranscriptionURL,
		diarizationURL:   cfg.DiarizationURL,
		startTime:        time.Now(),
		client:           &http.Client{Timeout: capabilityProbeTimeout},
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Ledger check: a failing ledger means nothing can be recorded, so
	// the whole service is unhealthy.
	if _, err := h.led.Stats(r.Context()); err != nil {
		checks["ledger"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["ledger"] = "ok"
	}

	// Capability checks: unreachable capabilities degrade the service;
	// already-accepted work is unaffected until it reaches that stage.
	checks["transcription"] = h.probe(r.Context(), h.transcriptionURL)
	checks["diarization"] = h.probe(r.Context(), h.diarizationURL)
	if status == "healthy" && (checks["transcription"] != "ok" || checks["diarization"] != "ok") {
		status = "degraded"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.watcher != nil {
		ws := h.watcher.Status()
		resp.Watcher = &ws
	}

	WriteJSON(w, httpStatus, resp)
}

func (h *HealthHandler) probe(ctx context.Context, baseURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return "error"
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "unreachable"
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "error"
	}
	return "ok"
}
