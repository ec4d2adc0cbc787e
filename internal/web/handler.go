package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/telegram"
)

// Jobs is the job manager view the endpoints need.
type Jobs interface {
	Current() (backup.Snapshot, bool)
	Last() (backup.Snapshot, bool)
	Stop() bool
}

// Handler handles HTTP requests
type Handler struct {
	jobs     Jobs
	tgStatus func() telegram.Status
	started  time.Time
}

// NewHandler creates a handler. tgStatus may be nil.
func NewHandler(jobs Jobs, tgStatus func() telegram.Status) *Handler {
	return &Handler{jobs: jobs, tgStatus: tgStatus, started: time.Now()}
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("backup bot is running\n"))
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status   string           `json:"status"` // running | idle
	Telegram telegram.Status  `json:"telegram_status,omitempty"`
	Uptime   string           `json:"uptime"`
	Current  *backup.Snapshot `json:"current,omitempty"`
	Last     *backup.Snapshot `json:"last,omitempty"`
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status: "idle",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if h.tgStatus != nil {
		resp.Telegram = h.tgStatus()
	}
	if cur, ok := h.jobs.Current(); ok {
		resp.Status = "running"
		resp.Current = &cur
	}
	if last, ok := h.jobs.Last(); ok {
		resp.Last = &last
	}
	respondJSON(w, http.StatusOK, resp)
}

// StopJob handles DELETE /jobs/current
func (h *Handler) StopJob(w http.ResponseWriter, _ *http.Request) {
	if !h.jobs.Stop() {
		respondError(w, http.StatusNotFound, "no job running")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "job stopping",
	})
}

// helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
