package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/metrics"
	"github.com/tokikanri/tokikanri/internal/models"
	"github.com/tokikanri/tokikanri/internal/reporter"
	"github.com/tokikanri/tokikanri/internal/tracker"
	"github.com/tokikanri/tokikanri/pkg/utils"
)

// History is the read side of the flush history
type History interface {
	reporter.SummarySource
	GetLatest(ctx context.Context) (*models.FlushEvent, error)
	GetRecentErrors(ctx context.Context, limit int) ([]models.ErrorLog, error)
}

// OracleHealth reports the playback oracle's failure run
type OracleHealth interface {
	Healthy() bool
	ConsecutiveFailures() int
}

// Options are the collaborators of a Handler. History and Oracle may be nil.
type Options struct {
	Engine   *tracker.Engine
	History  History
	Oracle   OracleHealth
	OnChange func() // called after every mutating request
	Logger   zerolog.Logger
}

type Handler struct {
	config   *config.Config
	engine   *tracker.Engine
	history  History
	oracle   OracleHealth
	onChange func()
	reporter *reporter.Reporter
	logger   zerolog.Logger
}

func NewHandler(cfg *config.Config, opts Options) *Handler {
	h := &Handler{
		config:   cfg,
		engine:   opts.Engine,
		history:  opts.History,
		oracle:   opts.Oracle,
		onChange: opts.OnChange,
		logger:   opts.Logger.With().Str("component", "web").Logger(),
	}
	if h.onChange == nil {
		h.onChange = func() {}
	}
	if h.history != nil {
		h.reporter = reporter.New(cfg, h.history).WithDisplayNames(h.displayName)
	}
	return h
}

func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/processes", h.handleProcesses)
	mux.HandleFunc("POST /api/processes", h.handleAdd)
	mux.HandleFunc("DELETE /api/processes", h.handleRemoveAll)
	mux.HandleFunc("PUT /api/processes/{identity}", h.handleRename)
	mux.HandleFunc("DELETE /api/processes/{identity}", h.handleRemove)
	mux.HandleFunc("POST /api/processes/{identity}/reset", h.handleReset)
	mux.HandleFunc("POST /api/reset", h.handleResetAll)
	mux.HandleFunc("GET /api/report", h.handleReport)
	mux.HandleFunc("GET /api/summary", h.handleSummary)
	mux.HandleFunc("GET /api/errors", h.handleErrors)

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /{$}", h.handleIndex)
}

// ProcessJSON is the wire form of a tracked process
type ProcessJSON struct {
	Identity      string `json:"identity"`
	DisplayName   string `json:"display_name,omitempty"`
	AccumulatedMS int64  `json:"accumulated_ms"`
	Accumulated   string `json:"accumulated"`
	IsMedia       bool   `json:"is_media"`
	State         string `json:"state"`
	Reason        string `json:"reason,omitempty"`
}

// StatusJSON is the wire form of the daemon status
type StatusJSON struct {
	Running          bool               `json:"running"`
	Active           string             `json:"active,omitempty"`
	State            string             `json:"state"`
	Reason           string             `json:"reason,omitempty"`
	SessionStarted   *time.Time         `json:"session_started,omitempty"`
	SessionAccruedMS int64              `json:"session_accrued_ms"`
	IsMedia          bool               `json:"is_media"`
	Playback         string             `json:"playback,omitempty"`
	Tracked          int                `json:"tracked"`
	PollInterval     string             `json:"poll_interval"`
	IdleThreshold    string             `json:"idle_threshold"`
	MediaEnabled     bool               `json:"media_enabled"`
	RequirePlayback  bool               `json:"require_playback"`
	Oracle           *OracleJSON        `json:"oracle,omitempty"`
	LatestFlush      *models.FlushEvent `json:"latest_flush,omitempty"`
	DroppedEvents    int64              `json:"dropped_events"`
}

type OracleJSON struct {
	Healthy             bool `json:"healthy"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
}

type addRequest struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
}

type renameRequest struct {
	DisplayName string `json:"display_name"`
}

func (h *Handler) displayName(identity string) string {
	for _, v := range h.engine.Snapshot() {
		if string(v.Identity) == identity {
			return v.DisplayName
		}
	}
	return ""
}

// ProcessesJSON converts engine views to their wire form
func ProcessesJSON(views []tracker.ProcessView) []ProcessJSON {
	out := make([]ProcessJSON, 0, len(views))
	for _, v := range views {
		out = append(out, ProcessJSON{
			Identity:      v.Identity.String(),
			DisplayName:   v.DisplayName,
			AccumulatedMS: v.Accumulated.Milliseconds(),
			Accumulated:   utils.FormatClock(v.Accumulated),
			IsMedia:       v.IsMedia,
			State:         v.State.String(),
			Reason:        v.Reason,
		})
	}
	return out
}

func (h *Handler) handleProcesses(w http.ResponseWriter, r *http.Request) {
	procs := ProcessesJSON(h.engine.Snapshot())
	if r.Header.Get("HX-Request") == "true" {
		h.respondProcessesHTML(w, procs)
		return
	}
	respondJSON(w, http.StatusOK, procs)
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := h.engine.Add(req.Identity, req.DisplayName)
	switch {
	case errors.Is(err, config.ErrEmptyIdentity):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, tracker.ErrAlreadyTracked):
		respondError(w, http.StatusConflict, fmt.Sprintf("%s is already tracked", id))
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.onChange()
	respondJSON(w, http.StatusCreated, map[string]string{"identity": id.String()})
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.command(w, h.engine.Rename(r.PathValue("identity"), strings.TrimSpace(req.DisplayName)))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.engine.Reset(r.PathValue("identity")))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.engine.Remove(r.PathValue("identity")))
}

func (h *Handler) handleResetAll(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetAll()
	h.command(w, nil)
}

func (h *Handler) handleRemoveAll(w http.ResponseWriter, r *http.Request) {
	h.engine.RemoveAll()
	h.command(w, nil)
}

func (h *Handler) command(w http.ResponseWriter, err error) {
	if errors.Is(err, tracker.ErrUnknownProcess) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.onChange()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		respondError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}

	report, err := h.reporter.GenerateReport(r.Context(), periodType)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to generate report: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		respondError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}

	report, err := h.reporter.GenerateReport(r.Context(), periodType)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		h.respondSummaryHTML(w, report)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"period":        report.Period,
		"processes":     report.Processes,
		"total_seconds": report.TotalSeconds,
		"total_minutes": report.TotalMinutes,
		"total_hours":   report.TotalHours,
	})
}

func (h *Handler) handleErrors(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondJSON(w, http.StatusOK, []models.ErrorLog{})
		return
	}
	logs, err := h.history.GetRecentErrors(r.Context(), 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Status()
	settings := h.engine.Settings()

	status := StatusJSON{
		Running:          true,
		Active:           st.Active.String(),
		State:            st.State.String(),
		Reason:           st.Reason,
		SessionAccruedMS: st.SessionAccrued.Milliseconds(),
		IsMedia:          st.IsMedia,
		Tracked:          st.Tracked,
		PollInterval:     h.config.Tracker.PollInterval.String(),
		IdleThreshold:    settings.IdleThreshold.String(),
		MediaEnabled:     settings.MediaEnabled,
		RequirePlayback:  settings.RequirePlayback,
		DroppedEvents:    h.engine.Dropped(),
	}
	if !st.Active.IsZero() {
		started := st.SessionStarted
		status.SessionStarted = &started
	}
	if st.IsMedia {
		status.Playback = st.Playback.String()
	}
	if h.oracle != nil {
		status.Oracle = &OracleJSON{Healthy: h.oracle.Healthy(), ConsecutiveFailures: h.oracle.ConsecutiveFailures()}
	}
	if h.history != nil {
		if latest, err := h.history.GetLatest(r.Context()); err == nil {
			status.LatestFlush = latest
		}
	}

	if r.Header.Get("HX-Request") == "true" {
		h.respondStatusHTML(w, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.oracle != nil && !h.oracle.Healthy() {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) respondStatusHTML(w http.ResponseWriter, st StatusJSON) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var b strings.Builder
	if st.Active == "" {
		b.WriteString(`<span class="idle">nothing in focus</span>`)
	} else {
		name := st.Active
		if dn := h.displayName(st.Active); dn != "" {
			name = dn
		}
		fmt.Fprintf(&b, `<strong>%s</strong> <span class="badge %s">%s</span> %s`,
			html.EscapeString(name), st.State, st.State,
			utils.FormatClock(time.Duration(st.SessionAccruedMS)*time.Millisecond))
		if st.Reason != "" {
			fmt.Fprintf(&b, ` <span class="idle">(%s)</span>`, html.EscapeString(st.Reason))
		}
	}
	if st.Oracle != nil && !st.Oracle.Healthy {
		fmt.Fprintf(&b, ` <span class="warn">playback queries failing (%d)</span>`, st.Oracle.ConsecutiveFailures)
	}
	w.Write([]byte(b.String()))
}

func (h *Handler) respondProcessesHTML(w http.ResponseWriter, procs []ProcessJSON) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if len(procs) == 0 {
		w.Write([]byte(`<p class="idle">No tracked processes</p>`))
		return
	}

	var b strings.Builder
	b.WriteString(`<table><thead><tr><th>Process</th><th>Time</th><th></th></tr></thead><tbody>`)
	for _, p := range procs {
		name := p.Identity
		if p.DisplayName != "" {
			name = p.DisplayName
		}
		tags := ""
		if p.State != "inactive" {
			tags = fmt.Sprintf(`<span class="badge %s">%s</span>`, p.State, p.State)
		}
		if p.IsMedia {
			tags += ` <span class="badge media">media</span>`
		}
		fmt.Fprintf(&b, `<tr><td title="%s">%s</td><td class="num">%s</td><td>%s</td></tr>`,
			html.EscapeString(p.Identity), html.EscapeString(name), p.Accumulated, tags)
	}
	b.WriteString(`</tbody></table>`)
	w.Write([]byte(b.String()))
}

func (h *Handler) respondSummaryHTML(w http.ResponseWriter, report *models.Report) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if len(report.Processes) == 0 {
		w.Write([]byte(`<p class="idle">No history for this period</p>`))
		return
	}

	var b strings.Builder
	b.WriteString(`<table><tbody>`)
	for _, p := range report.Processes {
		name := p.Identity
		if p.DisplayName != "" {
			name = p.DisplayName
		}
		fmt.Fprintf(&b, `<tr><td>%s<div class="bar" style="width: %.1f%%"></div></td><td class="num">%s</td><td class="num">%.0f%%</td></tr>`,
			html.EscapeString(name), p.Percentage, utils.FormatRoundedUnit(p.TotalSeconds), p.Percentage)
	}
	b.WriteString(`</tbody></table>`)
	fmt.Fprintf(&b, `<p class="total">Total: %s</p>`, utils.FormatRoundedUnit(report.TotalSeconds))

	w.Write([]byte(b.String()))
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(status)

	// the status line is already out, nothing useful left to do on failure
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
