// Package api exposes the HTTP surface: webhook intake, health and
// introspection endpoints, maintenance control, and the self-preservation
// callbacks.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jarvisd/jarvis/internal/config"
	"github.com/jarvisd/jarvis/internal/intake"
	"github.com/jarvisd/jarvis/internal/learning"
	"github.com/jarvisd/jarvis/internal/models"
	"github.com/jarvisd/jarvis/internal/proactive"
	"github.com/jarvisd/jarvis/internal/runbooks"
	"github.com/jarvisd/jarvis/internal/selfpreserve"
	"github.com/jarvisd/jarvis/internal/store"
)

// Version is stamped at build time.
var Version = "dev"

// DegradedQueue is the slice of the queue the health endpoint reports.
type DegradedQueue interface {
	Depth() int
	Degraded() bool
}

// Router handles HTTP routing.
type Router struct {
	mux      *http.ServeMux
	config   *config.Config
	gateway  *intake.Gateway
	store    *store.Store
	learning *learning.Store
	queue    DegradedQueue
	runbooks *runbooks.Store
	preserve *selfpreserve.Manager
	anomaly  *proactive.AnomalyDetector

	startTime time.Time
}

// Options wires the router's collaborators. Nil optional fields disable
// the matching endpoints.
type Options struct {
	Config   *config.Config
	Gateway  *intake.Gateway
	Store    *store.Store
	Learning *learning.Store
	Queue    DegradedQueue
	Runbooks *runbooks.Store
	Preserve *selfpreserve.Manager
	Anomaly  *proactive.AnomalyDetector
}

// NewRouter creates the HTTP handler.
func NewRouter(opts Options) http.Handler {
	r := &Router{
		mux:       http.NewServeMux(),
		config:    opts.Config,
		gateway:   opts.Gateway,
		store:     opts.Store,
		learning:  opts.Learning,
		queue:     opts.Queue,
		runbooks:  opts.Runbooks,
		preserve:  opts.Preserve,
		anomaly:   opts.Anomaly,
		startTime: time.Now(),
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/webhook", r.requireAuth(r.handleWebhook))
	r.mux.HandleFunc("/health", r.handleHealth)
	r.mux.HandleFunc("/version", r.handleVersion)
	r.mux.Handle("/metrics", promhttp.Handler())

	r.mux.HandleFunc("/runbooks", r.requireAuth(r.handleRunbooks))
	r.mux.HandleFunc("/runbooks/", r.requireAuth(r.handleRunbook))
	r.mux.HandleFunc("/runbooks/reload", r.requireAuth(r.handleRunbookReload))

	r.mux.HandleFunc("/patterns", r.requireAuth(r.handlePatterns))
	r.mux.HandleFunc("/analytics", r.requireAuth(r.handleAnalytics))

	r.mux.HandleFunc("/maintenance/start", r.requireAuth(r.handleMaintenanceStart))
	r.mux.HandleFunc("/maintenance/end", r.requireAuth(r.handleMaintenanceEnd))
	r.mux.HandleFunc("/maintenance/status", r.requireAuth(r.handleMaintenanceStatus))

	r.mux.HandleFunc("/anomalies", r.requireAuth(r.handleAnomalies))
	r.mux.HandleFunc("/anomalies/history", r.requireAuth(r.handleAnomalies))
	r.mux.HandleFunc("/anomalies/stats", r.requireAuth(r.handleAnomalyStats))
	r.mux.HandleFunc("/anomalies/check", r.requireAuth(r.handleAnomalyCheck))

	r.mux.HandleFunc("/self-restart", r.requireAuth(r.handleSelfRestart))
	r.mux.HandleFunc("/self-restart/status", r.requireAuth(r.handleSelfRestartStatus))
	r.mux.HandleFunc("/self-restart/cancel", r.requireAuth(r.handleSelfRestartCancel))
	// The resume callback authenticates by handoff id, not basic auth: the
	// orchestrator only knows the id it was handed.
	r.mux.HandleFunc("/resume", r.handleResume)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// requireAuth enforces HTTP Basic auth when credentials are configured.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.config.AuthUser != "" {
			user, pass, ok := req.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(r.config.AuthUser)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(r.config.AuthPass)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="jarvis"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, req)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, kind models.ErrorKind, message string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"error_kind": string(kind),
	})
}

func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env models.WebhookEnvelope
	if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrValidation, "malformed webhook payload: "+err.Error())
		return
	}

	results := r.gateway.ProcessEnvelope(req.Context(), env)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"received": len(env.Alerts),
		"results":  results,
	})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dbConnected := r.store.Ping(req.Context()) == nil
	maintenanceMode := false
	if windows, err := r.store.MaintenanceStatus(); err == nil {
		maintenanceMode = len(windows) > 0
	}

	status := "healthy"
	health := map[string]interface{}{
		"db_connected":     dbConnected,
		"maintenance_mode": maintenanceMode,
		"uptime_seconds":   int(time.Since(r.startTime).Seconds()),
		"timestamp":        time.Now().Unix(),
	}
	if r.queue != nil && r.queue.Degraded() {
		status = "degraded"
		health["queue_depth"] = r.queue.Depth()
	} else if !dbConnected {
		status = "unhealthy"
	}
	health["status"] = status

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "jarvis",
		"version": Version,
		"runtime": runtime.Version(),
	})
}

func (r *Router) handleRunbooks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runbooks": r.runbooks.List()})
}

func (r *Router) handleRunbook(w http.ResponseWriter, req *http.Request) {
	name := strings.TrimPrefix(req.URL.Path, "/runbooks/")
	if name == "reload" {
		r.handleRunbookReload(w, req)
		return
	}
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	content := r.runbooks.ForAlert(name)
	if content == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "content": content})
}

func (r *Router) handleRunbookReload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.runbooks.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runbooks": r.runbooks.List()})
}

func (r *Router) handlePatterns(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	patterns, err := r.learning.All(200)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": patterns})
}

func (r *Router) handleAnalytics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := r.store.Stats()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	attempts, err := r.store.RecentAttempts(50)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":           stats,
		"recent_attempts": attempts,
	})
}

func (r *Router) handleMaintenanceStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Host   string `json:"host"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || strings.TrimSpace(body.Host) == "" {
		writeError(w, http.StatusBadRequest, models.ErrValidation, "host is required")
		return
	}
	id, err := r.store.StartMaintenance(body.Host, body.Reason)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	log.Info().Str("host", body.Host).Msg("Maintenance window started")
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "host": body.Host})
}

func (r *Router) handleMaintenanceEnd(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || strings.TrimSpace(body.Host) == "" {
		writeError(w, http.StatusBadRequest, models.ErrValidation, "host is required")
		return
	}
	n, err := r.store.EndMaintenance(body.Host)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	log.Info().Str("host", body.Host).Int("ended", n).Msg("Maintenance window ended")
	writeJSON(w, http.StatusOK, map[string]interface{}{"ended": n})
}

func (r *Router) handleMaintenanceStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	windows, err := r.store.MaintenanceStatus()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"windows": windows})
}

func (r *Router) handleAnomalies(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	since := 24 * time.Hour
	if v := req.URL.Query().Get("hours"); v != "" {
		if d, err := time.ParseDuration(v + "h"); err == nil && d > 0 {
			since = d
		}
	}
	history, err := r.store.AnomalyHistory(since, 200)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anomalies": history})
}

func (r *Router) handleAnomalyStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	history, err := r.store.AnomalyHistory(7*24*time.Hour, 0)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	bySeverity := map[string]int{}
	promoted := 0
	for _, a := range history {
		bySeverity[a.Severity]++
		if a.Promoted {
			promoted++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"window_days": 7,
		"total":       len(history),
		"promoted":    promoted,
		"by_severity": bySeverity,
	})
}

func (r *Router) handleAnomalyCheck(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.anomaly == nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrValidation, "anomaly detection disabled")
		return
	}
	r.anomaly.Sweep(req.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "check complete"})
}

func (r *Router) handleSelfRestart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrValidation, "malformed request body")
		return
	}
	if body.Target == "" {
		body.Target = string(store.TargetSelf)
	}

	id, err := r.preserve.InitiateRestart(req.Context(), nil, body.Target, body.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     string(models.DispositionHandoffInitiated),
			"handoff_id": id,
		})
	case errors.Is(err, store.ErrHandoffActive):
		writeError(w, http.StatusConflict, models.ErrHandoffConflict, err.Error())
	case errors.Is(err, selfpreserve.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, models.ErrOrchestratorUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, models.ErrValidation, err.Error())
	}
}

func (r *Router) handleSelfRestartStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h, err := r.preserve.Active()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	if h == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":     true,
		"handoff_id": h.ID,
		"target":     h.Target,
		"status":     h.Status,
		"reason":     h.Reason,
	})
}

func (r *Router) handleSelfRestartCancel(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := r.preserve.Cancel()
	if err != nil {
		if errors.Is(err, selfpreserve.ErrUnknownHandoff) {
			writeError(w, http.StatusNotFound, models.ErrValidation, "no active handoff")
			return
		}
		writeError(w, http.StatusServiceUnavailable, models.ErrPersistenceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cancelled": id})
}

func (r *Router) handleResume(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		HandoffID string `json:"handoff_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.HandoffID == "" {
		writeError(w, http.StatusBadRequest, models.ErrValidation, "handoff_id is required")
		return
	}

	err := r.preserve.Resume(req.Context(), body.HandoffID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
	case errors.Is(err, selfpreserve.ErrUnknownHandoff):
		writeError(w, http.StatusNotFound, models.ErrValidation, err.Error())
	case errors.Is(err, selfpreserve.ErrRestartLoop):
		writeError(w, http.StatusOK, models.ErrRestartLoopExceeded,
			"handoff completed; continuation dropped after too many restarts")
	default:
		writeError(w, http.StatusConflict, models.ErrValidation, err.Error())
	}
}
