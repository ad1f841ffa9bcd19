// ABOUTME: HTTP handlers for the hikmaai-lens API
// ABOUTME: Synchronous and async content scans, job polling and listing, signatures, health and stats

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/amsi"
	"github.com/hikmaai-io/hikmaai-lens/internal/classifier"
	"github.com/hikmaai-io/hikmaai-lens/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-lens/internal/engine"
	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
	"github.com/hikmaai-io/hikmaai-lens/internal/scanner"
	"github.com/hikmaai-io/hikmaai-lens/internal/types"
)

// DefaultMaxBodySize caps scan request bodies.
const DefaultMaxBodySize = 16 << 20

// UpdateStatusProvider reports signature feed update state.
// *dbupdater.Scheduler satisfies it.
type UpdateStatusProvider interface {
	Status() map[string]*dbupdater.UpdaterStatus
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	engine      *engine.Engine
	jobStore    *engine.JobStore
	worker      *scanner.Worker
	health      *scanner.HealthChecker
	updates     UpdateStatusProvider
	maxBodySize int64
}

// HandlerConfig holds configuration for API handlers.
// Only Engine is required.
type HandlerConfig struct {
	Engine        *engine.Engine
	JobStore      *engine.JobStore
	Worker        *scanner.Worker
	HealthChecker *scanner.HealthChecker
	Updates       UpdateStatusProvider
	MaxBodySize   int64
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	return &Handler{
		engine:      cfg.Engine,
		jobStore:    cfg.JobStore,
		worker:      cfg.Worker,
		health:      cfg.HealthChecker,
		updates:     cfg.Updates,
		maxBodySize: cfg.MaxBodySize,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/scan", h.HandleScan)
	mux.HandleFunc("GET /api/v1/jobs", h.HandleListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.HandleGetJob)
	mux.HandleFunc("GET /api/v1/signatures", h.HandleListSignatures)
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
	mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
}

// scanBody is the JSON form of a scan request. Content wins over Text;
// Text is scanned as UTF-16LE.
type scanBody struct {
	Content     []byte  `json:"content"`
	Text        *string `json:"text"`
	ContentName string  `json:"content_name"`
	AppName     string  `json:"app_name"`
}

// HandleScan classifies the request body.
// POST /api/v1/scan
//
// A JSON body carries base64 content or text. Any other content type is
// scanned as raw bytes, with content_name and app_name taken from the query.
// With ?async=true the scan is queued and 202 is returned with the job ID.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	req, err := h.readScanRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, observability.CodeInvalidArgument,
				fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeScanError(w, err)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.submit(w, r, req)
		return
	}

	req.Channel = "http"
	result, err := h.engine.Scan(r.Context(), req)
	if err != nil {
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result":     result,
		"is_malware": result.IsMalware(),
	})
}

func (h *Handler) readScanRequest(r *http.Request) (types.ScanRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		content, err := io.ReadAll(r.Body)
		if err != nil {
			return types.ScanRequest{}, err
		}
		q := r.URL.Query()
		return types.ScanRequest{
			Content:     content,
			ContentName: q.Get("content_name"),
			AppName:     q.Get("app_name"),
		}, nil
	}

	var body scanBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.ScanRequest{}, err
		}
		return types.ScanRequest{}, observability.InvalidArgument("api.scan", fmt.Errorf("invalid request body: %w", err))
	}

	req := types.ScanRequest{ContentName: body.ContentName, AppName: body.AppName}
	switch {
	case body.Content != nil:
		req.Content = body.Content
	case body.Text != nil:
		encoded, err := amsi.EncodeUTF16LE(*body.Text)
		if err != nil {
			return types.ScanRequest{}, observability.InvalidArgument("api.scan", err)
		}
		req.Content = encoded
	default:
		return types.ScanRequest{}, observability.InvalidArgument("api.scan", classifier.ErrInvalidArgument)
	}
	return req, nil
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req types.ScanRequest) {
	if h.worker == nil {
		writeError(w, http.StatusServiceUnavailable, observability.CodeInternal, "async scanning is not enabled")
		return
	}

	job, err := h.worker.Submit(r.Context(), req.Content, scanner.JobMeta{
		ContentName: req.ContentName,
		AppName:     req.AppName,
	})
	switch {
	case errors.Is(err, scanner.ErrQueueFull), errors.Is(err, scanner.ErrWorkerStopped):
		writeError(w, http.StatusServiceUnavailable, observability.CodeInternal, err.Error())
		return
	case err != nil:
		writeScanError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       job.ID,
		"status":       job.Status,
		"content_hash": job.ContentHash,
		"content_size": job.ContentSize,
	})
}

// HandleGetJob handles job status polling.
// GET /api/v1/jobs/{id}
func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobStore == nil {
		writeError(w, http.StatusServiceUnavailable, observability.CodeInternal, "async scanning is not enabled")
		return
	}

	job, err := h.jobStore.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, observability.CodeStoreFailed, fmt.Sprintf("getting job: %v", err))
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, observability.CodeNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// Listing bounds for GET /api/v1/jobs.
const (
	defaultJobListLimit = 100
	maxJobListLimit     = 1000
)

// HandleListJobs lists jobs newest first.
// GET /api/v1/jobs?status=failed,completed&limit=50
func (h *Handler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobStore == nil {
		writeError(w, http.StatusServiceUnavailable, observability.CodeInternal, "async scanning is not enabled")
		return
	}

	filter := engine.JobFilter{Limit: defaultJobListLimit}
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, observability.CodeInvalidArgument, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxJobListLimit)
	}
	if raw := q.Get("status"); raw != "" {
		for name := range strings.SplitSeq(raw, ",") {
			st := types.JobStatus(strings.TrimSpace(name))
			if st.String() == "unknown" {
				writeError(w, http.StatusBadRequest, observability.CodeInvalidArgument, fmt.Sprintf("unknown job status %q", name))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	jobs, err := h.jobStore.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, observability.CodeStoreFailed, fmt.Sprintf("listing jobs: %v", err))
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// signatureView omits the pattern so the API cannot be used to
// enumerate what evades detection.
type signatureView struct {
	Name     string         `json:"name"`
	Strength types.Strength `json:"strength"`
	Category types.Category `json:"category,omitempty"`
	Source   string         `json:"source,omitempty"`
}

// HandleListSignatures lists the active signature set without patterns.
// GET /api/v1/signatures
func (h *Handler) HandleListSignatures(w http.ResponseWriter, r *http.Request) {
	store := h.engine.Signatures()

	views := make([]signatureView, 0, store.Len())
	for sig := range store.Entries() {
		views = append(views, signatureView{
			Name:     sig.Name,
			Strength: sig.Strength,
			Category: sig.Category,
			Source:   sig.Source,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fingerprint": store.Fingerprint(),
		"version":     store.Version(),
		"count":       store.Len(),
		"signatures":  views,
	})
}

// HandleHealth handles health check requests.
// GET /api/v1/health
//
// Responds 503 while any registered dependency is unhealthy.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := map[string]any{
		"signatures": fmt.Sprintf("ok (count: %d)", h.engine.Signatures().Len()),
	}

	if h.jobStore != nil {
		count, err := h.jobStore.Count(r.Context())
		if err != nil {
			status = "degraded"
			checks["job_store"] = fmt.Sprintf("error: %v", err)
		} else {
			checks["job_store"] = fmt.Sprintf("ok (jobs: %d)", count)
		}
	}

	if h.worker != nil {
		stats := h.worker.Stats()
		checks["worker"] = fmt.Sprintf("ok (queue: %d/%d)", stats.QueueDepth, stats.QueueCapacity)
	}

	if h.health != nil {
		checks["dependencies"] = h.health.Statuses()
		if !h.health.Healthy() {
			status = "degraded"
		}
	}

	if h.updates != nil {
		if updates := h.updates.Status(); len(updates) > 0 {
			checks["updates"] = updates
		}
	}

	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// HandleStats reports engine and worker counters.
// GET /api/v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"engine": h.engine.Stats()}
	if h.worker != nil {
		out["worker"] = h.worker.Stats()
	}
	writeJSON(w, http.StatusOK, out)
}

// writeScanError maps scan failures to status codes. Caller input errors
// become 400 INVALID_ARGUMENT.
func writeScanError(w http.ResponseWriter, err error) {
	if errors.Is(err, classifier.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, observability.CodeInvalidArgument, err.Error())
		return
	}
	if ec, ok := observability.AsErrorContext(err); ok {
		writeError(w, ec.Category.HTTPStatus(), ec.Code, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, observability.CodeInternal, err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
