package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"patientsync/internal/patient/models"
	"patientsync/internal/platform/metrics"
	"patientsync/internal/platform/middleware"
	"patientsync/internal/process"
	dErrors "patientsync/pkg/domain-errors"
	"patientsync/pkg/platform/httputil"
	"patientsync/pkg/platform/middleware/requesttime"
	"patientsync/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// Service defines the patient lifecycle operations.
type Service interface {
	List(ctx context.Context, page int) (*models.UnifiedPage, error)
	Stats(ctx context.Context, page int) (*models.Stats, error)
	Get(ctx context.Context, id string, kind models.IDKind) (*models.Patient, error)
	Create(ctx context.Context, req models.CreatePatientRequest) (*models.CreateResult, error)
	Delete(ctx context.Context, id string) (*models.DeleteResult, error)
	Copy(ctx context.Context, thirdPartyID string) (*models.Patient, error)
}

// Processor runs the cached, rate-limited registry process call.
type Processor interface {
	Process(ctx context.Context, patientID string, body json.RawMessage) (json.RawMessage, error)
}

// Handler serves the /patients endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Service
	processor Processor
	metrics   *metrics.Metrics
	timeout   time.Duration
}

// New creates a patient Handler. metrics may be nil.
func New(service Service, processor Processor, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		processor: processor,
		metrics:   metrics,
		timeout:   40 * time.Second,
	}
}

// Register mounts the patient routes on r.
func (h *Handler) Register(r chi.Router) {
	patientRouter := chi.NewRouter()
	patientRouter.Use(middleware.Recovery(h.logger))
	patientRouter.Use(middleware.RequestID)
	patientRouter.Use(requesttime.Middleware)
	patientRouter.Use(middleware.Logger(h.logger))
	patientRouter.Use(middleware.Timeout(h.timeout))
	patientRouter.Use(middleware.ContentTypeJSON)
	patientRouter.Use(middleware.LatencyMiddleware(h.metrics))

	patientRouter.Get("/patients", h.handleList)
	patientRouter.Post("/patients", h.handleCreate)
	patientRouter.Get("/patients/stats", h.handleStats)
	patientRouter.Get("/patients/{id}", h.handleGet)
	patientRouter.Delete("/patients/{id}", h.handleDelete)
	patientRouter.Post("/patients/{id}/process", h.handleProcess)
	patientRouter.Post("/patients/{id}/copy", h.handleCopy)

	r.Mount("/", patientRouter)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.List(r.Context(), page)
	if err != nil {
		h.writeError(w, r, "failed to list patients", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Stats(r.Context(), page)
	if err != nil {
		h.writeError(w, r, "failed to compute stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseIDKind(r.URL.Query().Get("kind"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), kind)
	if err != nil {
		h.writeError(w, r, "failed to get patient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePatientRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(r.Context(), "invalid create patient request",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	res, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "failed to create patient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "failed to delete patient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Copy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "failed to copy patient", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	res, err := h.processor.Process(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		var rle *process.RateLimitError
		if errors.As(err, &rle) {
			w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfter(requestcontext.Now(r.Context()))))
		}
		h.writeError(w, r, "failed to process patient", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res)
}

// writeError logs server-side failures and renders err.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if dErrors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg,
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

// parsePage reads ?page; absent means 1.
func parsePage(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, dErrors.New(dErrors.CodeValidation, "page must be a positive integer")
	}
	return page, nil
}
