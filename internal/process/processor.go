// Package process runs the registry's per-patient process operation behind a
// result cache and a shared sliding-window rate limit.
//
// A cached result is returned without touching the window. A miss reserves a
// window slot first and gives it back if the registry call fails, so only
// successful downstream calls count against the limit.
package process

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	patientModels "patientsync/internal/patient/models"
	"patientsync/internal/process/metrics"
	"patientsync/internal/process/models"
	"patientsync/internal/registry"
	dErrors "patientsync/pkg/domain-errors"
	"patientsync/pkg/requestcontext"
)

const (
	// WindowKey is the single window every process call shares.
	WindowKey = "process_calls"
	// Window is the sliding window length.
	Window = time.Minute

	cacheKeyPrefix = "patient_process:"
	rateLimitedMsg = "Rate limit exceeded. Please try again later."
)

// ResultCache stores successful downstream results.
type ResultCache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// WindowStore counts downstream calls in a sliding window. Reserve must check
// and append atomically.
type WindowStore interface {
	Reserve(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*models.Reservation, error)
	Release(ctx context.Context, key, token string) error
}

// Downstream is the registry operation being memoized.
type Downstream interface {
	ProcessPatient(ctx context.Context, id string, payload any) (json.RawMessage, error)
}

// RateLimitError is returned when the window is full. It unwraps to a
// rate_limited domain error so it renders as 429.
type RateLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return rateLimitedMsg
}

func (e *RateLimitError) Unwrap() error {
	return dErrors.New(dErrors.CodeRateLimited, rateLimitedMsg)
}

// RetryAfter is the whole number of seconds until a slot frees up, at least 1.
func (e *RateLimitError) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(e.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Processor is safe for concurrent use. Identical concurrent misses share one
// downstream call.
type Processor struct {
	downstream Downstream
	cache      ResultCache
	window     WindowStore
	limit      int
	ttl        time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	group      singleflight.Group
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// New builds a Processor allowing limit downstream calls per minute and
// caching results for ttl.
func New(downstream Downstream, cache ResultCache, window WindowStore, limit int, ttl time.Duration, opts ...Option) (*Processor, error) {
	if downstream == nil || cache == nil || window == nil {
		return nil, fmt.Errorf("downstream, cache and window are required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	p := &Processor{
		downstream: downstream,
		cache:      cache,
		window:     window,
		limit:      limit,
		ttl:        ttl,
		logger:     slog.Default(),
		tracer:     otel.Tracer("patientsync/process"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process validates body, then returns the cached or freshly computed result
// of the registry's process operation for patientID.
func (p *Processor) Process(ctx context.Context, patientID string, body json.RawMessage) (json.RawMessage, error) {
	ctx, span := p.tracer.Start(ctx, "process.Process", trace.WithAttributes(attribute.String("patient.id", patientID)))
	defer span.End()

	if strings.TrimSpace(patientID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "patient id is required")
	}
	var req patientModels.ProcessRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, canonical, err := canonicalize(body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	key := CacheKey(patientID, canonical)

	if result, ok := p.lookup(ctx, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return result, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))
	if p.metrics != nil {
		p.metrics.IncrementCacheMiss()
	}

	// the shared call outlives any single caller's cancellation
	shared := context.WithoutCancel(ctx)
	v, err, _ := p.group.Do(key, func() (any, error) {
		return p.callThrough(shared, patientID, key, payload)
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (p *Processor) lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	result, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.WarnContext(ctx, "process cache read failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		return nil, false
	}
	if ok && p.metrics != nil {
		p.metrics.IncrementCacheHit()
	}
	return result, ok
}

func (p *Processor) callThrough(ctx context.Context, patientID, key string, payload map[string]any) (json.RawMessage, error) {
	// a flight that finished just before this one may have filled the cache
	if result, ok := p.lookup(ctx, key); ok {
		return result, nil
	}

	now := requestcontext.Now(ctx)
	res, err := p.window.Reserve(ctx, WindowKey, p.limit, Window, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "rate limiter unavailable")
	}
	if !res.Allowed {
		if p.metrics != nil {
			p.metrics.IncrementRateLimited()
		}
		p.logger.InfoContext(ctx, "process call rate limited",
			"patient_id", patientID,
			"limit", p.limit,
			"reset_at", res.ResetAt,
		)
		return nil, &RateLimitError{Limit: p.limit, ResetAt: res.ResetAt}
	}

	result, err := p.downstream.ProcessPatient(ctx, patientID, payload)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncrementDownstreamFailure()
		}
		if rerr := p.window.Release(ctx, WindowKey, res.Token); rerr != nil {
			p.logger.WarnContext(ctx, "window release failed", "error", rerr)
		} else if p.metrics != nil {
			p.metrics.IncrementRelease()
		}
		p.logger.WarnContext(ctx, "registry process call failed",
			"patient_id", patientID,
			"category", registry.GetCategory(err),
			"error", err,
		)
		return nil, registry.ToDomainError(err, "")
	}

	if err := p.cache.Set(ctx, key, result, p.ttl); err != nil {
		p.logger.WarnContext(ctx, "process cache write failed", "error", err)
	}
	return result, nil
}

// CacheKey is patient_process:<path-escaped id>:<sha256 of canonical payload>.
// Escaping is injective, so distinct ids never share a key.
func CacheKey(patientID string, canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return cacheKeyPrefix + url.PathEscape(patientID) + ":" + hex.EncodeToString(sum[:])
}

// canonicalize decodes body into a generic map and re-encodes it. The encoder
// sorts map keys, so payloads that differ only in key order or whitespace
// share a cache entry.
func canonicalize(body []byte) (map[string]any, []byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, nil, err
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	return payload, canonical, nil
}
