// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments; its mutex-guarded maps make the consume and rotate
// operations linearizable.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/halcyonlabs/oauthcore/instrumentation"
	"github.com/halcyonlabs/oauthcore/storage"
)

const (
	// defaultCleanupInterval is how often the background sweep runs.
	defaultCleanupInterval = time.Minute

	// defaultRevokedRetention is how long revoked token records are kept
	// after revocation. Introspection of a revoked token reports inactive
	// either way; the retained record feeds audit and forensics.
	defaultRevokedRetention = 24 * time.Hour
)

// Store is an in-memory implementation of all storage interfaces.
// Token and code records are keyed by fingerprint, and the stored copies
// carry no raw credential strings, so a memory dump yields no usable
// bearer tokens.
type Store struct {
	mu sync.RWMutex

	clients  map[string]*storage.Client                  // client ID -> client
	codes    map[string]*storage.AuthorizationCodeRecord // code fingerprint -> record
	tokens   map[string]*storage.TokenRecord             // token fingerprint -> record
	lineages map[string][]string                         // lineage ID -> token fingerprints

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during collection)
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64
	tokensCountAtomic  atomic.Int64

	// Cleanup
	cleanupInterval  time.Duration
	revokedRetention time.Duration
	stopCleanup      chan struct{}
	stopOnce         sync.Once
	logger           *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.TokenStore             = (*Store)(nil)
	_ storage.Store                  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(defaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		clients:          make(map[string]*storage.Client),
		codes:            make(map[string]*storage.AuthorizationCodeRecord),
		tokens:           make(map[string]*storage.TokenRecord),
		lineages:         make(map[string][]string),
		tracer:           tracenoop.NewTracerProvider().Tracer(""),
		cleanupInterval:  cleanupInterval,
		revokedRetention: defaultRevokedRetention,
		stopCleanup:      make(chan struct{}),
		logger:           slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetRevokedRetention sets how long revoked token records are retained.
func (s *Store) SetRevokedRetention(d time.Duration) {
	if d > 0 {
		s.revokedRetention = d
	}
}

// SetInstrumentation attaches OpenTelemetry instrumentation and registers
// the storage size gauges backed by the atomic counters.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStoreSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// startStorageSpan starts a trace span for a storage operation.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets
// span status.
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if s.instrumentation == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	result := "success"
	if err != nil {
		result = "error"
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired codes, expired tokens, and revoked tokens past
// the retention window. Consumed codes stay until expiry so a replay
// inside the code's lifetime still triggers reuse detection.
func (s *Store) cleanup() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var codesRemoved, tokensRemoved int

	for fp, rec := range s.codes {
		if now.After(rec.ExpiresAt) {
			delete(s.codes, fp)
			codesRemoved++
		}
	}

	for fp, rec := range s.tokens {
		expired := !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt)
		revokedLongAgo := rec.Revoked && now.Sub(rec.RevokedAt) > s.revokedRetention
		if expired || revokedLongAgo {
			s.removeTokenLocked(fp, rec)
			tokensRemoved++
		}
	}

	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))

	if codesRemoved > 0 || tokensRemoved > 0 {
		s.logger.Debug("Storage cleanup completed",
			"codes_removed", codesRemoved,
			"tokens_removed", tokensRemoved)
	}
}

// removeTokenLocked deletes a token record and prunes its lineage index
// entry. Caller holds the write lock.
func (s *Store) removeTokenLocked(fp string, rec *storage.TokenRecord) {
	delete(s.tokens, fp)
	if rec.LineageID == "" {
		return
	}
	members := s.lineages[rec.LineageID]
	for i, m := range members {
		if m == fp {
			s.lineages[rec.LineageID] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(s.lineages[rec.LineageID]) == 0 {
		delete(s.lineages, rec.LineageID)
	}
}
