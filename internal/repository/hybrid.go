package repository

import (
	"context"
	"sync/atomic"

	"github.com/condohub/condochat/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/condohub/condochat/internal/repository"

// DegradeLatch records whether the primary store has been given up on.
// It only moves from healthy to degraded; there is no way back.
type DegradeLatch struct {
	degraded atomic.Bool
}

// NewDegradeLatch returns a latch in the healthy state
func NewDegradeLatch() *DegradeLatch {
	return &DegradeLatch{}
}

// Degraded reports whether the latch has tripped
func (l *DegradeLatch) Degraded() bool {
	return l.degraded.Load()
}

// Trip sets the latch and reports whether this call made the transition
func (l *DegradeLatch) Trip() bool {
	return l.degraded.CompareAndSwap(false, true)
}

// DegradePolicy decides whether a primary error abandons the primary
type DegradePolicy func(err error) bool

// DegradeOnAny gives up on the primary after any error
func DegradeOnAny(err error) bool {
	return err != nil
}

// DegradeOnConnectivity gives up on the primary only when it looks unreachable.
// Other errors are returned to the caller and the primary stays in use.
func DegradeOnConnectivity(err error) bool {
	return IsConnectivityError(err)
}

// HybridOption configures a HybridStore
type HybridOption func(*HybridStore)

// WithLatch shares or pre-seeds the degrade state
func WithLatch(latch *DegradeLatch) HybridOption {
	return func(h *HybridStore) {
		h.latch = latch
	}
}

// WithDegradePolicy overrides which primary errors trigger the fallback
func WithDegradePolicy(policy DegradePolicy) HybridOption {
	return func(h *HybridStore) {
		h.policy = policy
	}
}

// WithLogger sets the logger used for primary failures
func WithLogger(logger *zap.Logger) HybridOption {
	return func(h *HybridStore) {
		h.logger = logger
	}
}

// HybridStore serves the ChatStore contract from a primary store and
// switches permanently to a fallback store the first time the primary fails.
//
// Once degraded, the primary is never called again for the lifetime of the
// HybridStore. Callers see either a result from whichever store served the
// call or the fallback's error.
type HybridStore struct {
	primary  ChatStore
	fallback ChatStore
	latch    *DegradeLatch
	policy   DegradePolicy
	logger   *zap.Logger

	operations  metric.Int64Counter
	transitions metric.Int64Counter
}

// NewHybridStore wraps primary and fallback behind a single ChatStore
func NewHybridStore(primary, fallback ChatStore, opts ...HybridOption) *HybridStore {
	h := &HybridStore{
		primary:  primary,
		fallback: fallback,
		latch:    NewDegradeLatch(),
		policy:   DegradeOnAny,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}

	meter := otel.Meter(instrumentationName)
	// Instrument creation only fails on invalid names; the returned
	// instruments are usable no-ops in that case.
	h.operations, _ = meter.Int64Counter("chatstore.operations",
		metric.WithDescription("Store operations by serving backend"))
	h.transitions, _ = meter.Int64Counter("chatstore.degrade.transitions",
		metric.WithDescription("Switches from the primary to the fallback store"))

	return h
}

// Degraded reports whether calls are being served by the fallback store
func (h *HybridStore) Degraded() bool {
	return h.latch.Degraded()
}

// route runs call against the primary unless degraded, falling back on
// failure. onFallback, when set, runs before the fallback call on the
// transition path only.
func route[T any](ctx context.Context, h *HybridStore, op string, call func(ChatStore) (T, error), onFallback func(context.Context)) (T, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "chatstore."+op)
	defer span.End()

	if !h.latch.Degraded() {
		result, err := call(h.primary)
		if err == nil {
			h.record(ctx, op, "primary")
			span.SetAttributes(attribute.String("store", "primary"))
			return result, nil
		}
		if !h.policy(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}

		if h.latch.Trip() {
			h.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
			h.logger.Warn("primary store failed, switching to fallback store",
				zap.String("op", op),
				zap.Error(err),
			)
		} else {
			h.logger.Warn("primary store failed after degrade",
				zap.String("op", op),
				zap.Error(err),
			)
		}
		span.AddEvent("degraded")
		if onFallback != nil {
			onFallback(ctx)
		}
	}

	result, err := call(h.fallback)
	h.record(ctx, op, "fallback")
	span.SetAttributes(attribute.String("store", "fallback"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (h *HybridStore) record(ctx context.Context, op, store string) {
	h.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("store", store),
	))
}

// exec adapts error-only operations to route
func exec(ctx context.Context, h *HybridStore, op string, call func(ChatStore) error, onFallback func(context.Context)) error {
	_, err := route(ctx, h, op, func(s ChatStore) (struct{}, error) {
		return struct{}{}, call(s)
	}, onFallback)
	return err
}

func (h *HybridStore) SaveSession(ctx context.Context, session *domain.ChatSession) error {
	return exec(ctx, h, "SaveSession", func(s ChatStore) error {
		return s.SaveSession(ctx, session)
	}, nil)
}

func (h *HybridStore) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	return route(ctx, h, "GetSession", func(s ChatStore) (*domain.ChatSession, error) {
		return s.GetSession(ctx, id)
	}, nil)
}

func (h *HybridStore) GetUserSessions(ctx context.Context, userID, companyID string) ([]*domain.ChatSession, error) {
	return route(ctx, h, "GetUserSessions", func(s ChatStore) ([]*domain.ChatSession, error) {
		return s.GetUserSessions(ctx, userID, companyID)
	}, nil)
}

func (h *HybridStore) UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) (*domain.ChatSession, error) {
	return route(ctx, h, "UpdateSession", func(s ChatStore) (*domain.ChatSession, error) {
		return s.UpdateSession(ctx, id, update)
	}, nil)
}

func (h *HybridStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	return route(ctx, h, "DeleteSession", func(s ChatStore) (bool, error) {
		return s.DeleteSession(ctx, id)
	}, nil)
}

// AddMessage appends a message. When the primary fails on this call, the
// session is copied from the primary into the fallback (if the primary can
// still serve it) so the message does not land without its parent.
func (h *HybridStore) AddMessage(ctx context.Context, sessionID string, message *domain.ChatMessage) error {
	return exec(ctx, h, "AddMessage", func(s ChatStore) error {
		return s.AddMessage(ctx, sessionID, message)
	}, func(ctx context.Context) {
		h.syncSessionToFallback(ctx, sessionID)
	})
}

func (h *HybridStore) syncSessionToFallback(ctx context.Context, sessionID string) {
	session, err := h.primary.GetSession(ctx, sessionID)
	if err != nil {
		h.logger.Warn("could not read session from primary store for fallback sync",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	if session == nil {
		return
	}
	if err := h.fallback.SaveSession(ctx, session); err != nil {
		h.logger.Warn("could not copy session into fallback store",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

func (h *HybridStore) GetMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	return route(ctx, h, "GetMessages", func(s ChatStore) ([]domain.ChatMessage, error) {
		return s.GetMessages(ctx, sessionID)
	}, nil)
}

func (h *HybridStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (*domain.ChatMessage, error) {
	return route(ctx, h, "UpdateMessage", func(s ChatStore) (*domain.ChatMessage, error) {
		return s.UpdateMessage(ctx, sessionID, messageID, update)
	}, nil)
}

func (h *HybridStore) ClearMessages(ctx context.Context, sessionID string) error {
	return exec(ctx, h, "ClearMessages", func(s ChatStore) error {
		return s.ClearMessages(ctx, sessionID)
	}, nil)
}

func (h *HybridStore) SearchSessions(ctx context.Context, userID, companyID, query string) ([]*domain.ChatSession, error) {
	return route(ctx, h, "SearchSessions", func(s ChatStore) ([]*domain.ChatSession, error) {
		return s.SearchSessions(ctx, userID, companyID, query)
	}, nil)
}

func (h *HybridStore) GetSessionStats(ctx context.Context, sessionID string) (*domain.SessionStats, error) {
	return route(ctx, h, "GetSessionStats", func(s ChatStore) (*domain.SessionStats, error) {
		return s.GetSessionStats(ctx, sessionID)
	}, nil)
}
