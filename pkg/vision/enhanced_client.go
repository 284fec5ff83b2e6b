package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Quality gate thresholds (spec step 3): escalation fires below these
// even when the aggregate accuracy clears 70.
const (
	receiptNumberConfidenceFloor = 50.0
	imageConfidenceFloor         = 70.0
	accuracyEscalationFloor      = 70.0
)

// EnhancedClient wraps the primary/fallback model pair with the
// quality-gate escalation decision, a circuit breaker per model path,
// and a shared rate limiter.
type EnhancedClient interface {
	Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error)
}

type enhancedClient struct {
	primary         Client
	fallback        Client
	logger          *zap.Logger
	limiter         *RateLimiter
	primaryBreaker  *gobreaker.CircuitBreaker
	fallbackBreaker *gobreaker.CircuitBreaker
}

// NewEnhancedClient builds the escalation-aware client from an already
// constructed primary (fast, cfg.Provider) and fallback (stronger)
// Client, wiring one circuit breaker per path and the shared rate
// limiter.
func NewEnhancedClient(primary, fallback Client, limiter *RateLimiter, logger *zap.Logger) EnhancedClient {
	breakerSettings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}
	}

	return &enhancedClient{
		primary:         primary,
		fallback:        fallback,
		logger:          logger,
		limiter:         limiter,
		primaryBreaker:  gobreaker.NewCircuitBreaker(breakerSettings("vision-primary")),
		fallbackBreaker: gobreaker.NewCircuitBreaker(breakerSettings("vision-fallback")),
	}
}

// Extract runs the full spec.md §4.6 algorithm: primary call, quality
// gates, conditional escalation, and the fallback-failed-but-primary-
// usable tagging behavior.
func (e *enhancedClient) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	if err := e.limiter.Allow(ctx); err != nil {
		return nil, fmt.Errorf("vision rate limit exceeded: %w", err)
	}

	primaryResult, err := e.callPrimary(ctx, req)
	if err != nil {
		return nil, err
	}

	if !needsEscalation(primaryResult, req.Kind) {
		return primaryResult, nil
	}

	fallbackResult, err := e.callFallback(ctx, req)
	if err == nil && fallbackResult == nil {
		err = fmt.Errorf("fallback model returned no result")
	}
	if err != nil {
		if primaryResult != nil {
			primaryResult.FallbackAttempted = true
			primaryResult.FallbackReason = fmt.Sprintf("fallback model call failed: %s; using primary result", err)
			return primaryResult, nil
		}
		return nil, fmt.Errorf("fallback model call failed and no primary result to fall back to: %w", err)
	}

	// Escalation spends both calls' budget: the reported cost is the sum
	// of the primary attempt and the fallback that replaced it.
	fallbackResult.Cost += primaryResult.Cost
	fallbackResult.FallbackAttempted = true
	fallbackResult.FallbackReason = "escalated: primary result failed one or more quality gates"
	if fallbackResult.CombinedBoundingBox == nil {
		fallbackResult.CombinedBoundingBox = primaryResult.CombinedBoundingBox
	}
	return fallbackResult, nil
}

func (e *enhancedClient) callPrimary(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	result, err := e.primaryBreaker.Execute(func() (interface{}, error) {
		return e.primary.Extract(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("primary model call failed: %w", err)
	}
	return result.(*ExtractionResult), nil
}

func (e *enhancedClient) callFallback(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	result, err := e.fallbackBreaker.Execute(func() (interface{}, error) {
		return e.fallback.Extract(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ExtractionResult), nil
}

// needsEscalation applies the quality gates from spec step 3: missing
// vendor name on vendor kind, all-placeholder items, or a critical
// header field below its confidence floor. Low confidence on the date
// field alone never triggers escalation.
func needsEscalation(result *ExtractionResult, kind ExtractionKind) bool {
	if result.Accuracy < accuracyEscalationFloor {
		return true
	}

	if kind == KindVendor {
		if name, ok := result.Header["vendor_name"].(string); !ok || name == "" {
			return true
		}
	}

	if allItemsEmpty(result.Items) {
		return true
	}

	if conf, ok := result.Header["receipt_number_confidence"].(float64); ok && conf < receiptNumberConfidenceFloor {
		return true
	}
	if conf, ok := result.Header["image_confidence"].(float64); ok && conf < imageConfidenceFloor {
		return true
	}

	return false
}

func allItemsEmpty(items []ExtractedItem) bool {
	if len(items) == 0 {
		return true
	}
	for _, item := range items {
		for _, v := range item.Fields {
			if s, ok := v.(string); ok && s != "" && s != "N/A" {
				return false
			}
			if _, ok := v.(string); !ok && v != nil {
				return false
			}
		}
	}
	return true
}

// RateLimiter is a fixed-window counter backed by Redis INCR+EXPIRE so
// multiple process replicas share one budget: the first request of a
// window sets the key's expiry, and requests beyond limit fail until
// the key expires. It does not refill gradually as a token bucket
// does, and every tenant counts against the same key.
type RateLimiter struct {
	rdb        *redis.Client
	limit      int
	window     time.Duration
	keyPrefix  string
}

// NewRateLimiter builds a RateLimiter against an already-connected
// Redis client with the given requests-per-window budget.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window, keyPrefix: "vision:ratelimit:"}
}

// Allow increments the current window's shared counter and returns
// an error once the budget for this window is exhausted.
func (r *RateLimiter) Allow(ctx context.Context) error {
	key := r.keyPrefix + "global"

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate limiter unavailable: %w", err)
	}
	if count == 1 {
		r.rdb.Expire(ctx, key, r.window)
	}
	if count > int64(r.limit) {
		return fmt.Errorf("exceeded %d requests per %s", r.limit, r.window)
	}
	return nil
}
