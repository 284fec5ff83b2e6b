package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ = Describe("Enhanced Vision Client", func() {
	var (
		ctx            context.Context
		logger         *zap.Logger
		mockPrimary    *mockClient
		mockFallback   *mockClient
		mredis         *miniredis.Miniredis
		limiter        *RateLimiter
		enhancedClient EnhancedClient
		testReq        ExtractionRequest
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		logger = zap.NewNop()

		mredis, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		rdb := redis.NewClient(&redis.Options{Addr: mredis.Addr()})
		limiter = NewRateLimiter(rdb, 30, time.Minute)

		mockPrimary = newMockClient()
		mockFallback = newMockClient()

		testReq = ExtractionRequest{
			Tenant:   "acme",
			Industry: "auto_parts",
			Kind:     KindSales,
			Columns:  []string{"receipt_number", "customer", "amount"},
		}

		enhancedClient = NewEnhancedClient(mockPrimary, mockFallback, limiter, logger)
	})

	AfterEach(func() {
		if mredis != nil {
			mredis.Close()
		}
	})

	Describe("Extract", func() {
		Context("when the primary result clears every quality gate", func() {
			BeforeEach(func() {
				mockPrimary.result = &ExtractionResult{
					Header:    map[string]interface{}{"receipt_number": "INV-1001"},
					Items:     []ExtractedItem{{Fields: map[string]interface{}{"part": "BRK-4401"}, Confidence: 0.9}},
					Accuracy:  92,
					ModelUsed: "primary-model",
				}
			})

			It("returns the primary result without calling the fallback", func() {
				result, err := enhancedClient.Extract(ctx, testReq)

				Expect(err).NotTo(HaveOccurred())
				Expect(result).NotTo(BeNil())
				Expect(result.ModelUsed).To(Equal("primary-model"))
				Expect(result.FallbackAttempted).To(BeFalse())
				Expect(mockFallback.callCount).To(Equal(0))
			})
		})

		Context("when the primary result fails the accuracy gate", func() {
			BeforeEach(func() {
				mockPrimary.result = &ExtractionResult{
					Header:   map[string]interface{}{"receipt_number": "INV-1001"},
					Items:    []ExtractedItem{{Fields: map[string]interface{}{"part": "BRK-4401"}, Confidence: 0.4}},
					Accuracy: 40,
					Cost:     0.02,
				}
				mockFallback.result = &ExtractionResult{
					Header:    map[string]interface{}{"receipt_number": "INV-1001"},
					Items:     []ExtractedItem{{Fields: map[string]interface{}{"part": "BRK-4401"}, Confidence: 0.95}},
					Accuracy:  95,
					ModelUsed: "fallback-model",
					Cost:      0.3,
				}
			})

			It("escalates to the fallback model and sums the spent cost", func() {
				result, err := enhancedClient.Extract(ctx, testReq)

				Expect(err).NotTo(HaveOccurred())
				Expect(result.ModelUsed).To(Equal("fallback-model"))
				Expect(result.FallbackAttempted).To(BeTrue())
				Expect(mockFallback.callCount).To(Equal(1))
				Expect(result.Cost).To(BeNumerically("~", 0.32, 0.0001))
			})
		})

		Context("when vendor kind is missing the vendor name", func() {
			BeforeEach(func() {
				testReq.Kind = KindVendor
				mockPrimary.result = &ExtractionResult{
					Header:   map[string]interface{}{},
					Items:    []ExtractedItem{{Fields: map[string]interface{}{"part": "BRK-4401"}, Confidence: 0.9}},
					Accuracy: 95,
				}
				mockFallback.result = &ExtractionResult{
					Header:    map[string]interface{}{"vendor_name": "Acme Auto Parts"},
					Accuracy:  95,
					ModelUsed: "fallback-model",
				}
			})

			It("escalates even though accuracy is high", func() {
				result, err := enhancedClient.Extract(ctx, testReq)

				Expect(err).NotTo(HaveOccurred())
				Expect(result.ModelUsed).To(Equal("fallback-model"))
			})
		})

		Context("when the fallback model fails but the primary result is usable", func() {
			BeforeEach(func() {
				mockPrimary.result = &ExtractionResult{
					Header:   map[string]interface{}{"receipt_number": "INV-1001"},
					Items:    []ExtractedItem{{Fields: map[string]interface{}{"part": "BRK-4401"}, Confidence: 0.4}},
					Accuracy: 40,
				}
				mockFallback.err = fmt.Errorf("fallback service unavailable")
			})

			It("returns the primary result tagged with fallback_attempted", func() {
				result, err := enhancedClient.Extract(ctx, testReq)

				Expect(err).NotTo(HaveOccurred())
				Expect(result).NotTo(BeNil())
				Expect(result.FallbackAttempted).To(BeTrue())
				Expect(result.FallbackReason).To(ContainSubstring("fallback model call failed"))
				Expect(result.Accuracy).To(Equal(40.0))
			})
		})

		Context("when the primary model fails entirely", func() {
			BeforeEach(func() {
				mockPrimary.err = fmt.Errorf("vision service temporarily unavailable")
			})

			It("propagates the primary error", func() {
				_, err := enhancedClient.Extract(ctx, testReq)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("vision service temporarily unavailable"))
			})
		})

		Context("when the rate limit is exhausted", func() {
			BeforeEach(func() {
				limiter = NewRateLimiter(redis.NewClient(&redis.Options{Addr: mredis.Addr()}), 1, time.Minute)
				enhancedClient = NewEnhancedClient(mockPrimary, mockFallback, limiter, logger)

				mockPrimary.result = &ExtractionResult{Accuracy: 90, Items: []ExtractedItem{{Confidence: 0.9}}}
			})

			It("allows the first call and rejects the second", func() {
				_, err := enhancedClient.Extract(ctx, testReq)
				Expect(err).NotTo(HaveOccurred())

				_, err = enhancedClient.Extract(ctx, testReq)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("rate limit"))
			})
		})
	})
})

// mockClient is a minimal Client double for enhanced-client tests —
// no network calls, just a canned result or error per test case.
type mockClient struct {
	result    *ExtractionResult
	err       error
	callCount int
	healthy   bool
}

func newMockClient() *mockClient {
	return &mockClient{healthy: true}
}

func (m *mockClient) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error) {
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockClient) IsHealthy() bool {
	return m.healthy
}
