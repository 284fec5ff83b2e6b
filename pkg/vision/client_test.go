package vision

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
)

var _ = Describe("Vision Client", func() {
	var logger *zap.Logger

	BeforeEach(func() {
		logger = zap.NewNop()
	})

	Describe("NewClient", func() {
		DescribeTable("creating new client",
			func(cfg config.VisionConfig, expectErr bool, errString string) {
				c, err := NewClient(cfg, logger)

				if expectErr {
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring(errString))
					Expect(c).To(BeNil())
				} else {
					Expect(err).ToNot(HaveOccurred())
					Expect(c).ToNot(BeNil())
					var clientInterface Client = c
					Expect(clientInterface).ToNot(BeNil())
				}
			},
			Entry("valid anthropic config",
				config.VisionConfig{
					Provider: "anthropic",
					Endpoint: "https://api.anthropic.com",
					Model:    "claude-3-5-sonnet",
				},
				false,
				"",
			),
			Entry("invalid provider",
				config.VisionConfig{
					Provider: "invalid",
					Endpoint: "http://localhost:8080",
					Model:    "test-model",
				},
				true,
				"unsupported provider: invalid",
			),
		)
	})

	Describe("Template Constants", func() {
		Describe("promptTemplate", func() {
			It("should have the correct number of format placeholders", func() {
				placeholders := strings.Count(promptTemplate, "%s") + strings.Count(promptTemplate, "%v")
				Expect(placeholders).To(Equal(8), "promptTemplate should have exactly 8 format placeholders")
			})

			It("should not contain unescaped percentage signs", func() {
				unescapedPatterns := []string{"70% ", "90%+", "95% "}

				for _, pattern := range unescapedPatterns {
					if strings.Contains(promptTemplate, pattern) {
						Fail("Found unescaped percentage pattern: " + pattern + " (should be escaped as %%)")
					}
				}
			})

			It("should contain essential prompt sections", func() {
				Expect(promptTemplate).To(ContainSubstring("<|system|>"))
				Expect(promptTemplate).To(ContainSubstring("<|user|>"))
				Expect(promptTemplate).To(ContainSubstring("<|assistant|>"))
				Expect(promptTemplate).To(ContainSubstring("CRITICAL DECISION RULES"))
				Expect(promptTemplate).To(ContainSubstring("AVAILABLE ACTIONS"))
				Expect(promptTemplate).To(ContainSubstring("confidence"))
			})
		})
	})

	Describe("Prompt Generation", func() {
		var testReq ExtractionRequest

		BeforeEach(func() {
			testReq = ExtractionRequest{
				Tenant:   "acme",
				Industry: "auto_parts",
				Kind:     KindSales,
				Columns:  []string{"receipt_number", "customer", "amount"},
			}
		})

		Describe("generatePrompt", func() {
			It("should generate a basic prompt without errors", func() {
				prompt := generatePrompt(testReq)

				Expect(prompt).ToNot(BeEmpty())
				Expect(prompt).To(ContainSubstring("acme"))
				Expect(prompt).To(ContainSubstring("auto_parts"))
				Expect(prompt).To(ContainSubstring("sales"))
			})

			It("should not contain stray format placeholders in output", func() {
				prompt := generatePrompt(testReq)

				Expect(prompt).ToNot(ContainSubstring("%!s"))
				Expect(prompt).ToNot(ContainSubstring("%!v"))
			})
		})
	})
})
