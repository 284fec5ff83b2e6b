package vision

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("computeCost", func() {
	DescribeTable("pricing by model tier",
		func(inputTokens, outputTokens int, modelUsed string, expected float64) {
			Expect(computeCost(inputTokens, outputTokens, modelUsed)).To(Equal(expected))
		},
		Entry("fast tier (flash)",
			1000, 500, "gemini-3-flash", 0.0189),
		Entry("fast tier (haiku) matches case-insensitively",
			1000, 500, "Claude-3-5-HAIKU", 0.0189),
		Entry("strong tier (pro) is the default for anything else",
			1000, 500, "gemini-3-pro", 0.315),
		Entry("zero tokens costs nothing",
			0, 0, "gemini-3-flash", 0),
	)
})
