package validation

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Validation", func() {
	Describe("ValidateLineReference", func() {
		Context("with valid line reference", func() {
			It("should pass validation", func() {
				ref := LineReference{
					Tenant:     "acme",
					PartNumber: "BRK-4401",
					RowID:      "INV-1001_0",
				}

				err := ValidateLineReference(ref)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when tenant is invalid", func() {
			Context("when tenant is empty", func() {
				It("should return validation error", func() {
					ref := LineReference{Tenant: "", PartNumber: "BRK-4401", RowID: "INV-1001_0"}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("tenant is required"))
				})
			})

			Context("when tenant is too long", func() {
				It("should return validation error", func() {
					ref := LineReference{
						Tenant:     strings.Repeat("a", 64),
						PartNumber: "BRK-4401",
						RowID:      "INV-1001_0",
					}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("tenant must be 63 characters or less"))
				})
			})

			Context("when tenant has invalid characters", func() {
				It("should return validation error for uppercase", func() {
					ref := LineReference{Tenant: "Acme", PartNumber: "BRK-4401", RowID: "INV-1001_0"}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("tenant must be a valid slug"))
				})

				It("should return validation error for special characters", func() {
					ref := LineReference{Tenant: "acme_corp", PartNumber: "BRK-4401", RowID: "INV-1001_0"}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("tenant must be a valid slug"))
				})
			})
		})

		Context("when part number is invalid", func() {
			Context("when part number is empty", func() {
				It("should return validation error", func() {
					ref := LineReference{Tenant: "acme", PartNumber: "", RowID: "INV-1001_0"}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("part number is required"))
				})
			})

			Context("when part number is too long", func() {
				It("should return validation error", func() {
					longPart := strings.Repeat("A", 101)
					ref := LineReference{Tenant: "acme", PartNumber: longPart, RowID: "INV-1001_0"}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("part number must be 100 characters or less"))
				})
			})

			Context("when part number has invalid format", func() {
				It("should return validation error for lowercase start", func() {
					ref := LineReference{Tenant: "acme", PartNumber: "brk-4401", RowID: "INV-1001_0"}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("part number must be uppercase alphanumeric"))
				})

				It("should return validation error for special characters", func() {
					ref := LineReference{Tenant: "acme", PartNumber: "BRK 4401", RowID: "INV-1001_0"}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("part number must be uppercase alphanumeric"))
				})
			})
		})

		Context("when row id is invalid", func() {
			Context("when row id is empty", func() {
				It("should return validation error", func() {
					ref := LineReference{Tenant: "acme", PartNumber: "BRK-4401", RowID: ""}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("row id is required"))
				})
			})

			Context("when row id is too long", func() {
				It("should return validation error", func() {
					longRowID := strings.Repeat("a", 254)
					ref := LineReference{Tenant: "acme", PartNumber: "BRK-4401", RowID: longRowID}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("row id must be 253 characters or less"))
				})
			})

			Context("when row id has invalid characters", func() {
				It("should return validation error", func() {
					ref := LineReference{Tenant: "acme", PartNumber: "BRK-4401", RowID: "INV 1001"}

					err := ValidateLineReference(ref)
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("row id must contain only letters, digits, underscores, and hyphens"))
				})
			})
		})

		Context("with multiple validation errors", func() {
			It("should return combined validation errors", func() {
				ref := LineReference{Tenant: "", PartNumber: "", RowID: ""}

				err := ValidateLineReference(ref)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("tenant is required"))
				Expect(err.Error()).To(ContainSubstring("part number is required"))
				Expect(err.Error()).To(ContainSubstring("row id is required"))
			})
		})
	})

	Describe("ValidateStringInput", func() {
		Context("with valid input", func() {
			It("should pass validation", func() {
				err := ValidateStringInput("field", "validinput123", 100)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when input is too long", func() {
			It("should return validation error", func() {
				err := ValidateStringInput("field", "toolong", 5)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be 5 characters or less"))
			})
		})

		Context("when input contains SQL injection patterns", func() {
			It("should detect UNION attacks", func() {
				err := ValidateStringInput("field", "'; UNION SELECT * FROM users --", 100)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})

			It("should detect script injection", func() {
				err := ValidateStringInput("field", "<script>alert('xss')</script>", 100)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})

			It("should detect SQL comments", func() {
				err := ValidateStringInput("field", "input-- comment", 100)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})
		})

		Context("when input contains control characters", func() {
			It("should detect control characters", func() {
				controlChar := string(rune(0x01))
				err := ValidateStringInput("field", "input"+controlChar, 100)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains invalid control characters"))
			})

			It("should allow valid whitespace", func() {
				err := ValidateStringInput("field", "input\twith\nlines\r", 100)
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("ValidateTaskStatus", func() {
		Context("with valid task statuses", func() {
			validStatuses := []string{
				"queued",
				"uploading",
				"processing",
				"duplicate_detected",
				"completed",
				"failed",
			}

			for _, status := range validStatuses {
				status := status // Capture loop variable
				It("should accept "+status, func() {
					err := ValidateTaskStatus(status)
					Expect(err).NotTo(HaveOccurred())
				})
			}
		})

		Context("with invalid task statuses", func() {
			It("should reject unknown statuses", func() {
				err := ValidateTaskStatus("archived")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("is not a recognized task status"))
			})

			It("should reject statuses with SQL injection", func() {
				err := ValidateTaskStatus("queued'; DROP TABLE upload_tasks; --")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})
		})
	})

	Describe("ValidateTimeRange", func() {
		Context("with valid time ranges", func() {
			validRanges := []string{"1h", "24h", "7d", "30d", "60m"}

			for _, timeRange := range validRanges {
				timeRange := timeRange // Capture loop variable
				It("should accept "+timeRange, func() {
					err := ValidateTimeRange(timeRange)
					Expect(err).NotTo(HaveOccurred())
				})
			}
		})

		Context("with invalid time ranges", func() {
			It("should reject invalid format", func() {
				err := ValidateTimeRange("invalid")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be in format like"))
			})

			It("should reject SQL injection attempts", func() {
				err := ValidateTimeRange("1h';DROP")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("contains potentially unsafe characters"))
			})
		})
	})

	Describe("ValidateWindowMinutes", func() {
		Context("with valid window minutes", func() {
			It("should accept valid ranges", func() {
				validWindows := []int{1, 60, 120, 1440, 10080}

				for _, window := range validWindows {
					err := ValidateWindowMinutes(window)
					Expect(err).NotTo(HaveOccurred())
				}
			})
		})

		Context("with invalid window minutes", func() {
			It("should reject zero", func() {
				err := ValidateWindowMinutes(0)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be greater than 0"))
			})

			It("should reject negative values", func() {
				err := ValidateWindowMinutes(-1)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be greater than 0"))
			})

			It("should reject too large values", func() {
				err := ValidateWindowMinutes(20000)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be 7 days (10080 minutes) or less"))
			})
		})
	})

	Describe("ValidateLimit", func() {
		Context("with valid limits", func() {
			It("should accept valid ranges", func() {
				validLimits := []int{1, 50, 100, 1000, 10000}

				for _, limit := range validLimits {
					err := ValidateLimit(limit)
					Expect(err).NotTo(HaveOccurred())
				}
			})
		})

		Context("with invalid limits", func() {
			It("should reject zero", func() {
				err := ValidateLimit(0)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be greater than 0"))
			})

			It("should reject negative values", func() {
				err := ValidateLimit(-1)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be greater than 0"))
			})

			It("should reject too large values", func() {
				err := ValidateLimit(50000)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("must be 10000 or less"))
			})
		})
	})

	Describe("SanitizeForLogging", func() {
		Context("with clean input", func() {
			It("should return input unchanged", func() {
				input := "clean input text"
				result := SanitizeForLogging(input)
				Expect(result).To(Equal(input))
			})
		})

		Context("with control characters", func() {
			It("should replace control characters", func() {
				controlChar := string(rune(0x01))
				input := "text" + controlChar + "more"
				result := SanitizeForLogging(input)
				Expect(result).To(Equal("text?more"))
			})

			It("should preserve valid whitespace", func() {
				input := "text\twith\nlines\r"
				result := SanitizeForLogging(input)
				Expect(result).To(Equal(input))
			})
		})

		Context("with long input", func() {
			It("should truncate long strings", func() {
				longInput := ""
				for i := 0; i < 300; i++ {
					longInput += "a"
				}

				result := SanitizeForLogging(longInput)
				Expect(len(result)).To(Equal(200))
				Expect(result).To(HaveSuffix("..."))
			})
		})
	})
})
