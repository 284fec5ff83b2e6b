package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  port: "8080"
  metrics_port: "9090"

vision:
  endpoint: "https://api.anthropic.com"
  model: "claude-3-5-sonnet"
  timeout: "30s"
  retry_count: 3
  provider: "anthropic"
  temperature: 0.3
  max_tokens: 500

tenant:
  config_dir: "/etc/invoicepipe/tenants"
  default_industry: "auto_parts"

pipeline:
  dry_run: false
  max_concurrent: 25
  cooldown_period: "5m"

logging:
  level: "info"
  format: "json"

object_store:
  endpoint: "minio.internal:9000"
  bucket: "invoices"
  use_ssl: true
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(config).NotTo(BeNil())

				Expect(config.Server.Port).To(Equal("8080"))
				Expect(config.Server.MetricsPort).To(Equal("9090"))

				Expect(config.Vision.Endpoint).To(Equal("https://api.anthropic.com"))
				Expect(config.Vision.Model).To(Equal("claude-3-5-sonnet"))
				Expect(config.Vision.Timeout).To(Equal(30 * time.Second))
				Expect(config.Vision.RetryCount).To(Equal(3))
				Expect(config.Vision.Provider).To(Equal("anthropic"))
				Expect(config.Vision.Temperature).To(Equal(float32(0.3)))
				Expect(config.Vision.MaxTokens).To(Equal(500))

				Expect(config.Tenant.ConfigDir).To(Equal("/etc/invoicepipe/tenants"))
				Expect(config.Tenant.DefaultIndustry).To(Equal("auto_parts"))

				Expect(config.Pipeline.DryRun).To(BeFalse())
				Expect(config.Pipeline.MaxConcurrent).To(Equal(25))
				Expect(config.Pipeline.CooldownPeriod).To(Equal(5 * time.Minute))

				Expect(config.Logging.Level).To(Equal("info"))
				Expect(config.Logging.Format).To(Equal("json"))

				Expect(config.ObjectStore.Endpoint).To(Equal("minio.internal:9000"))
				Expect(config.ObjectStore.Bucket).To(Equal("invoices"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
server:
  port: "3000"

vision:
  endpoint: "http://localhost:8080"
  model: "test-model"
  provider: "anthropic"
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				config, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Server.Port).To(Equal("3000"))
				Expect(config.Vision.Endpoint).To(Equal("http://localhost:8080"))
				Expect(config.Vision.Model).To(Equal("test-model"))

				Expect(config.Tenant.DefaultIndustry).To(Equal("general"))
				Expect(config.Pipeline.MaxConcurrent).To(Equal(5))
				Expect(config.Vision.Provider).To(Equal("anthropic"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  port: "8080"
  invalid_yaml: [
vision:
  endpoint: "test"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when config has invalid duration formats", func() {
			BeforeEach(func() {
				invalidDurationConfig := `
server:
  port: "8080"

vision:
  endpoint: "https://api.anthropic.com"
  model: "test"
  timeout: "invalid-duration"
  provider: "anthropic"

pipeline:
  cooldown_period: "not-a-duration"
`
				err := os.WriteFile(configFile, []byte(invalidDurationConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{
				Server: ServerConfig{
					Port:        "8080",
					MetricsPort: "9090",
				},
				Vision: VisionConfig{
					Endpoint:    "https://api.anthropic.com",
					Model:       "claude-3-5-sonnet",
					Timeout:     30 * time.Second,
					RetryCount:  3,
					Provider:    "anthropic",
					Temperature: 0.3,
					MaxTokens:   500,
				},
				Tenant: TenantConfig{
					ConfigDir:       "/etc/invoicepipe/tenants",
					DefaultIndustry: "auto_parts",
				},
				Pipeline: PipelineConfig{
					DryRun:         false,
					MaxConcurrent:  25,
					CooldownPeriod: 5 * time.Minute,
				},
				Logging: LoggingConfig{
					Level:  "info",
					Format: "json",
				},
			}
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				err := validate(config)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when vision provider is invalid", func() {
			BeforeEach(func() {
				config.Vision.Provider = "invalid"
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported vision provider"))
			})
		})

		Context("when vision endpoint is missing", func() {
			BeforeEach(func() {
				config.Vision.Endpoint = ""
			})

			It("should set default endpoint", func() {
				err := validate(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(config.Vision.Endpoint).To(Equal("http://localhost:8080"))
			})
		})

		Context("when vision model is missing", func() {
			BeforeEach(func() {
				config.Vision.Model = ""
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("vision model is required for anthropic provider"))
			})
		})

		Context("when vision temperature is out of range", func() {
			BeforeEach(func() {
				config.Vision.Temperature = 1.5
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("vision temperature must be between 0.0 and 1.0"))
			})
		})

		Context("when vision max tokens is invalid", func() {
			BeforeEach(func() {
				config.Vision.MaxTokens = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("vision max tokens must be greater than 0"))
			})
		})

		Context("when tenant default industry is empty", func() {
			BeforeEach(func() {
				config.Tenant.DefaultIndustry = ""
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("tenant default industry is required"))
			})
		})

		Context("when max concurrent actions is invalid", func() {
			BeforeEach(func() {
				config.Pipeline.MaxConcurrent = 0
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max concurrent actions must be greater than 0"))
			})
		})

		Context("when max concurrent actions is negative", func() {
			BeforeEach(func() {
				config.Pipeline.MaxConcurrent = -1
			})

			It("should return validation error", func() {
				err := validate(config)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("max concurrent actions must be greater than 0"))
			})
		})

		Context("when vision retry count is negative", func() {
			BeforeEach(func() {
				config.Vision.RetryCount = -1
			})

			It("should pass validation", func() {
				err := validate(config)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when cooldown period is negative", func() {
			BeforeEach(func() {
				config.Pipeline.CooldownPeriod = -1 * time.Minute
			})

			It("should pass validation", func() {
				err := validate(config)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		Context("when vision timeout is negative", func() {
			BeforeEach(func() {
				config.Vision.Timeout = -1 * time.Second
			})

			It("should pass validation", func() {
				err := validate(config)
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("loadFromEnv", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{}
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("VISION_ENDPOINT", "http://test:8080")
				os.Setenv("VISION_MODEL", "test-model")
				os.Setenv("VISION_PROVIDER", "anthropic")
				os.Setenv("SERVER_PORT", "3000")
				os.Setenv("METRICS_PORT", "9999")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("DRY_RUN", "true")
			})

			AfterEach(func() {
				os.Clearenv()
			})

			It("should load values from environment", func() {
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())

				Expect(config.Vision.Endpoint).To(Equal("http://test:8080"))
				Expect(config.Vision.Model).To(Equal("test-model"))
				Expect(config.Vision.Provider).To(Equal("anthropic"))
				Expect(config.Server.Port).To(Equal("3000"))
				Expect(config.Server.MetricsPort).To(Equal("9999"))
				Expect(config.Logging.Level).To(Equal("debug"))
				Expect(config.Pipeline.DryRun).To(BeTrue())
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				originalConfig := *config
				err := loadFromEnv(config)
				Expect(err).NotTo(HaveOccurred())
				Expect(*config).To(Equal(originalConfig))
			})
		})
	})
})
