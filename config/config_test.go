package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kvrouter/kvrouter/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			AdminAddr:     ":9090",
			PollInterval:  "5s",
			SweepInterval: "5m",
		},
		Health: config.HealthConfig{
			HardFailureThreshold: 3,
			SoftFailureThreshold: 10,
			ProbeDelayInitial:    "10s",
			ProbeDelayMax:        "1m",
			LatencyWindowSize:    100,
		},
		Timeouts: config.TimeoutConfig{Server: "1s"},
		Destinations: []config.DestinationConfig{
			{Key: "pool-a.shard-0", Endpoint: "10.0.0.1:11211", Pool: "pool-a"},
		},
		Logging: config.LoggingConfig{Level: "info", Environment: "dev"},
	}
}

var _ = Describe("Config", func() {
	var (
		tempDir string
		origDir string
	)

	writeConfig := func(content string) {
		configPath := filepath.Join(tempDir, "config.yaml")
		err := os.WriteFile(configPath, []byte(content), 0644)
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		var err error
		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
		err = os.Chdir(tempDir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.Chdir(origDir)
		os.RemoveAll(tempDir)
		os.Unsetenv("HEALTH_HARD_FAILURE_THRESHOLD")
		os.Unsetenv("LOGGING_LEVEL")
	})

	Describe("Load", func() {
		Context("with a full config file", func() {
			BeforeEach(func() {
				writeConfig(`
server:
  admin_addr: "127.0.0.1:9091"
  poll_interval: "2s"
  sweep_interval: "1m"

health:
  hard_failure_threshold: 2
  soft_failure_threshold: 5
  probe_delay_initial: "2s"
  probe_delay_max: "30s"
  latency_window_size: 50

timeouts:
  server: "500ms"

throttle:
  max_inflight: 64
  max_pending: 256

destinations:
  - key: "pool-a.shard-0"
    endpoint: "10.0.0.1:11211"
    pool: "pool-a"
  - key: "pool-a.shard-1"
    endpoint: "cache-1.internal:11211"
    pool: "pool-a"

logging:
  level: "debug"
  environment: "prod"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
			})

			It("should parse the server section", func() {
				cfg, _ := config.Load()
				Expect(cfg.Server.AdminAddr).To(Equal("127.0.0.1:9091"))
				poll, sweep, err := cfg.Server.Intervals()
				Expect(err).NotTo(HaveOccurred())
				Expect(poll).To(Equal(2 * time.Second))
				Expect(sweep).To(Equal(time.Minute))
			})

			It("should parse the health section", func() {
				cfg, _ := config.Load()
				Expect(cfg.Health.HardFailureThreshold).To(Equal(2))
				Expect(cfg.Health.SoftFailureThreshold).To(Equal(5))
				Expect(cfg.Health.LatencyWindowSize).To(Equal(50))
			})

			It("should parse the probe backoff bounds", func() {
				cfg, _ := config.Load()
				initial, max, err := cfg.Health.ProbeDelays()
				Expect(err).NotTo(HaveOccurred())
				Expect(initial).To(Equal(2 * time.Second))
				Expect(max).To(Equal(30 * time.Second))
			})

			It("should parse the throttle section", func() {
				cfg, _ := config.Load()
				Expect(cfg.Throttle.MaxInflight).To(Equal(64))
				Expect(cfg.Throttle.MaxPending).To(Equal(256))
			})

			It("should parse all destinations", func() {
				cfg, _ := config.Load()
				Expect(cfg.Destinations).To(HaveLen(2))
				Expect(cfg.Destinations[1].Endpoint).To(Equal("cache-1.internal:11211"))
			})

			It("should parse the logging section", func() {
				cfg, _ := config.Load()
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Environment).To(Equal("prod"))
			})
		})

		Context("with a minimal config file", func() {
			BeforeEach(func() {
				writeConfig(`
destinations:
  - key: "pool-a.shard-0"
    endpoint: "10.0.0.1:11211"
    pool: "pool-a"
`)
			})

			It("should fill every other section with defaults", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.AdminAddr).To(Equal(":9090"))
				Expect(cfg.Server.PollInterval).To(Equal("5s"))
				Expect(cfg.Server.SweepInterval).To(Equal("5m"))
				Expect(cfg.Health.HardFailureThreshold).To(Equal(3))
				Expect(cfg.Health.SoftFailureThreshold).To(Equal(10))
				Expect(cfg.Health.ProbeDelayInitial).To(Equal("10s"))
				Expect(cfg.Health.ProbeDelayMax).To(Equal("1m"))
				Expect(cfg.Health.LatencyWindowSize).To(Equal(100))
				Expect(cfg.Timeouts.Server).To(Equal("1s"))
				Expect(cfg.Throttle.MaxInflight).To(BeZero())
				Expect(cfg.Logging.Level).To(Equal("info"))
				Expect(cfg.Logging.Environment).To(Equal("dev"))
			})
		})

		Context("with environment variables", func() {
			BeforeEach(func() {
				writeConfig(`
destinations:
  - key: "pool-a.shard-0"
    endpoint: "10.0.0.1:11211"
    pool: "pool-a"
`)
				os.Setenv("HEALTH_HARD_FAILURE_THRESHOLD", "7")
				os.Setenv("LOGGING_LEVEL", "warn")
			})

			It("should let the environment override file values", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Health.HardFailureThreshold).To(Equal(7))
				Expect(cfg.Logging.Level).To(Equal("warn"))
			})
		})

		Context("with an invalid config file", func() {
			It("should reject a bad probe delay", func() {
				writeConfig(`
health:
  probe_delay_initial: "fast"

destinations:
  - key: "pool-a.shard-0"
    endpoint: "10.0.0.1:11211"
    pool: "pool-a"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject an endpoint without a port", func() {
				writeConfig(`
destinations:
  - key: "pool-a.shard-0"
    endpoint: "10.0.0.1"
    pool: "pool-a"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject an unknown log level", func() {
				writeConfig(`
destinations:
  - key: "pool-a.shard-0"
    endpoint: "10.0.0.1:11211"
    pool: "pool-a"

logging:
  level: "loud"
`)
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		It("should accept a complete configuration", func() {
			Expect(validConfig().Validate()).To(Succeed())
		})

		It("should require at least one destination", func() {
			cfg := validConfig()
			cfg.Destinations = nil
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an empty destination key", func() {
			cfg := validConfig()
			cfg.Destinations[0].Key = ""
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an empty destination pool", func() {
			cfg := validConfig()
			cfg.Destinations[0].Pool = ""
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a negative failure threshold", func() {
			cfg := validConfig()
			cfg.Health.HardFailureThreshold = -1
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should allow threshold zero to disable a class", func() {
			cfg := validConfig()
			cfg.Health.SoftFailureThreshold = 0
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should reject a latency window below one sample", func() {
			cfg := validConfig()
			cfg.Health.LatencyWindowSize = 0
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject an unknown environment", func() {
			cfg := validConfig()
			cfg.Logging.Environment = "qa"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should reject a bad admin address", func() {
			cfg := validConfig()
			cfg.Server.AdminAddr = "no-port"
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("should accept a hostname endpoint", func() {
			cfg := validConfig()
			cfg.Destinations[0].Endpoint = "cache-1.internal:11211"
			Expect(cfg.Validate()).To(Succeed())
		})
	})
})
