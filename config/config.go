package config

import (
	"log/slog"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type HealthConfig struct {
	HardFailureThreshold int    `mapstructure:"hard_failure_threshold"`
	SoftFailureThreshold int    `mapstructure:"soft_failure_threshold"`
	ProbeDelayInitial    string `mapstructure:"probe_delay_initial"`
	ProbeDelayMax        string `mapstructure:"probe_delay_max"`
	LatencyWindowSize    int    `mapstructure:"latency_window_size"`
	Disabled             bool   `mapstructure:"disabled"`
}

type TimeoutConfig struct {
	Server string `mapstructure:"server"`
}

type ServerConfig struct {
	AdminAddr     string `mapstructure:"admin_addr"`
	PollInterval  string `mapstructure:"poll_interval"`
	SweepInterval string `mapstructure:"sweep_interval"`
}

type ThrottleConfig struct {
	MaxInflight int `mapstructure:"max_inflight"`
	MaxPending  int `mapstructure:"max_pending"`
}

type DestinationConfig struct {
	Key      string `mapstructure:"key"`
	Endpoint string `mapstructure:"endpoint"`
	Pool     string `mapstructure:"pool"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Health       HealthConfig        `mapstructure:"health"`
	Timeouts     TimeoutConfig       `mapstructure:"timeouts"`
	Throttle     ThrottleConfig      `mapstructure:"throttle"`
	Destinations []DestinationConfig `mapstructure:"destinations"`
	Logging      LoggingConfig       `mapstructure:"logging"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.admin_addr", ":9090")
	viper.SetDefault("server.poll_interval", "5s")
	viper.SetDefault("server.sweep_interval", "5m")
	viper.SetDefault("health.hard_failure_threshold", 3)
	viper.SetDefault("health.soft_failure_threshold", 10)
	viper.SetDefault("health.probe_delay_initial", "10s")
	viper.SetDefault("health.probe_delay_max", "1m")
	viper.SetDefault("health.latency_window_size", 100)
	viper.SetDefault("health.disabled", false)
	viper.SetDefault("timeouts.server", "1s")
	viper.SetDefault("throttle.max_inflight", 0)
	viper.SetDefault("throttle.max_pending", 0)
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("logging.environment", EnvDev)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.AdminAddr,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.PollInterval,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&sc.SweepInterval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Health,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.HardFailureThreshold,
						validation.Min(0),
					),
					validation.Field(&hc.SoftFailureThreshold,
						validation.Min(0),
					),
					validation.Field(&hc.ProbeDelayInitial,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&hc.ProbeDelayMax,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&hc.LatencyWindowSize,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
		validation.Field(&c.Timeouts,
			validation.Required,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TimeoutConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TimeoutConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Server,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Throttle,
			validation.By(func(value interface{}) error {
				tc, ok := value.(ThrottleConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ThrottleConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.MaxInflight, validation.Min(0)),
					validation.Field(&tc.MaxPending, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.Destinations,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateDestinationConfig)),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
					validation.Field(&lc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
				)
			}),
		),
	)
}

// ProbeDelays returns the parsed probe backoff bounds. Parse errors
// cannot happen on a validated config.
func (h *HealthConfig) ProbeDelays() (initial, max time.Duration, err error) {
	initial, err = time.ParseDuration(h.ProbeDelayInitial)
	if err != nil {
		return 0, 0, err
	}
	max, err = time.ParseDuration(h.ProbeDelayMax)
	if err != nil {
		return 0, 0, err
	}
	return initial, max, nil
}

// Intervals returns the parsed poll and sweep periods. Parse errors
// cannot happen on a validated config.
func (s *ServerConfig) Intervals() (poll, sweep time.Duration, err error) {
	poll, err = time.ParseDuration(s.PollInterval)
	if err != nil {
		return 0, 0, err
	}
	sweep, err = time.ParseDuration(s.SweepInterval)
	if err != nil {
		return 0, 0, err
	}
	return poll, sweep, nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateDestinationConfig(value interface{}) error {
	dest, ok := value.(DestinationConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a DestinationConfig")
	}

	if dest.Key == "" {
		return validation.NewError("validation_empty_key", "destination key cannot be empty")
	}

	if dest.Pool == "" {
		return validation.NewError("validation_empty_pool", "destination pool cannot be empty")
	}

	return validateHostPort(dest.Endpoint)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
