package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TuningConfig holds operational knobs that may change without a restart:
// gateway timeout/retry policy. Loaded from payments.yml when present,
// defaults otherwise.
type TuningConfig struct {
	GatewayTimeout      time.Duration `mapstructure:"gatewayTimeout"`
	GatewayRetryBase    time.Duration `mapstructure:"gatewayRetryBase"`
	GatewayRetryMax     int           `mapstructure:"gatewayRetryMax"`
	VerifyCacheTerminal bool          `mapstructure:"verifyCacheTerminal"`
}

func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		GatewayTimeout:      12 * time.Second,
		GatewayRetryBase:    500 * time.Millisecond,
		GatewayRetryMax:     3,
		VerifyCacheTerminal: true,
	}
}

type TuningHolder struct {
	current atomic.Value // holds TuningConfig
}

func NewTuningHolder() (*TuningHolder, error) {
	v := viper.New()

	v.SetConfigName("payments")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payflow/config")
	v.AddConfigPath("/etc/payflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTuningConfig()
	v.SetDefault("payments.gatewayTimeout", defaults.GatewayTimeout)
	v.SetDefault("payments.gatewayRetryBase", defaults.GatewayRetryBase)
	v.SetDefault("payments.gatewayRetryMax", defaults.GatewayRetryMax)
	v.SetDefault("payments.verifyCacheTerminal", defaults.VerifyCacheTerminal)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg TuningConfig
	if err := v.UnmarshalKey("payments", &cfg); err != nil {
		return nil, err
	}
	if err := validateTuning(cfg); err != nil {
		return nil, err
	}

	holder := &TuningHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TuningConfig
		if err := v.UnmarshalKey("payments", &updated); err != nil {
			log.Printf("[payments-config] reload failed: %v", err)
			return
		}
		if err := validateTuning(updated); err != nil {
			log.Printf("[payments-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payments-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticTuningHolder wraps a fixed config without file watching.
func NewStaticTuningHolder(cfg TuningConfig) *TuningHolder {
	holder := &TuningHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *TuningHolder) Get() TuningConfig {
	return h.current.Load().(TuningConfig)
}

func validateTuning(cfg TuningConfig) error {
	if cfg.GatewayTimeout <= 0 {
		return errors.New("payments.gatewayTimeout must be positive")
	}
	if cfg.GatewayRetryBase <= 0 {
		return errors.New("payments.gatewayRetryBase must be positive")
	}
	if cfg.GatewayRetryMax < 1 {
		return errors.New("payments.gatewayRetryMax must be at least 1")
	}
	return nil
}
