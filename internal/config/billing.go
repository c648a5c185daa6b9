package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries billing policy knobs that operators tune without a
// redeploy. The tax rate is policy, not an invariant.
type BillingConfig struct {
	TaxRateBps        int `mapstructure:"taxRateBps"`
	RolloverBatchSize int `mapstructure:"rolloverBatchSize"`
	InvoiceBatchSize  int `mapstructure:"invoiceBatchSize"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		TaxRateBps:        875,
		RolloverBatchSize: 100,
		InvoiceBatchSize:  50,
	}
}

// BillingConfigHolder exposes the live billing policy with hot reload.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/billing")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.taxRateBps", defaults.TaxRateBps)
	v.SetDefault("billing.rolloverBatchSize", defaults.RolloverBatchSize)
	v.SetDefault("billing.invoiceBatchSize", defaults.InvoiceBatchSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	holder := &BillingConfigHolder{}
	if err := holder.load(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		_ = holder.load(v)
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) load(v *viper.Viper) error {
	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return err
	}
	if cfg.TaxRateBps < 0 {
		cfg.TaxRateBps = 0
	}
	defaults := DefaultBillingConfig()
	if cfg.RolloverBatchSize <= 0 {
		cfg.RolloverBatchSize = defaults.RolloverBatchSize
	}
	if cfg.InvoiceBatchSize <= 0 {
		cfg.InvoiceBatchSize = defaults.InvoiceBatchSize
	}
	h.current.Store(cfg)
	return nil
}

// Current returns the active billing policy.
func (h *BillingConfigHolder) Current() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	if cfg, ok := h.current.Load().(BillingConfig); ok {
		return cfg
	}
	return DefaultBillingConfig()
}

// Set replaces the active policy. Intended for tests.
func (h *BillingConfigHolder) Set(cfg BillingConfig) {
	h.current.Store(cfg)
}
