// Package config loads and validates the process configuration. Prices in
// the file are human-readable decimal strings; they are converted once, at
// load time, into fixed-point price units.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/hftcore/internal/types"
)

// Config is the full application configuration.
type Config struct {
	Cores     CoresConfig      `mapstructure:"worker_cores"`
	Book      BookConfig       `mapstructure:"book"`
	Risk      RiskConfig       `mapstructure:"risk"`
	Symbols   []SymbolConfig   `mapstructure:"symbols" validate:"min=1,dive"`
	Venues    []VenueConfig    `mapstructure:"venues" validate:"min=1,dive"`
	Strategies []StrategyConfig `mapstructure:"strategies" validate:"dive"`
	Router    RouterConfig     `mapstructure:"router"`
	Audit     AuditConfig      `mapstructure:"audit"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`

	UseHugePages bool `mapstructure:"use_huge_pages"`
}

// CoresConfig pins each worker to a CPU. Negative disables pinning for
// that worker.
type CoresConfig struct {
	Ingress    int `mapstructure:"ingress"`
	Risk       int `mapstructure:"risk"`
	Router     int `mapstructure:"router"`
	Supervisor int `mapstructure:"supervisor"`
}

// BookConfig bounds the per-symbol books.
type BookConfig struct {
	MaxOrdersPerBook uint32 `mapstructure:"max_orders_per_book" validate:"gt=0"`
	MaxLevelsPerSide uint32 `mapstructure:"max_levels_per_side" validate:"gt=0"`
	SnapshotDepth    int    `mapstructure:"snapshot_depth"`
}

// RiskConfig carries the risk-engine limits. Monetary values are whole
// currency units.
type RiskConfig struct {
	RateLimitPerSec       uint32  `mapstructure:"rate_limit_per_sec"`
	MaxOrderNotional      uint64  `mapstructure:"max_order_notional"`
	MaxPositionValue      uint64  `mapstructure:"max_position_value"`
	MaxPositionQty        uint64  `mapstructure:"max_position_qty"`
	MaxDailyVolume        uint64  `mapstructure:"max_daily_volume"`
	MaxConcentration      float64 `mapstructure:"max_concentration" validate:"gte=0,lte=1"`
	MaxSpreadBps          float64 `mapstructure:"max_spread_bps"`
	MaxCancelRatio        float64 `mapstructure:"max_cancel_ratio"`
	KillSwitchDrawdown    float64 `mapstructure:"kill_switch_drawdown" validate:"gte=0,lte=1"`
	KillSwitchDailyLoss   uint64  `mapstructure:"kill_switch_daily_loss"`
	VaRLimit              float64 `mapstructure:"var_limit"`
	VaRRecomputeIntervalMs uint32 `mapstructure:"var_recompute_interval_ms" validate:"gt=0"`
}

// SymbolConfig describes one tradeable symbol. Price fields are decimal
// strings in the file.
type SymbolConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	TickSize    string `mapstructure:"tick_size" validate:"required"`
	MinPrice    string `mapstructure:"min_price" validate:"required"`
	MaxPrice    string `mapstructure:"max_price" validate:"required"`
	MaxQuantity uint64 `mapstructure:"max_quantity"`

	// Resolved at load time.
	TickSizeUnits uint64 `mapstructure:"-"`
	MinPriceUnits uint64 `mapstructure:"-"`
	MaxPriceUnits uint64 `mapstructure:"-"`
}

// VenueConfig describes one execution venue.
type VenueConfig struct {
	ID   uint8  `mapstructure:"id" validate:"gt=0"`
	Name string `mapstructure:"name" validate:"required"`
	URL  string `mapstructure:"url"`
	Sim  bool   `mapstructure:"sim"`
}

// StrategyConfig describes one strategy instance.
type StrategyConfig struct {
	Kind          string             `mapstructure:"kind" validate:"oneof=scalping momentum mean_reversion market_making"`
	ID            uint32             `mapstructure:"id" validate:"gt=0"`
	Name          string             `mapstructure:"name"`
	Capital       uint64             `mapstructure:"capital" validate:"gt=0"`
	MaxDrawdown   float64            `mapstructure:"max_drawdown"`
	DailyLossLimit uint64            `mapstructure:"daily_loss_limit"`
	Params        map[string]float64 `mapstructure:"params"`
	TargetSymbols []string           `mapstructure:"target_symbols" validate:"min=1"`
	Seed          int64              `mapstructure:"seed"`
}

// RouterConfig tunes venue selection.
type RouterConfig struct {
	SmallOrderNotional uint64  `mapstructure:"small_order_notional"`
	TopK               int     `mapstructure:"top_k"`
	MaxVenueShare      float64 `mapstructure:"max_venue_share"`
}

// AuditConfig locates the audit artifacts.
type AuditConfig struct {
	RingCapacity int    `mapstructure:"ring_capacity"`
	FilePath     string `mapstructure:"file_path"`
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// TelemetryConfig exposes the metrics endpoint.
type TelemetryConfig struct {
	PrometheusPort int    `mapstructure:"prometheus_port"`
	LogLevel       string `mapstructure:"log_level"`
}

// setDefaults installs defaults before reading the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("worker_cores.ingress", -1)
	v.SetDefault("worker_cores.risk", -1)
	v.SetDefault("worker_cores.router", -1)
	v.SetDefault("worker_cores.supervisor", -1)
	v.SetDefault("book.max_orders_per_book", 100_000)
	v.SetDefault("book.max_levels_per_side", 10_000)
	v.SetDefault("book.snapshot_depth", 32)
	v.SetDefault("risk.rate_limit_per_sec", 100)
	v.SetDefault("risk.var_recompute_interval_ms", 1000)
	v.SetDefault("risk.kill_switch_drawdown", 0.1)
	v.SetDefault("router.top_k", 3)
	v.SetDefault("router.max_venue_share", 0.5)
	v.SetDefault("audit.ring_capacity", 65536)
	v.SetDefault("telemetry.prometheus_port", 9091)
	v.SetDefault("telemetry.log_level", "info")
}

// Load reads, decodes, resolves, and validates the configuration file.
func Load(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolvePrices(); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.crossValidate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("path", path),
		zap.Int("symbols", len(cfg.Symbols)),
		zap.Int("venues", len(cfg.Venues)),
		zap.Int("strategies", len(cfg.Strategies)))
	return &cfg, nil
}

// resolvePrices converts decimal price strings to fixed-point units.
func (c *Config) resolvePrices() error {
	for i := range c.Symbols {
		s := &c.Symbols[i]
		var err error
		if s.TickSizeUnits, err = parsePrice(s.TickSize); err != nil {
			return fmt.Errorf("symbol %s tick_size: %w", s.Name, err)
		}
		if s.MinPriceUnits, err = parsePrice(s.MinPrice); err != nil {
			return fmt.Errorf("symbol %s min_price: %w", s.Name, err)
		}
		if s.MaxPriceUnits, err = parsePrice(s.MaxPrice); err != nil {
			return fmt.Errorf("symbol %s max_price: %w", s.Name, err)
		}
		if s.MaxQuantity == 0 {
			s.MaxQuantity = 1_000_000_000
		}
	}
	return nil
}

// parsePrice converts a decimal string to fixed-point price units exactly;
// prices finer than the fixed-point scale are a config error.
func parsePrice(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("price %q must be positive", s)
	}
	units := d.Mul(decimal.NewFromInt(types.PriceScale))
	if !units.IsInteger() {
		return 0, fmt.Errorf("price %q finer than %d decimal places", s, 6)
	}
	return uint64(units.IntPart()), nil
}

// crossValidate checks relationships the struct tags cannot express.
func (c *Config) crossValidate() error {
	names := make(map[string]struct{}, len(c.Symbols))
	for _, s := range c.Symbols {
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("duplicate symbol %q", s.Name)
		}
		names[s.Name] = struct{}{}
		if s.MinPriceUnits >= s.MaxPriceUnits {
			return fmt.Errorf("symbol %s: min_price must be below max_price", s.Name)
		}
		if s.MinPriceUnits%s.TickSizeUnits != 0 || s.MaxPriceUnits%s.TickSizeUnits != 0 {
			return fmt.Errorf("symbol %s: price band not tick aligned", s.Name)
		}
	}

	ids := make(map[uint32]struct{}, len(c.Strategies))
	for _, st := range c.Strategies {
		if _, dup := ids[st.ID]; dup {
			return fmt.Errorf("duplicate strategy id %d", st.ID)
		}
		ids[st.ID] = struct{}{}
		for _, sym := range st.TargetSymbols {
			if _, ok := names[sym]; !ok {
				return fmt.Errorf("strategy %d targets unknown symbol %q", st.ID, sym)
			}
		}
	}

	venueIDs := make(map[uint8]struct{}, len(c.Venues))
	for _, ven := range c.Venues {
		if _, dup := venueIDs[ven.ID]; dup {
			return fmt.Errorf("duplicate venue id %d", ven.ID)
		}
		venueIDs[ven.ID] = struct{}{}
	}
	return nil
}
