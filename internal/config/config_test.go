package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
worker_cores:
  ingress: 2
  risk: 3
  router: 4
  supervisor: 0

book:
  max_orders_per_book: 50000
  max_levels_per_side: 5000

risk:
  rate_limit_per_sec: 50
  max_order_notional: 1000000
  max_position_qty: 100000
  kill_switch_drawdown: 0.08
  var_recompute_interval_ms: 1000

symbols:
  - name: AAPL
    tick_size: "0.01"
    min_price: "0.01"
    max_price: "10000.00"
    max_quantity: 1000000
  - name: MSFT
    tick_size: "0.01"
    min_price: "0.01"
    max_price: "10000.00"

venues:
  - id: 1
    name: sim-primary
    sim: true
  - id: 2
    name: sim-backup
    sim: true

strategies:
  - kind: mean_reversion
    id: 1
    name: mr-aapl
    capital: 500000
    max_drawdown: 0.05
    target_symbols: [AAPL]
    params:
      lookback: 50
      entry_threshold: 2.0
  - kind: market_making
    id: 2
    capital: 250000
    target_symbols: [MSFT]
    seed: 7
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hftcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Cores.Ingress)
	assert.Equal(t, uint32(50000), cfg.Book.MaxOrdersPerBook)

	require.Len(t, cfg.Symbols, 2)
	aapl := cfg.Symbols[0]
	assert.Equal(t, uint64(10_000), aapl.TickSizeUnits)
	assert.Equal(t, uint64(10_000), aapl.MinPriceUnits)
	assert.Equal(t, uint64(10_000_000_000), aapl.MaxPriceUnits)
	// Unset max_quantity falls back to the default bound.
	assert.Equal(t, uint64(1_000_000_000), cfg.Symbols[1].MaxQuantity)

	require.Len(t, cfg.Strategies, 2)
	assert.Equal(t, "mean_reversion", cfg.Strategies[0].Kind)
	assert.InDelta(t, 2.0, cfg.Strategies[0].Params["entry_threshold"], 1e-9)
}

func TestLoad_RejectsSubTickPrice(t *testing.T) {
	bad := validYAML + "\n"
	cfg := writeConfig(t, bad)
	_, err := Load(cfg, nil)
	require.NoError(t, err)

	_, err = Load(writeConfig(t, `
symbols:
  - name: X
    tick_size: "0.0000001"
    min_price: "1.00"
    max_price: "2.00"
venues:
  - id: 1
    name: v
`), nil)
	assert.ErrorContains(t, err, "finer than")
}

func TestLoad_RejectsUnknownStrategySymbol(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols:
  - name: AAPL
    tick_size: "0.01"
    min_price: "0.01"
    max_price: "100.00"
venues:
  - id: 1
    name: v
strategies:
  - kind: scalping
    id: 1
    capital: 1000
    target_symbols: [TSLA]
`), nil)
	assert.ErrorContains(t, err, "unknown symbol")
}

func TestLoad_RejectsDuplicateStrategyID(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols:
  - name: AAPL
    tick_size: "0.01"
    min_price: "0.01"
    max_price: "100.00"
venues:
  - id: 1
    name: v
strategies:
  - kind: scalping
    id: 1
    capital: 1000
    target_symbols: [AAPL]
  - kind: momentum
    id: 1
    capital: 1000
    target_symbols: [AAPL]
`), nil)
	assert.ErrorContains(t, err, "duplicate strategy id")
}

func TestLoad_RejectsBadKind(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols:
  - name: AAPL
    tick_size: "0.01"
    min_price: "0.01"
    max_price: "100.00"
venues:
  - id: 1
    name: v
strategies:
  - kind: arbitrage
    id: 1
    capital: 1000
    target_symbols: [AAPL]
`), nil)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}
