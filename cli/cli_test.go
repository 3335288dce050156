package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxtrader/exchange"
)

func noClient(t *testing.T) func(exchange.Config) *exchange.Quotex {
	return func(exchange.Config) *exchange.Quotex {
		t.Fatal("client must not be created")
		return nil
	}
}

func emptyConfig(t *testing.T) []string {
	dir := t.TempDir()
	return []string{"-config", filepath.Join(dir, "missing.yaml"), "-env", filepath.Join(dir, "missing.env")}
}

func TestRun(t *testing.T) {
	t.Setenv("QX_EMAIL", "")
	t.Setenv("QX_PASSWORD", "")

	t.Run("help", func(t *testing.T) {
		var out bytes.Buffer
		code := run(context.Background(), append(emptyConfig(t), "help"), &out, noClient(t))
		assert.Equal(t, 0, code)
		assert.Contains(t, out.String(), "get_candle_progressive")
		assert.Contains(t, out.String(), "balance_refill")
	})

	t.Run("no option", func(t *testing.T) {
		var out bytes.Buffer
		code := run(context.Background(), emptyConfig(t), &out, noClient(t))
		assert.Equal(t, 1, code)
		assert.Contains(t, out.String(), "Options:")
	})

	t.Run("unknown option", func(t *testing.T) {
		var out bytes.Buffer
		code := run(context.Background(), append(emptyConfig(t), "fly"), &out, noClient(t))
		assert.Equal(t, 1, code)
		assert.Contains(t, out.String(), `Invalid option "fly"`)
		assert.Contains(t, out.String(), "Options:")
	})

	t.Run("missing credentials", func(t *testing.T) {
		var out bytes.Buffer
		code := run(context.Background(), append(emptyConfig(t), "get_balance"), &out, noClient(t))
		assert.Equal(t, 1, code)
		assert.Contains(t, out.String(), "QX_EMAIL")
	})

	t.Run("bad account mode", func(t *testing.T) {
		var out bytes.Buffer
		code := run(context.Background(), append(emptyConfig(t), "get_balance", "-mode", "paper"), &out, noClient(t))
		assert.Equal(t, 1, code)
		assert.Contains(t, out.String(), "unknown account mode")
	})
}

func TestParseFlags(t *testing.T) {
	a := &App{out: &bytes.Buffer{}}
	a.cfg.DefaultAsset = "EURUSD"
	a.cfg.DefaultPeriod = 60
	a.cfg.Trade.Amount = 10
	a.cfg.Trade.Duration = 60

	require.NoError(t, a.parseFlags("balance_refill", nil))
	assert.Equal(t, 5000.0, a.opts.amount)
	assert.Equal(t, "EURUSD", a.opts.asset)

	a.opts = options{}
	require.NoError(t, a.parseFlags("balance_refill", []string{"-amount", "100"}))
	assert.Equal(t, 100.0, a.opts.amount)

	a.opts = options{}
	require.NoError(t, a.parseFlags("buy_simple", []string{"-asset", "GBPUSD_otc", "-direction", "put", "-mode", "real"}))
	assert.Equal(t, 10.0, a.opts.amount)
	assert.Equal(t, "GBPUSD_otc", a.opts.asset)
	assert.Equal(t, "real", a.cfg.AccountMode)
	d, err := a.direction()
	require.NoError(t, err)
	assert.EqualValues(t, "put", d)
}

func TestParseOpenTime(t *testing.T) {
	now := time.Date(2024, 3, 5, 10, 15, 30, 0, time.UTC)

	ts, err := ParseOpenTime("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 16, 0, 0, time.UTC).Unix(), ts)

	ts, err = ParseOpenTime("07/03 09:30", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 7, 9, 30, 0, 0, time.UTC).Unix(), ts)

	_, err = ParseOpenTime("2024-03-07", now)
	assert.Error(t, err)
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("", 60)
	require.NoError(t, err)
	assert.Equal(t, "keltner_rsi", s.GetName())

	s, err = NewStrategy("zigzag_cross", 30)
	require.NoError(t, err)
	assert.Equal(t, "zigzag_cross", s.GetName())
	assert.EqualValues(t, 30, s.Period())

	_, err = NewStrategy("martingale", 60)
	assert.Error(t, err)
}
