package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"qxtrader/config"
	"qxtrader/exchange"
	"qxtrader/model"
	"qxtrader/utils/log"
)

type command struct {
	name    string
	help    string
	connect bool
	run     func(ctx context.Context, a *App) error
}

// App 한 번의 CLI 실행 상태
type App struct {
	cfg    config.Config
	out    io.Writer
	client *exchange.Quotex
	opts   options

	newClient func(cfg exchange.Config) *exchange.Quotex
}

// options 명령별 공통 플래그
type options struct {
	asset     string
	period    int64
	offset    int64
	amount    float64
	direction string
	duration  int64
	days      int
	count     int
	id        string
	openTime  string
	mode      string
	balance   float64
}

var commands = []command{
	{name: "test_connection", help: "connect and report the connection state", connect: true, run: testConnection},
	{name: "get_profile", help: "print the account profile", connect: true, run: getProfile},
	{name: "get_balance", help: "print the balance of the active account", connect: true, run: getBalance},
	{name: "get_signal_data", help: "subscribe to broker signals and print them", connect: true, run: getSignalData},
	{name: "trade_and_monitor", help: "buy and estimate the result from the realtime price", connect: true, run: tradeAndMonitor},
	{name: "get_payout", help: "print the payout of an asset", connect: true, run: getPayout},
	{name: "get_result", help: "print a settled operation by id", connect: true, run: getResult},
	{name: "get_candle", help: "load historical candles", connect: true, run: getCandle},
	{name: "get_candle_v2", help: "wait for a server candle block", connect: true, run: getCandleV2},
	{name: "get_candle_progressive", help: "walk history forward window by window", connect: true, run: getCandleProgressive},
	{name: "get_realtime_candle", help: "stream candles built from realtime prices", connect: true, run: getRealtimeCandle},
	{name: "get_realtime_sentiment", help: "stream buy/sell sentiment", connect: true, run: getRealtimeSentiment},
	{name: "get_realtime_price", help: "stream realtime prices", connect: true, run: getRealtimePrice},
	{name: "assets_open", help: "list every asset with its open state", connect: true, run: assetsOpen},
	{name: "get_all_assets", help: "print the asset name to id table", connect: true, run: getAllAssets},
	{name: "buy_simple", help: "buy once and print the confirmation", connect: true, run: buySimple},
	{name: "buy_and_check_win", help: "buy and wait for the settlement", connect: true, run: buyAndCheckWin},
	{name: "buy_pending", help: "create a pending order (-open-time \"dd/mm hh:mm\")", connect: true, run: buyPending},
	{name: "sell_option", help: "buy and close the position early", connect: true, run: sellOption},
	{name: "balance_refill", help: "refill the practice balance (-amount)", connect: true, run: balanceRefill},
	{name: "backtest", help: "replay -days of history through the strategy", connect: true, run: runBacktest},
	{name: "bot", help: "monitor OTC assets, notify and optionally auto-trade", connect: true, run: runBot},
	{name: "chart", help: "serve the candle chart of -asset", connect: true, run: runChart},
	{name: "help", help: "show this help", run: nil},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func Usage(w io.Writer) {
	fmt.Fprintln(w, "Use: qxtrader [-config config.yaml] [-env .env] <option> [flags]")
	fmt.Fprintln(w, "Options:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-24s %s\n", c.name, c.help)
	}
	fmt.Fprintln(w, "Flags: -asset -period -offset -amount -direction -duration -days -count -id -open-time -mode -balance")
}

// Run 종료 코드를 돌려준다. 알 수 없는 옵션은 사용법을 찍고 1.
func Run(ctx context.Context, args []string, out io.Writer) int {
	return run(ctx, args, out, func(cfg exchange.Config) *exchange.Quotex {
		return exchange.NewQuotex(cfg)
	})
}

func run(ctx context.Context, args []string, out io.Writer, newClient func(cfg exchange.Config) *exchange.Quotex) int {
	global := flag.NewFlagSet("qxtrader", flag.ContinueOnError)
	global.SetOutput(out)
	configPath := global.String("config", config.DefaultPath, "yaml config file")
	envFile := global.String("env", ".env", "dotenv file")
	if err := global.Parse(args); err != nil {
		return 1
	}
	if global.NArg() == 0 {
		Usage(out)
		return 1
	}

	name := global.Arg(0)
	if name == "help" {
		Usage(out)
		return 0
	}
	cmd, ok := lookup(name)
	if !ok {
		fmt.Fprintf(out, "Invalid option %q.\n", name)
		Usage(out)
		return 1
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(out, err)
		return 1
	}
	log.SetLevel(cfg.LogLevel)

	a := &App{cfg: cfg, out: out, newClient: newClient}
	if err := a.parseFlags(name, global.Args()[1:]); err != nil {
		return 1
	}

	if cmd.connect {
		if err := a.cfg.RequireCredentials(); err != nil {
			fmt.Fprintln(out, err)
			return 1
		}
		a.client = a.newClient(a.cfg.Exchange())
		defer a.client.Close()
		if ok, reason := a.client.Connect(ctx); !ok {
			fmt.Fprintf(out, "Unable to connect: %s\n", reason)
			return 1
		}
	}

	if err := cmd.run(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(out, "%s failed: %v\n", name, err)
		return 1
	}
	fmt.Fprintln(out, "Exiting...")
	return 0
}

func (a *App) parseFlags(name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	fs.StringVar(&a.opts.asset, "asset", a.cfg.DefaultAsset, "asset symbol, e.g. EURUSD_otc")
	fs.Int64Var(&a.opts.period, "period", a.cfg.DefaultPeriod, "candle period in seconds")
	fs.Int64Var(&a.opts.offset, "offset", 3600, "history window in seconds")
	fs.Float64Var(&a.opts.amount, "amount", a.cfg.Trade.Amount, "trade amount (refill amount for balance_refill)")
	fs.StringVar(&a.opts.direction, "direction", "call", "call or put")
	fs.Int64Var(&a.opts.duration, "duration", a.cfg.Trade.Duration, "trade duration in seconds")
	fs.IntVar(&a.opts.days, "days", 1, "days of history for get_candle_progressive")
	fs.IntVar(&a.opts.count, "count", 0, "stream iterations, 0 runs until interrupted")
	fs.StringVar(&a.opts.id, "id", "", "operation id")
	fs.StringVar(&a.opts.openTime, "open-time", "", "pending order open time, dd/mm hh:mm local")
	fs.StringVar(&a.opts.mode, "mode", "", "account mode, PRACTICE or REAL")
	fs.Float64Var(&a.opts.balance, "balance", 1000, "starting balance for backtest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if name == "balance_refill" && !isSet(fs, "amount") {
		a.opts.amount = 5000
	}
	if a.opts.mode != "" {
		if _, ok := model.ParseAccountMode(a.opts.mode); !ok {
			fmt.Fprintf(a.out, "unknown account mode %q\n", a.opts.mode)
			return fmt.Errorf("unknown account mode %q", a.opts.mode)
		}
		a.cfg.AccountMode = a.opts.mode
	}
	return nil
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		a.printf("%v\n", v)
		return
	}
	a.printf("%s\n", raw)
}

// stream count 번(0 이면 ctx 가 끝날 때까지) interval 마다 fn 을 부른다
func (a *App) stream(ctx context.Context, interval time.Duration, fn func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; a.opts.count == 0 || i < a.opts.count; i++ {
		if err := fn(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// ParseOpenTime "dd/mm hh:mm" (현지 시각, 올해). 비어 있으면 다음 분 경계.
func ParseOpenTime(s string, now time.Time) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return now.Truncate(time.Minute).Add(time.Minute).Unix(), nil
	}
	t, err := time.ParseInLocation("02/01 15:04", strings.TrimSpace(s), now.Location())
	if err != nil {
		return 0, fmt.Errorf("open time must look like dd/mm hh:mm: %w", err)
	}
	t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	return t.Unix(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
