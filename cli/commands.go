package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"qxtrader/backtest"
	"qxtrader/bot"
	"qxtrader/chartview"
	"qxtrader/consumer"
	"qxtrader/feed"
	"qxtrader/interfaces"
	"qxtrader/journal"
	"qxtrader/model"
	"qxtrader/notification"
	"qxtrader/strategy"
	"qxtrader/utils/log"
)

func testConnection(ctx context.Context, a *App) error {
	a.printf("Connected: %v\n", a.client.CheckConnect())
	return nil
}

func getProfile(ctx context.Context, a *App) error {
	p, err := a.client.GetProfile(ctx)
	if err != nil {
		return err
	}
	a.printf("User: %s\n", p.NickName)
	a.printf("Demo Balance: %s%.2f\n", p.CurrencySymbol, p.DemoBalance)
	a.printf("Real Balance: %s%.2f\n", p.CurrencySymbol, p.LiveBalance)
	a.printf("Id: %d\n", p.ProfileID)
	a.printf("Avatar: %s\n", p.Avatar)
	a.printf("Country: %s (%s)\n", p.CountryName, p.Country)
	a.printf("Time Offset: %d\n", p.TimeOffset)
	return nil
}

func getBalance(ctx context.Context, a *App) error {
	balance, err := a.client.GetBalance(ctx)
	if err != nil {
		return err
	}
	a.printf("Current Balance (%s): %.2f\n", a.client.AccountMode(), balance)
	return nil
}

func getSignalData(ctx context.Context, a *App) error {
	if err := a.client.StartSignalsData(ctx); err != nil {
		return err
	}
	return a.stream(ctx, time.Second, func() error {
		signals := a.client.GetSignalData("")
		for _, asset := range sortedKeys(signals) {
			for _, s := range signals[asset] {
				a.printf("%s %ds %s @ %.0f\n", s.Asset, s.Period, s.Direction, s.Time)
			}
		}
		return nil
	})
}

func (a *App) direction() (model.Direction, error) {
	return model.ParseDirection(a.opts.direction)
}

// openAsset 닫힌 자산이면 OTC 짝으로 바꿔본다
func (a *App) openAsset(ctx context.Context) (string, error) {
	name, desc, found, err := a.client.GetAvailableAsset(ctx, a.opts.asset, true)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", model.ErrUnknownAsset, a.opts.asset)
	}
	if !desc.IsOpen {
		return "", fmt.Errorf("asset %s is closed", name)
	}
	return name, nil
}

func (a *App) buy(ctx context.Context, mode model.TimeMode) (model.Operation, error) {
	direction, err := a.direction()
	if err != nil {
		return model.Operation{}, err
	}
	asset, err := a.openAsset(ctx)
	if err != nil {
		return model.Operation{}, err
	}
	ok, op, err := a.client.Buy(ctx, a.opts.amount, asset, direction, a.opts.duration, mode)
	if err != nil {
		return op, err
	}
	if !ok {
		return op, fmt.Errorf("%w: %s", model.ErrRejected, op.Reason)
	}
	a.printf("Order placed: %s %s %.2f (%ds) id=%s\n", op.Asset, op.Direction, op.Amount, op.Duration, op.ID)
	return op, nil
}

func buySimple(ctx context.Context, a *App) error {
	op, err := a.buy(ctx, model.TimeModeTimer)
	if err != nil {
		return err
	}
	a.printJSON(op)
	return nil
}

func buyAndCheckWin(ctx context.Context, a *App) error {
	before, err := a.client.GetBalance(ctx)
	if err != nil {
		return err
	}
	a.printf("Balance before: %.2f\n", before)
	op, err := a.buy(ctx, model.TimeModeTimer)
	if err != nil {
		return err
	}
	a.printf("Waiting for result...\n")
	settled, err := a.client.CheckWin(ctx, op.ID)
	if err != nil {
		return err
	}
	a.printf("Result: %s Profit: %.2f\n", settled.Result, settled.Profit)
	after, err := a.client.GetBalance(ctx)
	if err != nil {
		return err
	}
	a.printf("Balance after: %.2f\n", after)
	return nil
}

func tradeAndMonitor(ctx context.Context, a *App) error {
	op, err := a.buy(ctx, model.TimeModeTime)
	if err != nil {
		return err
	}
	result, err := a.client.MonitorTrade(ctx, op)
	if err != nil {
		return err
	}
	a.printf("Estimated result: %s\n", result)
	return nil
}

func buyPending(ctx context.Context, a *App) error {
	direction, err := a.direction()
	if err != nil {
		return err
	}
	openTime, err := ParseOpenTime(a.opts.openTime, time.Now())
	if err != nil {
		return err
	}
	asset, err := a.openAsset(ctx)
	if err != nil {
		return err
	}
	pending, err := a.client.OpenPending(ctx, a.opts.amount, asset, direction, a.opts.duration, openTime)
	if err != nil {
		return err
	}
	a.printf("Pending order %s on %s opens at %s\n", pending.Ticket, pending.Asset,
		time.Unix(pending.OpenTime, 0).Format("02/01 15:04"))
	return nil
}

func sellOption(ctx context.Context, a *App) error {
	op, err := a.buy(ctx, model.TimeModeTimer)
	if err != nil {
		return err
	}
	sold, err := a.client.SellOption(ctx, op.ID)
	if err != nil {
		return err
	}
	a.printJSON(sold)
	return nil
}

func getResult(ctx context.Context, a *App) error {
	id := a.opts.id
	if id == "" {
		id = a.client.LastBuyID()
	}
	if id == "" {
		return errors.New("-id is required")
	}
	op, ok := a.client.GetResult(id)
	if !ok {
		a.printf("Operation %s not found\n", id)
		return nil
	}
	a.printJSON(op)
	return nil
}

func balanceRefill(ctx context.Context, a *App) error {
	ack, err := a.client.EditPracticeBalance(ctx, a.opts.amount)
	if err != nil {
		return err
	}
	a.printf("Practice balance refilled: %.2f\n", ack.Balance)
	return nil
}

func getPayout(ctx context.Context, a *App) error {
	payout, err := a.client.GetPayout(ctx, a.opts.asset)
	if err != nil {
		return err
	}
	a.printf("Payout %s: %.0f%%\n", a.opts.asset, payout)
	return nil
}

func (a *App) printCandles(candles []model.Candle) {
	for _, c := range candles {
		a.printf("%s O:%.5f H:%.5f L:%.5f C:%.5f ticks:%d\n",
			c.OpenTime().Format("2006-01-02 15:04:05"), c.Open, c.High, c.Low, c.Close, c.Ticks)
	}
	a.printf("%d candles\n", len(candles))
}

func getCandle(ctx context.Context, a *App) error {
	end := float64(time.Now().Unix())
	candles, err := a.client.GetCandles(ctx, a.opts.asset, end, a.opts.offset, a.opts.period)
	if err != nil && !errors.Is(err, model.ErrDataGap) {
		return err
	}
	if err != nil {
		a.printf("warning: %v\n", err)
	}
	a.printCandles(candles)
	return nil
}

func getCandleV2(ctx context.Context, a *App) error {
	candles, err := a.client.GetCandleV2(ctx, a.opts.asset, a.opts.period)
	if err != nil {
		return err
	}
	a.printCandles(candles)
	return nil
}

// history -days 만큼의 과거 캔들을 offset 창 단위로 모은다
func (a *App) history(ctx context.Context) ([]model.Candle, error) {
	if a.opts.offset <= 0 {
		return nil, errors.New("-offset must be positive")
	}
	from := float64(time.Now().Add(-time.Duration(a.opts.days) * 24 * time.Hour).Unix())
	steps := int(int64(a.opts.days) * 86400 / a.opts.offset)
	if steps < 1 {
		steps = 1
	}
	candles, err := a.client.GetCandlesProgressive(ctx, a.opts.asset, from, a.opts.offset, a.opts.period, steps)
	if err != nil && !errors.Is(err, model.ErrDataGap) {
		return nil, err
	}
	return candles, nil
}

func getCandleProgressive(ctx context.Context, a *App) error {
	candles, err := a.history(ctx)
	if err != nil {
		return err
	}
	a.printCandles(candles)
	return nil
}

func runBacktest(ctx context.Context, a *App) error {
	strat, err := NewStrategy(a.cfg.Strategy, a.opts.period)
	if err != nil {
		return err
	}
	payout, err := a.client.GetPayout(ctx, a.opts.asset)
	if err != nil {
		return err
	}
	candles, err := a.history(ctx)
	if err != nil {
		return err
	}
	log.Infof("[BACKTEST] loaded %d candles for %s", len(candles), a.opts.asset)

	report := backtest.Run(a.opts.asset, candles, strat, backtest.Config{
		Amount:   a.opts.amount,
		Duration: a.opts.duration,
		Payout:   payout,
		Balance:  a.opts.balance,
	})
	a.printf("%s\n", report)
	return nil
}

func getRealtimeCandle(ctx context.Context, a *App) error {
	if err := a.client.StartCandlesStream(ctx, a.opts.asset, a.opts.period); err != nil {
		return err
	}
	return a.stream(ctx, time.Second, func() error {
		candles, err := a.client.GetRealtimeCandles(ctx, a.opts.asset, a.opts.period)
		if errors.Is(err, model.ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if n := len(candles); n > 0 {
			c := candles[n-1]
			a.printf("%s %s O:%.5f H:%.5f L:%.5f C:%.5f\n", a.opts.asset,
				c.OpenTime().Format("15:04:05"), c.Open, c.High, c.Low, c.Close)
		}
		return nil
	})
}

func getRealtimeSentiment(ctx context.Context, a *App) error {
	if err := a.client.StartMoodStream(ctx, a.opts.asset); err != nil {
		return err
	}
	return a.stream(ctx, 500*time.Millisecond, func() error {
		s, err := a.client.GetRealtimeSentiment(ctx, a.opts.asset)
		if errors.Is(err, model.ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		a.printf("%s Buy: %.0f%% Sell: %.0f%%\n", s.Asset, s.Buy, s.Sell)
		return nil
	})
}

func getRealtimePrice(ctx context.Context, a *App) error {
	if err := a.client.StartRealtimePrice(ctx, a.opts.asset); err != nil {
		return err
	}
	return a.stream(ctx, 500*time.Millisecond, func() error {
		ticks, err := a.client.GetRealtimePrice(ctx, a.opts.asset)
		if errors.Is(err, model.ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if n := len(ticks); n > 0 {
			t := ticks[n-1]
			a.printf("%s %.5f @ %.3f\n", t.Asset, t.Price, t.Time)
		}
		return nil
	})
}

func assetsOpen(ctx context.Context, a *App) error {
	names, err := a.client.GetAllAssetNames(ctx)
	if err != nil {
		return err
	}
	a.printf("Checking open assets...\n")
	for _, n := range names {
		desc, found, err := a.client.CheckAssetOpen(ctx, n.Symbol)
		if err != nil {
			return err
		}
		state := "closed"
		if found && desc.IsOpen {
			state = "open"
		}
		a.printf("%-24s %-16s %s\n", n.DisplayName, n.Symbol, state)
	}
	return nil
}

func getAllAssets(ctx context.Context, a *App) error {
	assets, err := a.client.GetAllAssets(ctx)
	if err != nil {
		return err
	}
	for _, symbol := range sortedKeys(assets) {
		a.printf("%s: %d\n", symbol, assets[symbol])
	}
	return nil
}

// NewStrategy 이름으로 전략을 만든다
func NewStrategy(name string, period int64) (interfaces.Strategy, error) {
	switch name {
	case "", "keltner_rsi":
		return strategy.NewKeltnerRSI(period), nil
	case "zigzag_cross":
		return strategy.NewZigZagCross(period), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

func (a *App) notifier() interfaces.Notifier {
	tg := notification.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID)
	if !tg.Enabled() {
		log.Infof("[SETUP] telegram notifier disabled")
		return nil
	}
	return tg
}

func runBot(ctx context.Context, a *App) error {
	strat, err := NewStrategy(a.cfg.Strategy, a.opts.period)
	if err != nil {
		return err
	}
	notifier := a.notifier()

	trades, err := journal.NewCSVJournal(a.cfg.JournalPath)
	if err != nil {
		return err
	}
	operations := consumer.NewOperationFeedConsumer(trades, notifier)
	a.client.OperationFeed().Subscribe(feed.AllAssets, operations.OnOperation)

	cfg := a.cfg.Bot()
	cfg.Amount = a.opts.amount
	cfg.Duration = a.opts.duration
	monitor := bot.NewMonitor(a.client, strat, notifier, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.client.SynchronizeTime(gctx)
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	if a.cfg.ChartAddr != "" {
		store := chartview.NewChartDataStore(a.client.Candles(), strat, 0)
		server := chartview.NewServer(store, a.opts.asset, a.opts.period)
		g.Go(func() error {
			return server.Start(gctx, a.cfg.ChartAddr)
		})
	}

	err = g.Wait()
	signals, done := monitor.Stats()
	wins, losses, draws, profit := operations.Summary()
	a.printf("Signals: %d Trades: %d W/L/D: %d/%d/%d Net: %.2f\n", signals, done, wins, losses, draws, profit)
	return err
}

func runChart(ctx context.Context, a *App) error {
	strat, err := NewStrategy(a.cfg.Strategy, a.opts.period)
	if err != nil {
		return err
	}
	if err := a.client.StartCandlesStream(ctx, a.opts.asset, a.opts.period); err != nil {
		return err
	}
	end := float64(time.Now().Unix())
	if _, err := a.client.GetCandles(ctx, a.opts.asset, end, a.opts.offset, a.opts.period); err != nil &&
		!errors.Is(err, model.ErrDataGap) {
		log.Warnf("[CHART] history for %s: %v", a.opts.asset, err)
	}

	store := chartview.NewChartDataStore(a.client.Candles(), strat, 0)
	server := chartview.NewServer(store, a.opts.asset, a.opts.period)
	return server.Start(ctx, a.cfg.ChartAddr)
}
