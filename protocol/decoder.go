package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"qxtrader/model"
)

type Decoder struct {
	names Names
}

func NewDecoder(names Names) *Decoder {
	return &Decoder{names: names}
}

func (d *Decoder) Names() Names {
	return d.names
}

func protocolErr(name string, err error) error {
	return fmt.Errorf("%w: decode %q: %v", model.ErrProtocol, name, err)
}

// Decode 이벤트 이름으로 variant 를 고른다. 이름이 없는 바이너리 프레임은 내용으로 분류한다.
func (d *Decoder) Decode(name string, raw []byte) (Event, error) {
	if name == "" {
		name = d.Classify(raw)
	}
	n := d.names

	var (
		ev  Event
		err error
	)
	switch name {
	case "":
		return Unknown{Raw: raw}, nil
	case n.AuthAccepted:
		return AuthAccepted{}, nil
	case n.AuthRejected:
		return AuthRejected{Reason: reasonOf(raw, "authorization rejected")}, nil
	case n.Instruments:
		ev, err = decodeInstruments(raw)
	case n.Ticks:
		ev, err = decodeTicks(raw)
	case n.Block:
		ev, err = decodeBlock(raw)
	case n.History:
		ev, err = decodeHistory(raw)
	case n.Balance:
		ev, err = decodeBalance(raw)
	case n.BuyConfirmed:
		ev, err = decodeBuy(raw)
	case n.PendingConfirmed:
		ev, err = decodePending(raw)
	case n.DealsSettled:
		ev, err = decodeDeals(raw)
	case n.Sentiment:
		ev, err = decodeSentiment(raw)
	case n.Signals:
		ev, err = decodeSignals(raw)
	case n.RefillAck:
		ev, err = decodeRefill(raw)
	case n.ServerError:
		ev, err = decodeServerError(raw)
	default:
		return Unknown{Name: name, Raw: raw}, nil
	}
	if err != nil {
		return nil, protocolErr(name, err)
	}
	return ev, nil
}

// Classify 이름 없이 도착한 프레임의 이벤트 이름을 추정한다. 모르면 "".
func (d *Decoder) Classify(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	n := d.names

	if raw[0] == '[' {
		var rows [][]json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil || len(rows) == 0 || len(rows[0]) < 3 {
			return ""
		}
		if _, err := rawString(rows[0][0]); err == nil {
			return n.Ticks
		}
		return ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := obj[k]; ok {
				return true
			}
		}
		return false
	}
	switch {
	case has("deals"):
		return n.DealsSettled
	case has("liveBalance", "demoBalance"):
		return n.Balance
	case has("history"), has("candles", "data") && has("index"):
		return n.History
	case has("candles", "data") && has("asset"):
		return n.Block
	case has("signals"):
		return n.Signals
	case has("sentiment"):
		return n.Sentiment
	case has("error"):
		return n.ServerError
	case has("ticket"):
		return n.PendingConfirmed
	case has("openPrice", "requestId"):
		return n.BuyConfirmed
	}
	return ""
}

func reasonOf(raw []byte, fallback string) string {
	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		for _, s := range []string{obj.Error, obj.Message, obj.Reason} {
			if s != "" {
				return s
			}
		}
	}
	if s := strings.Trim(string(bytes.TrimSpace(raw)), `"`); s != "" && s != "null" && !strings.HasPrefix(s, "{") {
		return s
	}
	return fallback
}

// instruments/list 행: [id, symbol, name, type, precision, payout, ..., is_open(14)]
const (
	instID     = 0
	instSymbol = 1
	instName   = 2
	instPayout = 5
	instOpen   = 14
)

func decodeInstruments(raw []byte) (Event, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	assets := make([]model.AssetDescriptor, 0, len(rows))
	for i, row := range rows {
		if len(row) <= instOpen {
			return nil, fmt.Errorf("instrument row %d: %d fields", i, len(row))
		}
		id, err := rawFloat(row[instID])
		if err != nil {
			return nil, fmt.Errorf("instrument row %d id: %w", i, err)
		}
		symbol, err := rawString(row[instSymbol])
		if err != nil {
			return nil, fmt.Errorf("instrument row %d symbol: %w", i, err)
		}
		name, _ := rawString(row[instName])
		payout, _ := rawFloat(row[instPayout])
		open, err := rawBool(row[instOpen])
		if err != nil {
			return nil, fmt.Errorf("instrument row %d open flag: %w", i, err)
		}
		assets = append(assets, model.AssetDescriptor{
			ID:          int64(id),
			Symbol:      symbol,
			DisplayName: strings.TrimSpace(strings.ReplaceAll(name, "\n", "")),
			IsOpen:      open,
			Payout:      payout,
		})
	}
	return Instruments{Assets: assets}, nil
}

// quotes/stream 행: [asset, time, price, ...]
func decodeTicks(raw []byte) (Event, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	ticks := make([]model.Tick, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("tick row %d: %d fields", i, len(row))
		}
		asset, err := rawString(row[0])
		if err != nil {
			return nil, fmt.Errorf("tick row %d asset: %w", i, err)
		}
		ts, err := rawFloat(row[1])
		if err != nil {
			return nil, fmt.Errorf("tick row %d time: %w", i, err)
		}
		price, err := rawFloat(row[2])
		if err != nil {
			return nil, fmt.Errorf("tick row %d price: %w", i, err)
		}
		ticks = append(ticks, model.Tick{Asset: asset, Time: ts, Price: price})
	}
	return Ticks{Ticks: ticks}, nil
}

// candleRow 는 [t, open, close, high, low(, ticks)] 배열 또는 객체를 받는다.
type candleRow struct {
	Time  num `json:"time"`
	Open  num `json:"open"`
	Close num `json:"close"`
	High  num `json:"high"`
	Low   num `json:"low"`
	Ticks num `json:"ticks"`
}

func (r *candleRow) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		type plain candleRow
		var p plain
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*r = candleRow(p)
		return nil
	}
	var fields []num
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if len(fields) < 5 {
		return fmt.Errorf("candle row has %d fields", len(fields))
	}
	r.Time, r.Open, r.Close, r.High, r.Low = fields[0], fields[1], fields[2], fields[3], fields[4]
	if len(fields) > 5 {
		r.Ticks = fields[5]
	}
	return nil
}

func (r candleRow) candle(asset string, period int64) model.Candle {
	return model.Candle{
		Asset:  asset,
		Time:   model.AlignTime(float64(r.Time), period),
		Period: period,
		Open:   float64(r.Open),
		High:   float64(r.High),
		Low:    float64(r.Low),
		Close:  float64(r.Close),
		Ticks:  int(r.Ticks),
		Source: model.SourceServer,
	}
}

type candlePayload struct {
	Asset   string              `json:"asset"`
	Period  num                 `json:"period"`
	Index   num                 `json:"index"`
	Candles []candleRow         `json:"candles"`
	Data    []candleRow         `json:"data"`
	History [][]json.RawMessage `json:"history"`
}

// candles 히스토리 응답은 period 가 빠질 수 있어 requirePeriod 로 구분한다.
func (p candlePayload) candles(requirePeriod bool) ([]model.Candle, error) {
	rows := p.Candles
	if len(rows) == 0 {
		rows = p.Data
	}
	if len(rows) == 0 {
		return nil, nil
	}
	period := int64(p.Period)
	if period <= 0 && requirePeriod {
		return nil, errors.New("candles without period")
	}
	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.candle(p.Asset, period))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func decodeBlock(raw []byte) (Event, error) {
	var p candlePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Asset == "" {
		return nil, errors.New("candle block without asset")
	}
	candles, err := p.candles(true)
	if err != nil {
		return nil, err
	}
	return Block{Block: model.CandleBlock{Asset: p.Asset, Period: int64(p.Period), Candles: candles}}, nil
}

func decodeHistory(raw []byte) (Event, error) {
	var p candlePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	candles, err := p.candles(false)
	if err != nil {
		return nil, err
	}
	ticks := make([]model.Tick, 0, len(p.History))
	for i, row := range p.History {
		if len(row) < 2 {
			return nil, fmt.Errorf("history row %d: %d fields", i, len(row))
		}
		ts, err := rawFloat(row[0])
		if err != nil {
			return nil, fmt.Errorf("history row %d time: %w", i, err)
		}
		price, err := rawFloat(row[1])
		if err != nil {
			return nil, fmt.Errorf("history row %d price: %w", i, err)
		}
		ticks = append(ticks, model.Tick{Asset: p.Asset, Time: ts, Price: price})
	}
	return History{Batch: model.HistoricalBatch{
		Asset:   p.Asset,
		Period:  int64(p.Period),
		Index:   int64(p.Index),
		Candles: candles,
		Ticks:   ticks,
	}}, nil
}

func decodeBalance(raw []byte) (Event, error) {
	var p struct {
		Demo num `json:"demoBalance"`
		Live num `json:"liveBalance"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return Balance{Demo: float64(p.Demo), Live: float64(p.Live)}, nil
}

func decodeBuy(raw []byte) (Event, error) {
	var p struct {
		ID             flexString `json:"id"`
		RequestID      num        `json:"requestId"`
		Asset          string     `json:"asset"`
		Amount         num        `json:"amount"`
		Command        num        `json:"command"`
		OpenPrice      num        `json:"openPrice"`
		OpenTimestamp  num        `json:"openTimestamp"`
		CloseTimestamp num        `json:"closeTimestamp"`
		IsDemo         flexBool   `json:"isDemo"`
		Timestamp      num        `json:"timestamp"`
		Error          string     `json:"error"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Error != "" {
		return ServerError{Reason: p.Error, RequestID: int64(p.RequestID)}, nil
	}
	if p.ID == "" {
		return nil, errors.New("order confirmation without id")
	}
	ts := float64(p.Timestamp)
	if ts == 0 {
		ts = float64(p.OpenTimestamp)
	}
	return BuyConfirmed{
		ID:        string(p.ID),
		RequestID: int64(p.RequestID),
		Asset:     p.Asset,
		Amount:    float64(p.Amount),
		Command:   int(p.Command),
		OpenPrice: float64(p.OpenPrice),
		OpenTime:  int64(p.OpenTimestamp),
		CloseTime: int64(p.CloseTimestamp),
		IsDemo:    bool(p.IsDemo),
		ServerTs:  ts,
	}, nil
}

func decodePending(raw []byte) (Event, error) {
	var p struct {
		Ticket    flexString `json:"ticket"`
		Asset     string     `json:"asset"`
		Amount    num        `json:"amount"`
		Command   num        `json:"command"`
		OpenTime  num        `json:"openTime"`
		Timeframe num        `json:"timeframe"`
		Error     string     `json:"error"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.Error != "" {
		return ServerError{Reason: p.Error}, nil
	}
	return PendingConfirmed{
		Ticket:   string(p.Ticket),
		Asset:    p.Asset,
		Amount:   float64(p.Amount),
		Command:  int(p.Command),
		OpenTime: int64(p.OpenTime),
		Duration: int64(p.Timeframe),
	}, nil
}

func decodeDeals(raw []byte) (Event, error) {
	var p struct {
		Deals []struct {
			ID             flexString `json:"id"`
			Profit         num        `json:"profit"`
			ClosePrice     num        `json:"closePrice"`
			CloseTimestamp num        `json:"closeTimestamp"`
		} `json:"deals"`
		Profit num `json:"profit"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	ev := DealsSettled{Total: float64(p.Profit), Deals: make([]Deal, 0, len(p.Deals))}
	for _, d := range p.Deals {
		ev.Deals = append(ev.Deals, Deal{
			ID:         string(d.ID),
			Profit:     float64(d.Profit),
			ClosePrice: float64(d.ClosePrice),
			CloseTime:  int64(d.CloseTimestamp),
		})
	}
	return ev, nil
}

func decodeSentiment(raw []byte) (Event, error) {
	var p struct {
		Asset     string `json:"asset"`
		Sentiment struct {
			Buy  num `json:"buy"`
			Sell num `json:"sell"`
		} `json:"sentiment"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return Sentiment{Sentiment: model.Sentiment{
		Asset: p.Asset,
		Buy:   float64(p.Sentiment.Buy),
		Sell:  float64(p.Sentiment.Sell),
	}}, nil
}

type signalRow struct {
	Asset     string `json:"asset"`
	Period    num    `json:"period"`
	Direction string `json:"direction"`
	Time      num    `json:"time"`
}

func decodeSignals(raw []byte) (Event, error) {
	var rows []signalRow
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var p struct {
			Signals []signalRow `json:"signals"`
		}
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, err
		}
		rows = p.Signals
	} else if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Signal, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Signal{
			Asset:     r.Asset,
			Period:    int64(r.Period),
			Direction: strings.ToLower(r.Direction),
			Time:      float64(r.Time),
		})
	}
	return Signals{Signals: out}, nil
}

func decodeRefill(raw []byte) (Event, error) {
	var p struct {
		Balance num `json:"balance"`
	}
	// 응답 형식이 일정하지 않아 원문도 같이 넘긴다
	_ = json.Unmarshal(raw, &p)
	return RefillAck{Balance: float64(p.Balance), Raw: string(bytes.TrimSpace(raw))}, nil
}

func decodeServerError(raw []byte) (Event, error) {
	var p struct {
		RequestID num `json:"requestId"`
	}
	_ = json.Unmarshal(raw, &p)
	return ServerError{Reason: reasonOf(raw, "server error"), RequestID: int64(p.RequestID)}, nil
}
