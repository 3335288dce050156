package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"qxtrader/model"
)

const (
	DefaultPath = "trades_log.csv"
	timeLayout  = "2006-01-02 15:04:05"
)

var Header = []string{"Timestamp", "Asset", "Trade Type", "Amount", "Result", "Profit/Loss"}

// Entry 는 CSV 한 줄.
type Entry struct {
	Timestamp time.Time
	Asset     string
	TradeType string
	Amount    decimal.Decimal
	Result    string
	Profit    decimal.Decimal
}

// CSVJournal 추가 전용 거래 기록. 파일이 없으면 헤더부터 쓴다.
type CSVJournal struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func NewCSVJournal(path string) (*CSVJournal, error) {
	if path == "" {
		path = DefaultPath
	}
	j := &CSVJournal{path: path, now: time.Now}
	if err := j.initialize(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) Path() string {
	return j.path
}

func (j *CSVJournal) initialize() error {
	if _, err := os.Stat(j.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("journal stat: %w", err)
	}
	return j.write(Header)
}

// Record 정산 결과를 한 줄 추가한다. 시간은 UTC.
func (j *CSVJournal) Record(op model.Operation) error {
	ts := j.now()
	if op.CloseTime > 0 {
		ts = time.Unix(op.CloseTime, 0)
	}
	return j.Append(Entry{
		Timestamp: ts,
		Asset:     op.Asset,
		TradeType: strings.ToUpper(string(op.Direction)),
		Amount:    decimal.NewFromFloat(op.Amount),
		Result:    string(op.Result),
		Profit:    decimal.NewFromFloat(op.Profit),
	})
}

func (j *CSVJournal) Append(e Entry) error {
	return j.write([]string{
		e.Timestamp.UTC().Format(timeLayout),
		e.Asset,
		e.TradeType,
		e.Amount.StringFixed(2),
		e.Result,
		e.Profit.StringFixed(2),
	})
}

func (j *CSVJournal) write(row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal open: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("journal write: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Entries 기록 전체를 읽는다. 헤더는 건너뛴다.
func (j *CSVJournal) Entries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	var entries []Entry
	for line := 0; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("journal read: %w", err)
		}
		if line == 0 {
			continue
		}
		e, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line+1, err)
		}
		entries = append(entries, e)
	}
}

func parseRow(row []string) (Entry, error) {
	ts, err := time.ParseInLocation(timeLayout, row[0], time.UTC)
	if err != nil {
		return Entry{}, err
	}
	amount, err := decimal.NewFromString(row[3])
	if err != nil {
		return Entry{}, err
	}
	profit, err := decimal.NewFromString(row[5])
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Timestamp: ts,
		Asset:     row[1],
		TradeType: row[2],
		Amount:    amount,
		Result:    row[4],
		Profit:    profit,
	}, nil
}

// NetProfit 기록된 손익 합계
func NetProfit(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Profit)
	}
	return total
}
