package model

import "strings"

// AssetDescriptor 는 instruments 목록의 한 항목. Symbol(예: EURUSD_otc)이 키.
type AssetDescriptor struct {
	ID          int64   `json:"id"`
	Symbol      string  `json:"symbol"`
	DisplayName string  `json:"displayName"`
	IsOpen      bool    `json:"isOpen"`
	Payout      float64 `json:"payout"`
}

const OTCSuffix = "_otc"

func IsOTC(symbol string) bool {
	return strings.HasSuffix(symbol, OTCSuffix)
}

// ToggleOTC EURUSD <-> EURUSD_otc
func ToggleOTC(symbol string) string {
	if IsOTC(symbol) {
		return strings.TrimSuffix(symbol, OTCSuffix)
	}
	return symbol + OTCSuffix
}

type AccountMode string

const (
	AccountPractice AccountMode = "PRACTICE"
	AccountReal     AccountMode = "REAL"
)

func ParseAccountMode(s string) (AccountMode, bool) {
	switch AccountMode(strings.ToUpper(strings.TrimSpace(s))) {
	case AccountPractice:
		return AccountPractice, true
	case AccountReal:
		return AccountReal, true
	}
	return "", false
}

func (m AccountMode) IsDemo() bool {
	return m != AccountReal
}

// Balance 는 서버가 push 한 잔고 스냅샷.
type Balance struct {
	Demo     float64     `json:"demoBalance"`
	Live     float64     `json:"liveBalance"`
	Mode     AccountMode `json:"mode"`
	InFlight float64     `json:"inFlightProfit"`
}

// Stored returns the balance of the active account mode.
func (b Balance) Stored() float64 {
	if b.Mode.IsDemo() {
		return b.Demo
	}
	return b.Live
}

type Profile struct {
	NickName       string  `json:"nickname"`
	ProfileID      int64   `json:"id"`
	DemoBalance    float64 `json:"demoBalance"`
	LiveBalance    float64 `json:"liveBalance"`
	Avatar         string  `json:"avatar"`
	CurrencyCode   string  `json:"currencyCode"`
	CurrencySymbol string  `json:"currencySymbol"`
	Country        string  `json:"country"`
	CountryName    string  `json:"countryName"`
	TimeOffset     int64   `json:"timeOffset"`
}

// Sentiment 는 실시간 매수/매도 심리(%).
type Sentiment struct {
	Asset string  `json:"asset"`
	Buy   float64 `json:"buy"`
	Sell  float64 `json:"sell"`
}

// Signal 은 브로커가 push 하는 시그널 한 건.
type Signal struct {
	Asset     string  `json:"asset"`
	Period    int64   `json:"period"`
	Direction string  `json:"direction"`
	Time      float64 `json:"time"`
}
