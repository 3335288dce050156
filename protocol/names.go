package protocol

// Names 는 브로커 이벤트 이름 테이블. 스키마가 바뀌면 여기만 고친다.
type Names struct {
	// inbound
	AuthAccepted     string `yaml:"auth_accepted"`
	AuthRejected     string `yaml:"auth_rejected"`
	Instruments      string `yaml:"instruments"`
	Ticks            string `yaml:"ticks"`
	Block            string `yaml:"block"`
	History          string `yaml:"history"`
	Balance          string `yaml:"balance"`
	BuyConfirmed     string `yaml:"buy_confirmed"`
	PendingConfirmed string `yaml:"pending_confirmed"`
	DealsSettled     string `yaml:"deals_settled"`
	Sentiment        string `yaml:"sentiment"`
	Signals          string `yaml:"signals"`
	RefillAck        string `yaml:"refill_ack"`
	ServerError      string `yaml:"server_error"`

	// outbound
	Authorization       string `yaml:"authorization"`
	Tick                string `yaml:"tick"`
	InstrumentsUpdate   string `yaml:"instruments_update"`
	InstrumentsFollow   string `yaml:"instruments_follow"`
	InstrumentsUnfollow string `yaml:"instruments_unfollow"`
	DepthFollow         string `yaml:"depth_follow"`
	DepthUnfollow       string `yaml:"depth_unfollow"`
	ChartNotification   string `yaml:"chart_notification"`
	HistoryLoad         string `yaml:"history_load"`
	OrdersOpen          string `yaml:"orders_open"`
	PendingCreate       string `yaml:"pending_create"`
	OrdersCancel        string `yaml:"orders_cancel"`
	DemoRefill          string `yaml:"demo_refill"`
	SignalSubscribe     string `yaml:"signal_subscribe"`
}

func DefaultNames() Names {
	return Names{
		AuthAccepted:     "s_authorization",
		AuthRejected:     "authorization/reject",
		Instruments:      "instruments/list",
		Ticks:            "quotes/stream",
		Block:            "chart_notification",
		History:          "history/list/v2",
		Balance:          "s_balance",
		BuyConfirmed:     "s_orders/open",
		PendingConfirmed: "s_pending/create",
		DealsSettled:     "s_orders/close",
		Sentiment:        "s_depth/change",
		Signals:          "signals/list",
		RefillAck:        "s_demo/refill",
		ServerError:      "s_error",

		Authorization:       "authorization",
		Tick:                "tick",
		InstrumentsUpdate:   "instruments/update",
		InstrumentsFollow:   "instruments/follow",
		InstrumentsUnfollow: "instruments/unfollow",
		DepthFollow:         "depth/follow",
		DepthUnfollow:       "depth/unfollow",
		ChartNotification:   "chart_notification/get",
		HistoryLoad:         "history/load",
		OrdersOpen:          "orders/open",
		PendingCreate:       "pending/create",
		OrdersCancel:        "orders/cancel",
		DemoRefill:          "demo/refill",
		SignalSubscribe:     "signal/subscribe",
	}
}

// Merge 빈 값이 아닌 필드만 덮어쓴다 (설정 파일 부분 오버라이드용)
func (n Names) Merge(o Names) Names {
	pick := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	pick(&n.AuthAccepted, o.AuthAccepted)
	pick(&n.AuthRejected, o.AuthRejected)
	pick(&n.Instruments, o.Instruments)
	pick(&n.Ticks, o.Ticks)
	pick(&n.Block, o.Block)
	pick(&n.History, o.History)
	pick(&n.Balance, o.Balance)
	pick(&n.BuyConfirmed, o.BuyConfirmed)
	pick(&n.PendingConfirmed, o.PendingConfirmed)
	pick(&n.DealsSettled, o.DealsSettled)
	pick(&n.Sentiment, o.Sentiment)
	pick(&n.Signals, o.Signals)
	pick(&n.RefillAck, o.RefillAck)
	pick(&n.ServerError, o.ServerError)
	pick(&n.Authorization, o.Authorization)
	pick(&n.Tick, o.Tick)
	pick(&n.InstrumentsUpdate, o.InstrumentsUpdate)
	pick(&n.InstrumentsFollow, o.InstrumentsFollow)
	pick(&n.InstrumentsUnfollow, o.InstrumentsUnfollow)
	pick(&n.DepthFollow, o.DepthFollow)
	pick(&n.DepthUnfollow, o.DepthUnfollow)
	pick(&n.ChartNotification, o.ChartNotification)
	pick(&n.HistoryLoad, o.HistoryLoad)
	pick(&n.OrdersOpen, o.OrdersOpen)
	pick(&n.PendingCreate, o.PendingCreate)
	pick(&n.OrdersCancel, o.OrdersCancel)
	pick(&n.DemoRefill, o.DemoRefill)
	pick(&n.SignalSubscribe, o.SignalSubscribe)
	return n
}
