package protocol

import "qxtrader/model"

// Command 는 송신 이벤트 하나. Payload 가 nil 이면 이름만 보낸다.
type Command struct {
	Name    string
	Payload any
}

// optionType: 100 은 TIMER(지금부터 N초), 1 은 TIME(시각 지정)
const (
	optionTypeTimer = 100
	optionTypeTime  = 1
)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func commandOf(d model.Direction) int {
	if d == model.DirectionPut {
		return 1
	}
	return 0
}

func (n Names) AuthorizationCommand(token string, isDemo bool, tournamentID int64) Command {
	return Command{Name: n.Authorization, Payload: map[string]any{
		"session":      token,
		"isDemo":       boolInt(isDemo),
		"tournamentId": tournamentID,
	}}
}

func (n Names) TickCommand() Command {
	return Command{Name: n.Tick}
}

func (n Names) InstrumentsUpdateCommand(asset string, period int64) Command {
	return Command{Name: n.InstrumentsUpdate, Payload: map[string]any{"asset": asset, "period": period}}
}

func (n Names) FollowCommand(asset string) Command {
	return Command{Name: n.InstrumentsFollow, Payload: asset}
}

func (n Names) UnfollowCommand(asset string) Command {
	return Command{Name: n.InstrumentsUnfollow, Payload: asset}
}

func (n Names) DepthFollowCommand(asset string) Command {
	return Command{Name: n.DepthFollow, Payload: asset}
}

func (n Names) DepthUnfollowCommand(asset string) Command {
	return Command{Name: n.DepthUnfollow, Payload: asset}
}

func (n Names) ChartNotificationCommand(asset string) Command {
	return Command{Name: n.ChartNotification, Payload: map[string]any{"asset": asset, "version": "1.0.0"}}
}

func (n Names) HistoryLoadCommand(asset string, index, end, offset, period int64) Command {
	return Command{Name: n.HistoryLoad, Payload: map[string]any{
		"asset":  asset,
		"index":  index,
		"time":   end,
		"offset": offset,
		"period": period,
	}}
}

type OpenOrder struct {
	Asset     string
	Amount    float64
	Direction model.Direction
	// TIMER 면 duration 초, TIME 이면 만기 unix 시각
	Time      int64
	Mode      model.TimeMode
	IsDemo    bool
	RequestID int64
}

func (n Names) OrdersOpenCommand(o OpenOrder) Command {
	optionType := optionTypeTimer
	if o.Mode == model.TimeModeTime {
		optionType = optionTypeTime
	}
	return Command{Name: n.OrdersOpen, Payload: map[string]any{
		"asset":        o.Asset,
		"amount":       o.Amount,
		"time":         o.Time,
		"action":       string(o.Direction),
		"isDemo":       boolInt(o.IsDemo),
		"tournamentId": 0,
		"requestId":    o.RequestID,
		"optionType":   optionType,
	}}
}

func (n Names) PendingCreateCommand(asset string, amount float64, d model.Direction, duration, openTime int64) Command {
	return Command{Name: n.PendingCreate, Payload: map[string]any{
		"openType":  0,
		"asset":     asset,
		"openTime":  openTime,
		"timeframe": duration,
		"command":   commandOf(d),
		"amount":    amount,
	}}
}

func (n Names) OrdersCancelCommand(ticket string) Command {
	return Command{Name: n.OrdersCancel, Payload: map[string]any{"ticket": ticket}}
}

func (n Names) DemoRefillCommand(amount float64) Command {
	return Command{Name: n.DemoRefill, Payload: map[string]any{"amount": amount}}
}

func (n Names) SignalSubscribeCommand() Command {
	return Command{Name: n.SignalSubscribe}
}
