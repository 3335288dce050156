package protocol

import "qxtrader/model"

// Event 는 디코딩된 인바운드 이벤트. 아래 타입들로 닫혀 있다.
type Event interface {
	event()
}

// Timestamped 서버 시각을 실어오는 이벤트는 시간 동기화에 쓰인다.
type Timestamped interface {
	ServerTime() float64
}

type AuthAccepted struct{}

type AuthRejected struct {
	Reason string
}

type Instruments struct {
	Assets []model.AssetDescriptor
}

type Ticks struct {
	Ticks []model.Tick
}

func (e Ticks) ServerTime() float64 {
	var last float64
	for _, t := range e.Ticks {
		if t.Time > last {
			last = t.Time
		}
	}
	return last
}

type Block struct {
	Block model.CandleBlock
}

type History struct {
	Batch model.HistoricalBatch
}

type Balance struct {
	Demo float64
	Live float64
}

type BuyConfirmed struct {
	ID        string
	RequestID int64
	Asset     string
	Amount    float64
	Command   int
	OpenPrice float64
	OpenTime  int64
	CloseTime int64
	IsDemo    bool
	ServerTs  float64
}

func (e BuyConfirmed) ServerTime() float64 {
	return e.ServerTs
}

// Direction command 0=call, 1=put
func (e BuyConfirmed) Direction() model.Direction {
	if e.Command == 1 {
		return model.DirectionPut
	}
	return model.DirectionCall
}

type PendingConfirmed struct {
	Ticket   string
	Asset    string
	Amount   float64
	Command  int
	OpenTime int64
	Duration int64
}

type Deal struct {
	ID         string
	Profit     float64
	ClosePrice float64
	CloseTime  int64
}

type DealsSettled struct {
	Deals []Deal
	Total float64
}

type Sentiment struct {
	Sentiment model.Sentiment
}

type Signals struct {
	Signals []model.Signal
}

type RefillAck struct {
	Balance float64
	Raw     string
}

type ServerError struct {
	Reason    string
	RequestID int64
}

type Unknown struct {
	Name string
	Raw  []byte
}

func (AuthAccepted) event()     {}
func (AuthRejected) event()     {}
func (Instruments) event()      {}
func (Ticks) event()            {}
func (Block) event()            {}
func (History) event()          {}
func (Balance) event()          {}
func (BuyConfirmed) event()     {}
func (PendingConfirmed) event() {}
func (DealsSettled) event()     {}
func (Sentiment) event()        {}
func (Signals) event()          {}
func (RefillAck) event()        {}
func (ServerError) event()      {}
func (Unknown) event()          {}
