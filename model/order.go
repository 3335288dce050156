package model

import (
	"strings"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionCall Direction = "call"
	DirectionPut  Direction = "put"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionCall:
		return DirectionCall, nil
	case DirectionPut:
		return DirectionPut, nil
	}
	return "", ErrInvalidDirection
}

func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

// TimeMode 는 만기 계산 방식. TIMER 는 지금부터 duration 초, TIME 은 다음 분 경계 기준.
type TimeMode string

const (
	TimeModeTimer TimeMode = "TIMER"
	TimeModeTime  TimeMode = "TIME"
)

type OperationStatus string

const (
	StatusPending   OperationStatus = "PENDING"
	StatusConfirmed OperationStatus = "CONFIRMED"
	StatusRejected  OperationStatus = "REJECTED"
	StatusTimedOut  OperationStatus = "TIMED_OUT"
)

type OperationResult string

const (
	ResultUnknown OperationResult = "UNKNOWN"
	ResultWin     OperationResult = "WIN"
	ResultLoss    OperationResult = "LOSS"
	ResultDoji    OperationResult = "DOJI"
)

// ResultFromProfit classifies a settled profit.
func ResultFromProfit(profit float64) OperationResult {
	switch {
	case profit > 0:
		return ResultWin
	case profit < 0:
		return ResultLoss
	}
	return ResultDoji
}

// Operation 은 매수 요청 하나의 생애주기. ID 는 서버 확인 전까지 비어있다.
type Operation struct {
	LocalID   uuid.UUID       `json:"localId"`
	ID        string          `json:"id,omitempty"`
	RequestID int64           `json:"requestId"`
	Amount    float64         `json:"amount"`
	Asset     string          `json:"asset"`
	Direction Direction       `json:"direction"`
	Duration  int64           `json:"duration"`
	OpenPrice float64         `json:"openPrice"`
	OpenTime  int64           `json:"openTime"`
	CloseTime int64           `json:"closeTime"`
	Status    OperationStatus `json:"status"`
	Result    OperationResult `json:"result"`
	Profit    float64         `json:"profit"`
	IsDemo    bool            `json:"isDemo"`
	Pending   bool            `json:"pending,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

func NewOperation(amount float64, asset string, direction Direction, duration int64) Operation {
	return Operation{
		LocalID:   uuid.New(),
		Amount:    amount,
		Asset:     asset,
		Direction: direction,
		Duration:  duration,
		Status:    StatusPending,
		Result:    ResultUnknown,
	}
}

func (o Operation) Settled() bool {
	return o.Result != ResultUnknown
}
