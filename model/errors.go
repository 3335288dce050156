package model

import (
	"errors"
	"fmt"
)

// 에러 분류. 호출부는 errors.Is 로 판정한다.
var (
	ErrTransport = errors.New("transport error")
	ErrAuth      = errors.New("authentication rejected")
	ErrProtocol  = errors.New("protocol error")
	ErrTimeout   = errors.New("timed out waiting for data")
	ErrRejected  = errors.New("operation rejected")
	ErrDataGap   = errors.New("candle data gap")

	// 로컬 사전 검증 실패는 모두 ErrRejected 로도 판정된다
	ErrInvalidDirection = fmt.Errorf("%w: direction must be call or put", ErrRejected)
	ErrAssetClosed      = fmt.Errorf("%w: asset is closed", ErrRejected)
	ErrUnknownAsset     = fmt.Errorf("%w: unknown asset", ErrRejected)
	ErrInvalidAmount    = fmt.Errorf("%w: invalid amount", ErrRejected)

	ErrNotConnected       = errors.New("not connected")
	ErrMissingCredentials = errors.New("missing credentials")
)
