package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"qxtrader/protocol"
)

// Engine.IO(v3) / Socket.IO 패킷
const (
	packetOpen    = '0'
	packetClose   = '1'
	packetPing    = '2'
	packetPong    = '3'
	packetMessage = '4'

	sioConnect     = '0'
	sioDisconnect  = '1'
	sioEvent       = '2'
	sioError       = '4'
	sioBinaryEvent = '5'

	// 바이너리 메시지 프레임의 선두 바이트
	binaryPrefix = 0x04
)

var (
	framePing = []byte{packetPing}
	framePong = []byte{packetPong}
)

type frameKind int

const (
	frameUnknown frameKind = iota
	frameOpen
	frameClose
	framePingKind
	framePongKind
	frameConnected
	frameDisconnected
	frameEvent
	frameBinaryHeader
	frameError
)

type frame struct {
	kind    frameKind
	name    string
	payload []byte
}

type openHandshake struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"`
	PingTimeout  int64  `json:"pingTimeout"`
}

func parseFrame(data []byte) (frame, error) {
	if len(data) == 0 {
		return frame{}, errors.New("empty frame")
	}
	switch data[0] {
	case packetOpen:
		return frame{kind: frameOpen, payload: data[1:]}, nil
	case packetClose:
		return frame{kind: frameClose}, nil
	case packetPing:
		return frame{kind: framePingKind}, nil
	case packetPong:
		return frame{kind: framePongKind}, nil
	case packetMessage:
	default:
		return frame{}, fmt.Errorf("unknown packet type %q", data[0])
	}

	if len(data) < 2 {
		return frame{}, errors.New("message without socket.io type")
	}
	body := data[2:]
	switch data[1] {
	case sioConnect:
		return frame{kind: frameConnected}, nil
	case sioDisconnect:
		return frame{kind: frameDisconnected}, nil
	case sioError:
		return frame{kind: frameError, payload: body}, nil
	case sioEvent:
		name, payload, err := parseEventArray(body)
		if err != nil {
			return frame{}, err
		}
		return frame{kind: frameEvent, name: name, payload: payload}, nil
	case sioBinaryEvent:
		// 451-["name",{"_placeholder":true,"num":0}]
		idx := bytes.IndexByte(body, '-')
		if idx < 0 {
			return frame{}, errors.New("binary event without attachment count")
		}
		name, _, err := parseEventArray(body[idx+1:])
		if err != nil {
			return frame{}, err
		}
		return frame{kind: frameBinaryHeader, name: name}, nil
	}
	return frame{}, fmt.Errorf("unknown socket.io type %q", data[1])
}

// parseEventArray ["name", payload] 에서 이름과 원본 payload 를 꺼낸다.
func parseEventArray(body []byte) (string, []byte, error) {
	// ack id 가 붙어 오면 건너뛴다
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(body[i:], &parts); err != nil {
		return "", nil, fmt.Errorf("event array: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, errors.New("event array is empty")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name: %w", err)
	}
	if len(parts) < 2 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

func encodeEvent(cmd protocol.Command) ([]byte, error) {
	if cmd.Name == "" {
		return nil, errors.New("command without name")
	}
	args := []any{cmd.Name}
	if cmd.Payload != nil {
		args = append(args, cmd.Payload)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return append([]byte{packetMessage, sioEvent}, raw...), nil
}
