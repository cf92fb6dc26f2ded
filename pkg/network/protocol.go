// Package network serves the ballistic solver over TCP and provides the
// matching client, a circuit breaker around remote calls and a remote aimer
// that falls back to solving locally.
//
// Every frame is a one-byte MessageType, a big-endian uint16 payload length
// and a JSON payload.
package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/config"
	"github.com/opd-ai/go-ballistics/pkg/physics"
)

// MessageType defines the type of network message
type MessageType byte

const (
	SolveStaticRequest MessageType = iota
	SolveMovingRequest
	SolveResponse
	ErrorResponse
	PingRequest
	PingResponse
	DisconnectNotification
)

func (t MessageType) String() string {
	switch t {
	case SolveStaticRequest:
		return "solve_static"
	case SolveMovingRequest:
		return "solve_moving"
	case SolveResponse:
		return "solve_response"
	case ErrorResponse:
		return "error"
	case PingRequest:
		return "ping"
	case PingResponse:
		return "pong"
	case DisconnectNotification:
		return "disconnect"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// ParseMessageType returns the MessageType whose String form is name.
func ParseMessageType(name string) (MessageType, bool) {
	for t := SolveStaticRequest; t <= DisconnectNotification; t++ {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

// MaxPayloadSize is the largest payload a frame can carry
const MaxPayloadSize = 65535

// ErrMessageTooLarge is returned when a payload does not fit in a frame
var ErrMessageTooLarge = errors.New("message too large")

// Error codes carried by ErrorResponse frames
const (
	CodeInvalidRequest = "invalid_request"
	CodeRateLimited    = "rate_limited"
	CodeUnknownType    = "unknown_type"
)

// StaticRequest asks the server to aim at a static target.
type StaticRequest struct {
	ID      uint64          `json:"id"`
	Target  physics.Vector3 `json:"target"`
	Origin  physics.Vector3 `json:"origin"`
	Gravity physics.Vector3 `json:"gravity"`
	Speed   float64         `json:"speed"`
}

// MovingRequest asks the server to aim at a target moving at constant
// velocity. Iterations and EpsilonTime fall back to the server's solver
// settings when omitted.
type MovingRequest struct {
	ID             uint64          `json:"id"`
	Target         physics.Vector3 `json:"target"`
	TargetVelocity physics.Vector3 `json:"targetVelocity"`
	Origin         physics.Vector3 `json:"origin"`
	Gravity        physics.Vector3 `json:"gravity"`
	Speed          float64         `json:"speed"`
	Iterations     *int            `json:"iterations,omitempty"`
	EpsilonTime    *float64        `json:"epsilonTime,omitempty"`
}

// Controls returns the iteration budget and time tolerance for req, taking
// each from cfg when the request leaves it unset.
func (req MovingRequest) Controls(cfg config.SolverConfig) (iterations int, epsilonTime float64) {
	iterations, epsilonTime = cfg.Iterations, cfg.EpsilonTime
	if req.Iterations != nil {
		iterations = *req.Iterations
	}
	if req.EpsilonTime != nil {
		epsilonTime = *req.EpsilonTime
	}
	return iterations, epsilonTime
}

// SolveResult answers a solve request with the same ID
type SolveResult struct {
	ID       uint64              `json:"id"`
	Solution ballistics.Solution `json:"solution"`
}

// ErrorResult reports a rejected request
type ErrorResult struct {
	ID      uint64 `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ping carries the sender's timestamp in Unix nanoseconds and is echoed back
// unchanged.
type Ping struct {
	Sent int64 `json:"sent"`
}

// RemoteError is returned by the client when the server answers with an
// ErrorResponse.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Code, e.Message)
}

// readMessage reads one frame
func readMessage(r io.Reader) (MessageType, []byte, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	msgType := MessageType(header[0])
	msgLen := binary.BigEndian.Uint16(header[1:])

	data := make([]byte, msgLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}

	return msgType, data, nil
}

// writeMessage serializes msg and writes it as a single frame
func writeMessage(w io.Writer, msgType MessageType, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msgType, err)
	}

	if len(data) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	frame := make([]byte, 3, 3+len(data))
	frame[0] = byte(msgType)
	binary.BigEndian.PutUint16(frame[1:], uint16(len(data)))
	frame = append(frame, data...)

	_, err = w.Write(frame)
	return err
}
