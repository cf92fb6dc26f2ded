// pkg/network/client.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/config"
)

// ErrClientClosed is returned by requests on a closed or broken client
var ErrClientClosed = errors.New("aim client closed")

// AimClient sends solve requests to an AimServer over one connection.
// Requests are serialized; an AimClient is safe for concurrent use.
type AimClient struct {
	conn         net.Conn
	mu           sync.Mutex
	closed       bool
	nextID       uint64
	readTimeout  time.Duration
	writeTimeout time.Duration
	latency      time.Duration
}

// Dial connects to the aim server at address. The dial honors ctx and the
// configured read timeout, whichever ends first.
func Dial(ctx context.Context, address string, cfg config.ServiceConfig) (*AimClient, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout.Std())
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to aim server: %w", err)
	}

	return NewAimClient(conn, cfg), nil
}

// NewAimClient wraps an established connection
func NewAimClient(conn net.Conn, cfg config.ServiceConfig) *AimClient {
	return &AimClient{
		conn:         conn,
		readTimeout:  cfg.ReadTimeout.Std(),
		writeTimeout: cfg.WriteTimeout.Std(),
	}
}

// SolveStatic asks the server to aim at a static target. req.ID is assigned
// by the client.
func (c *AimClient) SolveStatic(ctx context.Context, req StaticRequest) (ballistics.Solution, error) {
	return c.solve(ctx, SolveStaticRequest, func(id uint64) any {
		req.ID = id
		return req
	})
}

// SolveMoving asks the server to aim at a moving target. req.ID is assigned
// by the client.
func (c *AimClient) SolveMoving(ctx context.Context, req MovingRequest) (ballistics.Solution, error) {
	return c.solve(ctx, SolveMovingRequest, func(id uint64) any {
		req.ID = id
		return req
	})
}

func (c *AimClient) solve(ctx context.Context, msgType MessageType, build func(id uint64) any) (ballistics.Solution, error) {
	respType, data, id, err := c.roundTrip(ctx, msgType, build)
	if err != nil {
		return ballistics.Solution{}, err
	}

	switch respType {
	case SolveResponse:
		var result SolveResult
		if err := json.Unmarshal(data, &result); err != nil {
			return ballistics.Solution{}, fmt.Errorf("failed to parse solve response: %w", err)
		}
		if result.ID != id {
			return ballistics.Solution{}, fmt.Errorf("response for request %d, expected %d", result.ID, id)
		}
		return result.Solution, nil
	case ErrorResponse:
		return ballistics.Solution{}, parseRemoteError(data)
	default:
		return ballistics.Solution{}, fmt.Errorf("unexpected response type: %s", respType)
	}
}

// Ping measures the round trip time to the server
func (c *AimClient) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	respType, data, _, err := c.roundTrip(ctx, PingRequest, func(uint64) any {
		return Ping{Sent: start.UnixNano()}
	})
	if err != nil {
		return 0, err
	}
	if respType == ErrorResponse {
		return 0, parseRemoteError(data)
	}
	if respType != PingResponse {
		return 0, fmt.Errorf("unexpected response type: %s", respType)
	}

	var pong Ping
	if err := json.Unmarshal(data, &pong); err != nil {
		return 0, fmt.Errorf("failed to parse ping response: %w", err)
	}
	if pong.Sent != start.UnixNano() {
		return 0, errors.New("ping response does not match request")
	}

	rtt := time.Since(start)
	c.mu.Lock()
	c.latency = rtt
	c.mu.Unlock()
	return rtt, nil
}

// GetLatency returns the round trip time measured by the last Ping
func (c *AimClient) GetLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Close notifies the server and closes the connection
func (c *AimClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	writeMessage(c.conn, DisconnectNotification, nil)
	return c.conn.Close()
}

type roundTripResult struct {
	msgType MessageType
	data    []byte
	err     error
}

// roundTrip writes one request and reads its response. If ctx ends first the
// connection is closed and the client becomes unusable.
func (c *AimClient) roundTrip(ctx context.Context, msgType MessageType, build func(id uint64) any) (MessageType, []byte, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, nil, 0, ErrClientClosed
	}

	c.nextID++
	id := c.nextID
	msg := build(id)

	c.setDeadlines(ctx)
	defer c.conn.SetDeadline(time.Time{})

	resultChan := make(chan roundTripResult, 1)
	go func() {
		if err := writeMessage(c.conn, msgType, msg); err != nil {
			resultChan <- roundTripResult{err: fmt.Errorf("failed to send %s: %w", msgType, err)}
			return
		}
		respType, data, err := readMessage(c.conn)
		if err != nil {
			err = fmt.Errorf("failed to read response: %w", err)
		}
		resultChan <- roundTripResult{msgType: respType, data: data, err: err}
	}()

	select {
	case result := <-resultChan:
		if result.err != nil {
			c.markBroken()
		}
		return result.msgType, result.data, id, result.err
	case <-ctx.Done():
		c.markBroken()
		<-resultChan
		return 0, nil, id, ctx.Err()
	}
}

// setDeadlines applies the context deadline or the configured timeouts
func (c *AimClient) setDeadlines(ctx context.Context) {
	readDeadline := time.Now().Add(c.readTimeout)
	writeDeadline := time.Now().Add(c.writeTimeout)
	if deadline, ok := ctx.Deadline(); ok {
		readDeadline = deadline
		writeDeadline = deadline
	}
	c.conn.SetReadDeadline(readDeadline)
	c.conn.SetWriteDeadline(writeDeadline)
}

// markBroken closes the connection after a failed exchange, since the
// stream may be mid-frame. Must be called with c.mu held.
func (c *AimClient) markBroken() {
	c.closed = true
	c.conn.Close()
}

func parseRemoteError(data []byte) error {
	var result ErrorResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("failed to parse error response: %w", err)
	}
	return &RemoteError{Code: result.Code, Message: result.Message}
}
