// pkg/network/server.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/config"
	"github.com/opd-ai/go-ballistics/pkg/event"
	"github.com/opd-ai/go-ballistics/pkg/logging"
	"github.com/opd-ai/go-ballistics/pkg/physics"
	"github.com/opd-ai/go-ballistics/pkg/validation"
)

// AimServer answers solve requests from aim clients
type AimServer struct {
	listener    net.Listener
	solver      *ballistics.Solver
	validator   *validation.MessageValidator
	logger      *logging.Logger
	events      *event.Bus
	solverCfg   config.SolverConfig
	serviceCfg  config.ServiceConfig
	clients     map[string]*Client
	clientsLock sync.RWMutex
	running     atomic.Bool
	stopOnce    sync.Once
	acceptLock  sync.Mutex // guards handlers.Add against Stop
	handlers    sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	solved      atomic.Uint64
	cache       *expirable.LRU[staticKey, ballistics.Solution]
	cacheHits   atomic.Uint64
}

// staticKey identifies a static solve; Solve is pure so equal keys share a
// solution.
type staticKey struct {
	target, origin, gravity physics.Vector3
	speed                   float64
}

// Client represents a connected client
type Client struct {
	ID          string
	Conn        net.Conn
	ConnectedAt time.Time
	writeLock   sync.Mutex
}

// NewAimServer creates a server using cfg's solver and service settings.
func NewAimServer(cfg *config.Config, logger *logging.Logger) *AimServer {
	if logger == nil {
		logger = logging.NewLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	var cache *expirable.LRU[staticKey, ballistics.Solution]
	if cfg.Service.SolutionCacheSize > 0 {
		cache = expirable.NewLRU[staticKey, ballistics.Solution](cfg.Service.SolutionCacheSize, nil, cfg.Service.SolutionCacheTTL.Std())
	}
	return &AimServer{
		solver:     ballistics.NewSolver(cfg.Solver, logger),
		validator:  validation.NewMessageValidatorWithLimits(cfg.Service.MaxRequestsPerMin, cfg.Service.MaxIterations),
		logger:     logger,
		events:     event.NewEventBus(),
		solverCfg:  cfg.Solver,
		serviceCfg: cfg.Service,
		clients:    make(map[string]*Client),
		ctx:        ctx,
		cancel:     cancel,
		cache:      cache,
	}
}

// Start listens on address and accepts connections in the background
func (s *AimServer) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.running.Store(true)

	go s.acceptConnections()

	s.logger.Info(s.ctx, "aim server started", "address", listener.Addr().String())
	return nil
}

// Addr returns the listening address, or nil before Start
func (s *AimServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenerAddress returns the listening address while the server runs and
// an empty string otherwise.
func (s *AimServer) ListenerAddress() string {
	if !s.running.Load() || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// CacheHits returns how many static requests were answered from the
// solution cache
func (s *AimServer) CacheHits() uint64 {
	return s.cacheHits.Load()
}

// Events returns the bus on which the server publishes client and solve
// events. Handlers run on the connection goroutine and must not block.
func (s *AimServer) Events() *event.Bus {
	return s.events
}

// Running reports whether the server accepts connections
func (s *AimServer) Running() bool {
	return s.running.Load()
}

// ClientCount returns the number of connected clients
func (s *AimServer) ClientCount() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

// Solved returns the number of solve requests answered so far
func (s *AimServer) Solved() uint64 {
	return s.solved.Load()
}

// Stop closes the listener and every client connection and waits for the
// connection handlers to return.
func (s *AimServer) Stop() {
	s.stopOnce.Do(func() {
		s.acceptLock.Lock()
		s.running.Store(false)
		s.acceptLock.Unlock()
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}

		s.clientsLock.Lock()
		for _, client := range s.clients {
			client.Conn.Close()
		}
		s.clientsLock.Unlock()

		s.handlers.Wait()
		s.validator.Close()

		s.logger.Info(context.Background(), "aim server stopped", "solved", s.solved.Load())
	})
}

// Bounds of the pause after a failed Accept
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// acceptConnections accepts new client connections until the listener is
// closed. Other Accept errors are retried with a doubling delay.
func (s *AimServer) acceptConnections() {
	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			s.logger.Error(s.ctx, "error accepting connection", err, "retry_in", delay)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		if s.ClientCount() >= s.serviceCfg.MaxClients {
			s.logger.Warn(s.ctx, "rejecting connection, server full",
				"remote", conn.RemoteAddr().String(),
				"max_clients", s.serviceCfg.MaxClients,
			)
			conn.Close()
			continue
		}

		s.acceptLock.Lock()
		if !s.running.Load() {
			s.acceptLock.Unlock()
			conn.Close()
			return
		}
		s.handlers.Add(1)
		s.acceptLock.Unlock()

		go func() {
			defer s.handlers.Done()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn answers requests on conn until the client disconnects, the
// connection fails or the server stops. It closes conn before returning.
func (s *AimServer) ServeConn(conn net.Conn) {
	client := &Client{
		ID:          logging.GenerateCorrelationID(),
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	ctx := logging.WithCorrelationID(s.ctx, client.ID)

	s.addClient(client)
	defer s.removeClient(ctx, client)
	if ctx.Err() != nil {
		return
	}

	s.logger.Info(ctx, "client connected", "remote", remoteAddr(conn))
	s.events.Publish(event.NewClientEvent(event.ClientConnected, s, client.ID, remoteAddr(conn)))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.serviceCfg.ReadTimeout.Std())); err != nil {
			s.logger.Debug(ctx, "setting read deadline", "error", err)
		}

		msgType, data, err := readMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn(ctx, "error reading message", "error", err)
			}
			return
		}

		if msgType == DisconnectNotification {
			s.logger.Info(ctx, "client disconnecting")
			return
		}

		respType, resp := s.handleMessage(ctx, client.ID, msgType, data)
		if err := s.send(client, respType, resp); err != nil {
			s.logger.Warn(ctx, "error writing response", "error", err)
			return
		}
	}
}

// handleMessage answers one request. Request errors become ErrorResponse
// payloads; the caller writes whatever is returned.
func (s *AimServer) handleMessage(ctx context.Context, clientID string, msgType MessageType, data []byte) (MessageType, any) {
	if err := s.validator.ValidateMessage(data, clientID); err != nil {
		code := CodeInvalidRequest
		if errors.Is(err, validation.ErrRateLimited) {
			code = CodeRateLimited
		}
		s.logger.Warn(ctx, "rejected message", "type", msgType.String(), "error", err)
		s.events.Publish(event.NewRejectEvent(s, clientID, code, err.Error()))
		return ErrorResponse, ErrorResult{Code: code, Message: err.Error()}
	}

	switch msgType {
	case SolveStaticRequest:
		var req StaticRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return s.reject(ctx, clientID, 0, fmt.Errorf("%w: %v", validation.ErrInvalidRequest, err))
		}
		if err := validateStatic(req); err != nil {
			return s.reject(ctx, clientID, req.ID, err)
		}
		sol := s.solveStatic(req)
		s.solved.Add(1)
		s.logger.Debug(ctx, "solved static target", "id", req.ID, "will_hit", sol.WillHit)
		s.events.Publish(event.NewSolveEvent(s, clientID, req.ID, false, sol))
		return SolveResponse, SolveResult{ID: req.ID, Solution: sol}

	case SolveMovingRequest:
		var req MovingRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return s.reject(ctx, clientID, 0, fmt.Errorf("%w: %v", validation.ErrInvalidRequest, err))
		}
		if err := s.validateMoving(req); err != nil {
			return s.reject(ctx, clientID, req.ID, err)
		}
		iterations, epsilon := req.Controls(s.solverCfg)
		sol := s.solver.SolveMoving(ctx, req.Target, req.TargetVelocity, req.Origin, req.Gravity, req.Speed, iterations, epsilon)
		s.solved.Add(1)
		s.logger.Debug(ctx, "solved moving target", "id", req.ID, "will_hit", sol.WillHit, "iterations", sol.Iterations)
		s.events.Publish(event.NewSolveEvent(s, clientID, req.ID, true, sol))
		return SolveResponse, SolveResult{ID: req.ID, Solution: sol}

	case PingRequest:
		return PingResponse, json.RawMessage(data)

	default:
		s.logger.Warn(ctx, "unknown message type", "type", msgType.String())
		s.events.Publish(event.NewRejectEvent(s, clientID, CodeUnknownType, msgType.String()))
		return ErrorResponse, ErrorResult{
			Code:    CodeUnknownType,
			Message: fmt.Sprintf("unknown message type %d", byte(msgType)),
		}
	}
}

func (s *AimServer) solveStatic(req StaticRequest) ballistics.Solution {
	if s.cache == nil {
		return s.solver.Solve(req.Target, req.Origin, req.Gravity, req.Speed)
	}

	key := staticKey{target: req.Target, origin: req.Origin, gravity: req.Gravity, speed: req.Speed}
	if sol, ok := s.cache.Get(key); ok {
		s.cacheHits.Add(1)
		return sol
	}
	sol := s.solver.Solve(req.Target, req.Origin, req.Gravity, req.Speed)
	s.cache.Add(key, sol)
	return sol
}

func validateStatic(req StaticRequest) error {
	return errors.Join(
		validation.ValidateVector("target", req.Target),
		validation.ValidateVector("origin", req.Origin),
		validation.ValidateVector("gravity", req.Gravity),
		validation.ValidateSpeed(req.Speed),
	)
}

func (s *AimServer) validateMoving(req MovingRequest) error {
	return errors.Join(
		validation.ValidateVector("target", req.Target),
		validation.ValidateVector("targetVelocity", req.TargetVelocity),
		validation.ValidateVector("origin", req.Origin),
		validation.ValidateVector("gravity", req.Gravity),
		validation.ValidateSpeed(req.Speed),
		s.validator.ValidateIterations(req.Iterations),
		validation.ValidateEpsilonTime(req.EpsilonTime),
	)
}

func (s *AimServer) reject(ctx context.Context, clientID string, id uint64, err error) (MessageType, any) {
	s.logger.Warn(ctx, "invalid request", "id", id, "error", err)
	s.events.Publish(event.NewRejectEvent(s, clientID, CodeInvalidRequest, err.Error()))
	return ErrorResponse, ErrorResult{ID: id, Code: CodeInvalidRequest, Message: err.Error()}
}

// send writes a frame to client under its write deadline
func (s *AimServer) send(client *Client, msgType MessageType, msg any) error {
	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	if err := client.Conn.SetWriteDeadline(time.Now().Add(s.serviceCfg.WriteTimeout.Std())); err != nil {
		return err
	}
	return writeMessage(client.Conn, msgType, msg)
}

func (s *AimServer) addClient(client *Client) {
	s.clientsLock.Lock()
	s.clients[client.ID] = client
	s.clientsLock.Unlock()
}

// removeClient removes a client from the server
func (s *AimServer) removeClient(ctx context.Context, client *Client) {
	s.clientsLock.Lock()
	delete(s.clients, client.ID)
	s.clientsLock.Unlock()

	client.Conn.Close()

	s.events.Publish(event.NewClientEvent(event.ClientDisconnected, s, client.ID, remoteAddr(client.Conn)))
	s.logger.Info(ctx, "client removed", "connected_for", time.Since(client.ConnectedAt).String())
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
