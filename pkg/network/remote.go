package network

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/config"
	"github.com/opd-ai/go-ballistics/pkg/logging"
)

// Source tells where a RemoteAimer solution was computed
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// RemoteAimer solves on an aim server through a circuit breaker and falls
// back to the local solver whenever the remote call fails or the breaker is
// open. It always returns a solution.
type RemoteAimer struct {
	address   string
	cfg       *config.Config
	service   *NetworkService
	local     *ballistics.Solver
	logger    *logging.Logger
	mu        sync.Mutex
	client    *AimClient
	fallbacks uint64
}

// NewRemoteAimer creates an aimer for the server at address. The connection
// is established lazily on the first request.
func NewRemoteAimer(address string, cfg *config.Config, logger *logging.Logger) *RemoteAimer {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &RemoteAimer{
		address: address,
		cfg:     cfg,
		service: NewNetworkService(cfg.Service, logger),
		local:   ballistics.NewSolver(cfg.Solver, logger),
		logger:  logger,
	}
}

// Service exposes the circuit breaker, mainly for health checks
func (r *RemoteAimer) Service() *NetworkService {
	return r.service
}

// Fallbacks returns how many requests were answered locally
func (r *RemoteAimer) Fallbacks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallbacks
}

// SolveStatic aims at a static target
func (r *RemoteAimer) SolveStatic(ctx context.Context, req StaticRequest) (ballistics.Solution, Source) {
	var sol ballistics.Solution
	err := r.service.Execute(ctx, func() error {
		client, err := r.connect(ctx)
		if err != nil {
			return err
		}
		sol, err = client.SolveStatic(ctx, req)
		r.releaseOnError(client, err)
		return err
	})
	if err == nil {
		return sol, SourceRemote
	}

	r.noteFallback(ctx, err)
	return r.local.Solve(req.Target, req.Origin, req.Gravity, req.Speed), SourceLocal
}

// SolveMoving aims at a moving target
func (r *RemoteAimer) SolveMoving(ctx context.Context, req MovingRequest) (ballistics.Solution, Source) {
	var sol ballistics.Solution
	err := r.service.Execute(ctx, func() error {
		client, err := r.connect(ctx)
		if err != nil {
			return err
		}
		sol, err = client.SolveMoving(ctx, req)
		r.releaseOnError(client, err)
		return err
	})
	if err == nil {
		return sol, SourceRemote
	}

	r.noteFallback(ctx, err)
	iterations, epsilon := req.Controls(r.cfg.Solver)
	return r.local.SolveMoving(ctx, req.Target, req.TargetVelocity, req.Origin, req.Gravity, req.Speed, iterations, epsilon), SourceLocal
}

// Ping checks the aim server through the circuit breaker, retrying transient
// failures.
func (r *RemoteAimer) Ping(ctx context.Context) error {
	return r.service.ExecuteWithRetry(ctx, func() error {
		client, err := r.connect(ctx)
		if err != nil {
			return err
		}
		_, err = client.Ping(ctx)
		r.releaseOnError(client, err)
		return err
	})
}

// Close closes the connection to the aim server, if any
func (r *RemoteAimer) Close() error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (r *RemoteAimer) connect(ctx context.Context) (*AimClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	client, err := Dial(ctx, r.address, r.cfg.Service)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

// releaseOnError drops a client whose connection broke. Server rejections
// leave the connection usable.
func (r *RemoteAimer) releaseOnError(client *AimClient, err error) {
	if err == nil {
		return
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return
	}

	r.mu.Lock()
	if r.client == client {
		r.client = nil
	}
	r.mu.Unlock()
	client.Close()
}

func (r *RemoteAimer) noteFallback(ctx context.Context, err error) {
	r.mu.Lock()
	r.fallbacks++
	r.mu.Unlock()

	r.logger.Warn(ctx, "remote solve failed, solving locally",
		"address", r.address,
		"error", err,
		"breaker", r.service.GetState().String(),
	)
}
