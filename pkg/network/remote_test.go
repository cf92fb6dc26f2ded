package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/logging"
	"github.com/opd-ai/go-ballistics/pkg/physics"
)

// unusedAddress returns a loopback address nothing listens on
func unusedAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestRemoteAimer_UsesServer(t *testing.T) {
	cfg := testConfig()
	server := startServer(t, cfg)

	aimer := NewRemoteAimer(server.Addr().String(), cfg, logging.NewDiscardLogger())
	defer aimer.Close()

	req := StaticRequest{Target: physics.Vector3{X: 50, Y: 30, Z: 20}, Gravity: earthGravity, Speed: 400}
	sol, source := aimer.SolveStatic(context.Background(), req)
	if source != SourceRemote {
		t.Fatalf("expected a remote solution, got %s", source)
	}
	if !sol.WillHit {
		t.Errorf("expected a hit, got %+v", sol)
	}

	moving := MovingRequest{Target: physics.Vector3{X: 100}, TargetVelocity: physics.Vector3{X: 10}, Gravity: earthGravity, Speed: 400}
	if _, source := aimer.SolveMoving(context.Background(), moving); source != SourceRemote {
		t.Errorf("expected a remote moving solution, got %s", source)
	}

	if err := aimer.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
	if server.Solved() != 2 {
		t.Errorf("server solved %d requests, expected 2", server.Solved())
	}
	if aimer.Fallbacks() != 0 {
		t.Errorf("expected no fallbacks, got %d", aimer.Fallbacks())
	}
}

func TestRemoteAimer_FallsBackLocally(t *testing.T) {
	cfg := testConfig()
	cfg.Service.CircuitBreakerMaxConsecutiveFails = 2

	aimer := NewRemoteAimer(unusedAddress(t), cfg, logging.NewDiscardLogger())
	defer aimer.Close()

	local := ballistics.NewSolver(cfg.Solver, nil)
	req := StaticRequest{Target: physics.Vector3{X: 50, Y: 30, Z: 20}, Gravity: earthGravity, Speed: 400}
	want := local.Solve(req.Target, req.Origin, req.Gravity, req.Speed)

	for i := 0; i < 3; i++ {
		sol, source := aimer.SolveStatic(context.Background(), req)
		if source != SourceLocal {
			t.Fatalf("call %d: expected a local solution, got %s", i+1, source)
		}
		if sol != want {
			t.Errorf("call %d: fallback %+v differs from local solve %+v", i+1, sol, want)
		}
	}

	if aimer.Service().GetState() != gobreaker.StateOpen {
		t.Errorf("expected the breaker to open, got %s", aimer.Service().GetState())
	}
	if aimer.Fallbacks() != 3 {
		t.Errorf("expected 3 fallbacks, got %d", aimer.Fallbacks())
	}
}

func TestRemoteAimer_MovingFallbackHonorsRequest(t *testing.T) {
	cfg := testConfig()
	aimer := NewRemoteAimer(unusedAddress(t), cfg, logging.NewDiscardLogger())
	defer aimer.Close()

	iterations := 2
	req := MovingRequest{
		Target:         physics.Vector3{X: 100},
		TargetVelocity: physics.Vector3{X: 10},
		Gravity:        earthGravity,
		Speed:          400,
		Iterations:     &iterations,
	}
	sol, source := aimer.SolveMoving(context.Background(), req)
	if source != SourceLocal {
		t.Fatalf("expected a local solution, got %s", source)
	}
	if sol.Iterations > 2 {
		t.Errorf("expected at most 2 iterations, got %d", sol.Iterations)
	}
}

func TestRemoteAimer_ReconnectsAfterServerRestart(t *testing.T) {
	cfg := testConfig()
	first := NewAimServer(cfg, logging.NewDiscardLogger())
	if err := first.Start(cfg.Service.ServerAddress); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	addr := first.Addr().String()

	aimer := NewRemoteAimer(addr, cfg, logging.NewDiscardLogger())
	defer aimer.Close()

	req := StaticRequest{Target: physics.Vector3{X: 10}, Gravity: earthGravity, Speed: 400}
	if _, source := aimer.SolveStatic(context.Background(), req); source != SourceRemote {
		t.Fatalf("expected a remote solution, got %s", source)
	}

	first.Stop()
	if _, source := aimer.SolveStatic(context.Background(), req); source != SourceLocal {
		t.Fatalf("expected a local solution while the server is down, got %s", source)
	}

	second := NewAimServer(cfg, logging.NewDiscardLogger())
	if err := second.Start(addr); err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	defer second.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, source := aimer.SolveStatic(ctx, req); source != SourceRemote {
		t.Errorf("expected the aimer to reconnect, got %s", source)
	}
}

func TestRemoteAimer_ReleaseOnError(t *testing.T) {
	cfg := testConfig()
	server := startServer(t, cfg)

	aimer := NewRemoteAimer(server.Addr().String(), cfg, logging.NewDiscardLogger())
	defer aimer.Close()

	client, err := aimer.connect(context.Background())
	if err != nil {
		t.Fatalf("connect() failed: %v", err)
	}

	rejected := fmt.Errorf("solve 7: %w", &RemoteError{Code: CodeInvalidRequest, Message: "speed out of range"})
	aimer.releaseOnError(client, rejected)
	if aimer.client != client {
		t.Fatal("a wrapped server rejection should keep the connection")
	}
	if _, err := client.Ping(context.Background()); err != nil {
		t.Errorf("kept connection should stay usable, Ping() failed: %v", err)
	}

	aimer.releaseOnError(client, io.ErrUnexpectedEOF)
	if aimer.client != nil {
		t.Error("a transport error should drop the connection")
	}
	if _, err := client.Ping(context.Background()); err == nil {
		t.Error("expected the dropped connection to be closed")
	}
}
