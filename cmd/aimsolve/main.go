// cmd/aimsolve/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/config"
	"github.com/opd-ai/go-ballistics/pkg/logging"
	"github.com/opd-ai/go-ballistics/pkg/network"
	"github.com/opd-ai/go-ballistics/pkg/physics"
)

type output struct {
	ballistics.Solution
	Source network.Source `json:"source"`
}

func main() {
	logger := logging.NewLogger()
	ctx := logging.WithCorrelationID(context.Background(), "")

	var target, targetVelocity, origin physics.Vector3
	gravity := physics.Vector3{Z: -9.81}

	configPath := flag.String("config", "", "Optional configuration file")
	flag.Var(&target, "target", "Target position as x,y,z")
	flag.Var(&targetVelocity, "target-velocity", "Target velocity as x,y,z; non-zero selects the moving solver")
	flag.Var(&origin, "origin", "Launch position as x,y,z")
	flag.Var(&gravity, "gravity", "Gravity acceleration as x,y,z")
	speed := flag.Float64("speed", 0, "Projectile launch speed")
	iterations := flag.Int("iterations", 0, "Moving solver iteration budget (0 uses the configured default)")
	epsilon := flag.Float64("epsilon", -1, "Moving solver convergence tolerance in seconds (negative uses the configured default)")
	remote := flag.String("remote", "", "Aim server address; solves locally when empty or unreachable")
	timeout := flag.Duration("timeout", 5*time.Second, "Remote request timeout")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			logger.Error(ctx, "Failed to load configuration", err, "config_path", *configPath)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := config.ApplyEnvironmentOverrides(cfg); err != nil {
		logger.Error(ctx, "Failed to apply environment configuration", err)
		os.Exit(1)
	}

	req := network.MovingRequest{
		Target:         target,
		TargetVelocity: targetVelocity,
		Origin:         origin,
		Gravity:        gravity,
		Speed:          *speed,
	}
	if *iterations != 0 {
		req.Iterations = iterations
	}
	if *epsilon >= 0 {
		req.EpsilonTime = epsilon
	}

	var result output
	if *remote != "" {
		result = solveRemote(ctx, *remote, cfg, logger, req, *timeout)
	} else {
		result = solveLocal(ctx, cfg, logger, req)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "encoding solution: %v\n", err)
		os.Exit(1)
	}
}

func isMoving(req network.MovingRequest, cfg *config.Config) bool {
	return !req.TargetVelocity.IsNearlyZero(cfg.Solver.VectorTolerance)
}

func solveLocal(ctx context.Context, cfg *config.Config, logger *logging.Logger, req network.MovingRequest) output {
	solver := ballistics.NewSolver(cfg.Solver, logger)
	if !isMoving(req, cfg) {
		return output{solver.Solve(req.Target, req.Origin, req.Gravity, req.Speed), network.SourceLocal}
	}

	iterations, epsilon := req.Controls(cfg.Solver)
	sol := solver.SolveMoving(ctx, req.Target, req.TargetVelocity, req.Origin, req.Gravity, req.Speed, iterations, epsilon)
	return output{sol, network.SourceLocal}
}

func solveRemote(ctx context.Context, address string, cfg *config.Config, logger *logging.Logger, req network.MovingRequest, timeout time.Duration) output {
	aimer := network.NewRemoteAimer(address, cfg, logger)
	defer aimer.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !isMoving(req, cfg) {
		sol, source := aimer.SolveStatic(ctx, network.StaticRequest{
			Target:  req.Target,
			Origin:  req.Origin,
			Gravity: req.Gravity,
			Speed:   req.Speed,
		})
		return output{sol, source}
	}

	sol, source := aimer.SolveMoving(ctx, req)
	return output{sol, source}
}
