package controller

import (
	"context"

	"github.com/videotranslator/api/internal/model"
	"github.com/videotranslator/api/internal/simulator"
)

// SimulatorRunner runs jobs on an in-process simulator.
type SimulatorRunner struct {
	sim *simulator.Simulator
}

// NewSimulatorRunner creates a runner backed by sim.
func NewSimulatorRunner(sim *simulator.Simulator) *SimulatorRunner {
	return &SimulatorRunner{sim: sim}
}

// Run submits req to the simulator. Simulated jobs never fail.
func (r *SimulatorRunner) Run(ctx context.Context, req model.TranslationRequest, l Listener) (Job, error) {
	h, err := r.sim.Submit(ctx, req, simulator.Observer{
		OnProgress: l.Progress,
		OnComplete: l.Complete,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}
