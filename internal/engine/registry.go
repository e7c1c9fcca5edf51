package engine

import (
	"errors"
	"fmt"

	"github.com/petrijr/pedidoflow/pkg/api"
)

func (e *engineImpl) RegisterOrchestrator(name string, fn api.OrchestratorFunc) error {
	if fn == nil {
		return errors.New("orchestrator function is required")
	}
	return e.orchestrators.Register(name, fn)
}

func (e *engineImpl) RegisterActivity(name string, fn api.ActivityFunc) error {
	if fn == nil {
		return errors.New("activity function is required")
	}
	return e.dispatcher.Activities().Register(name, fn)
}

func (e *engineImpl) orchestrator(name string) (api.OrchestratorFunc, error) {
	fn, ok := e.orchestrators.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownOrchestrator, name)
	}
	return fn, nil
}
