package pedido

import (
	"errors"
	"fmt"

	"github.com/petrijr/pedidoflow/pkg/api"
)

// Stage is one gate of the pipeline.
type Stage struct {
	// Label prefixes the stage's output line.
	Label string

	// Activity is called with the stage payload and must return a bool.
	Activity string

	// Payload builds the activity input from the workflow input. It must
	// not modify its argument.
	Payload func(*PedidoApprovalRequest) *PedidoApprovalRequest

	// Retry re-schedules a failed activity call. The zero value makes one
	// attempt.
	Retry api.RetryPolicy
}

// AtEtapa returns a Stage payload that moves the order to e.
func AtEtapa(e Etapa) func(*PedidoApprovalRequest) *PedidoApprovalRequest {
	return func(r *PedidoApprovalRequest) *PedidoApprovalRequest { return r.WithEtapa(e) }
}

// DefaultStages returns the three approval stages. The first stage checks
// the order as it was submitted.
func DefaultStages() []Stage {
	return []Stage{
		{Label: "Pedido Criado", Activity: ActivityName, Payload: (*PedidoApprovalRequest).Clone},
		{Label: "Pedido Em Analise", Activity: ActivityName, Payload: AtEtapa(EtapaEmAnalise)},
		{Label: "Pedido Finalizado", Activity: ActivityName, Payload: AtEtapa(EtapaAprovado)},
	}
}

// NewOrchestrator builds the gated pipeline over stages. Each stage runs
// only if the previous one returned true; the first false result stops the
// instance with the lines collected so far.
func NewOrchestrator(stages []Stage) api.OrchestratorFunc {
	return func(ctx api.OrchestrationContext) (any, error) {
		ctx.SetCustomStatus(OrchestratorName)

		var req *PedidoApprovalRequest
		if err := ctx.Input(&req); err != nil {
			return nil, err
		}

		outputs := make([]string, 0, len(stages))
		for i, st := range stages {
			payload := req.Clone()
			if st.Payload != nil {
				payload = st.Payload(req)
			}

			var ok bool
			err := api.CallActivityWithRetry(ctx, st.Retry, st.Activity, payload, &ok)
			if api.IsSuspended(err) {
				return nil, err
			}
			var actErr *api.ActivityError
			switch {
			case errors.As(err, &actErr):
				// A failed activity means the stage was not achieved.
				ok = false
			case err != nil:
				return nil, fmt.Errorf("stage %q: %w", st.Label, err)
			}

			outputs = append(outputs, st.Label+": "+formatBool(ok))
			ctx.SetCustomStatus(statusLine(payload))

			if !ok {
				if i == 0 {
					ctx.SetCustomStatus("Nenhum pedido encontrado.")
				}
				return outputs, api.ErrStopped
			}
		}
		return outputs, nil
	}
}

func statusLine(r *PedidoApprovalRequest) string {
	if r == nil {
		return "Pedido... id:  valor:  etapa: "
	}
	return fmt.Sprintf("Pedido... id: %d valor: %s etapa: %s", r.PedidoID, r.Valor.String(), r.Etapa)
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// Register wires the workflow and its activity into engine.
func Register(engine api.Engine) error {
	if err := engine.RegisterOrchestrator(OrchestratorName, NewOrchestrator(DefaultStages())); err != nil {
		return err
	}
	return engine.RegisterActivity(ActivityName, api.TypedActivity(ProcessarEtapaPedido))
}
