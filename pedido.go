package pedidoflow

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/petrijr/pedidoflow/internal/pedido"
)

// The order approval workflow.

type (
	PedidoApprovalRequest = pedido.PedidoApprovalRequest
	Etapa                 = pedido.Etapa
)

const (
	PedidoOrchestrator = pedido.OrchestratorName
	PedidoActivity     = pedido.ActivityName

	EtapaCriado    = pedido.EtapaCriado
	EtapaEmAnalise = pedido.EtapaEmAnalise
	EtapaAprovado  = pedido.EtapaAprovado
)

// NewPedidoRequest builds the input of a new order approval.
func NewPedidoRequest(pedidoID int, valor decimal.Decimal) *PedidoApprovalRequest {
	return pedido.NewRequest(pedidoID, valor)
}

// RegisterPedidoWorkflow registers the order approval orchestrator and its
// stage activity on eng.
func RegisterPedidoWorkflow(eng Engine) error {
	return pedido.Register(eng)
}

// StartPedido starts an order approval for pedidoID and valor and returns
// the instance id.
func StartPedido(ctx context.Context, eng Engine, pedidoID int, valor decimal.Decimal) (string, error) {
	return eng.Start(ctx, PedidoOrchestrator, NewPedidoRequest(pedidoID, valor))
}
