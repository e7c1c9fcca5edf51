package pedido

import (
	"context"

	"github.com/petrijr/pedidoflow/internal/logging"
	"github.com/petrijr/pedidoflow/pkg/api"
)

// ProcessarEtapaPedido reports whether the order is at a known stage.
// A missing order is not an error; it simply does not pass.
func ProcessarEtapaPedido(ctx context.Context, req *PedidoApprovalRequest) (bool, error) {
	logger := logging.FromContext(ctx)
	info, _ := api.ActivityInfoFromContext(ctx)

	if req == nil {
		logger.Info("processando aprovação do pedido", "instance_id", info.InstanceID, "pedido", nil)
		return false, nil
	}

	logger.Info("processando aprovação do pedido",
		"instance_id", info.InstanceID,
		"pedido_id", req.PedidoID,
		"valor", req.Valor.String(),
		"etapa", req.Etapa.String(),
	)
	return req.Etapa.Valid(), nil
}
