// Package pedido implements the order approval workflow: a gated pipeline
// that walks one order through the Criado, EmAnalise and Aprovado stages.
package pedido

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// OrchestratorName is the name the workflow is registered under.
	OrchestratorName = "DurableFunctionsExProdutos"

	// ActivityName is the stage validation activity.
	ActivityName = "ProcessarEtapaPedido"
)

// Etapa is the lifecycle position of an order.
type Etapa int

const (
	EtapaCriado    Etapa = 1
	EtapaEmAnalise Etapa = 2
	EtapaAprovado  Etapa = 3
)

// Valid reports whether e is one of the known stages.
func (e Etapa) Valid() bool {
	return e >= EtapaCriado && e <= EtapaAprovado
}

func (e Etapa) String() string {
	switch e {
	case EtapaCriado:
		return "PedidoCriado"
	case EtapaEmAnalise:
		return "PedidoEmAnalise"
	case EtapaAprovado:
		return "PedidoAprovado"
	default:
		return fmt.Sprintf("Etapa(%d)", int(e))
	}
}

// PedidoApprovalRequest is the input of the workflow and of every stage
// activity. Values are never mutated once built; use WithEtapa.
type PedidoApprovalRequest struct {
	PedidoID int             `json:"pedidoId"`
	Valor    decimal.Decimal `json:"valor"`
	Etapa    Etapa           `json:"etapa"`
}

// NewRequest builds the request for a newly created order.
func NewRequest(pedidoID int, valor decimal.Decimal) *PedidoApprovalRequest {
	return &PedidoApprovalRequest{PedidoID: pedidoID, Valor: valor, Etapa: EtapaCriado}
}

// WithEtapa returns a copy of r at stage e. A nil request stays nil.
func (r *PedidoApprovalRequest) WithEtapa(e Etapa) *PedidoApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Etapa = e
	return &c
}

// Clone returns a copy of r.
func (r *PedidoApprovalRequest) Clone() *PedidoApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
