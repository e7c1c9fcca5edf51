package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	cli "github.com/urfave/cli/v3"

	"github.com/petrijr/pedidoflow/internal/engine"
	"github.com/petrijr/pedidoflow/internal/logging"
	"github.com/petrijr/pedidoflow/internal/pedido"
	"github.com/petrijr/pedidoflow/pkg/api"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run one order approval in memory and print its final status",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     "pedido-id",
				Usage:    "Order id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "valor",
				Usage:    "Order amount, e.g. 100.00",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "history",
				Usage: "Also print the recorded history",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logging.Setup(command.String("log-level"), "text")

			valor, err := decimal.NewFromString(command.String("valor"))
			if err != nil {
				return fmt.Errorf("invalid valor %q: %w", command.String("valor"), err)
			}
			return runPedido(ctx, command.Root().Writer, command.Int("pedido-id"), valor, command.Bool("history"))
		},
	}
}

type runResult struct {
	Status  *api.InstanceStatus `json:"status"`
	History []api.HistoryEvent  `json:"history,omitempty"`
}

// runPedido drives one approval to the end on a synchronous in-memory
// engine and writes the result as JSON to w.
func runPedido(ctx context.Context, w io.Writer, pedidoID int, valor decimal.Decimal, withHistory bool) error {
	eng := engine.NewInMemoryEngine()
	if err := pedido.Register(eng); err != nil {
		return err
	}

	st, err := eng.Run(ctx, pedido.OrchestratorName, pedido.NewRequest(pedidoID, valor))
	if err != nil {
		return err
	}

	res := runResult{Status: st}
	if withHistory {
		if res.History, err = eng.History(ctx, st.ID); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
