// example_test.go
package api_test

import (
	"context"
	"fmt"
	"log"

	"github.com/petrijr/pedidoflow"
	"github.com/petrijr/pedidoflow/pkg/api"
)

// ExampleOrchestratorFunc shows a two-step orchestrator registered on an
// in-memory engine. The second activity only runs when the first one
// returned true.
func ExampleOrchestratorFunc() {
	ctx := context.Background()
	eng := pedidoflow.NewInMemoryEngine()

	check := func(ctx context.Context, in *int) (bool, error) {
		return in != nil && *in > 0, nil
	}
	if err := eng.RegisterActivity("check", api.TypedActivity(check)); err != nil {
		log.Fatal(err)
	}

	orchestrator := func(ctx api.OrchestrationContext) (any, error) {
		var n int
		if err := ctx.Input(&n); err != nil {
			return nil, err
		}
		var out []string
		for _, v := range []int{n, n - 1} {
			var ok bool
			if err := ctx.CallActivity("check", v, &ok); err != nil {
				return nil, err
			}
			out = append(out, fmt.Sprintf("check %d: %t", v, ok))
			if !ok {
				return out, api.ErrStopped
			}
		}
		return out, nil
	}
	if err := eng.RegisterOrchestrator("checks", orchestrator); err != nil {
		log.Fatal(err)
	}

	st, err := eng.Run(ctx, "checks", 2)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(st.Status, string(st.Output))
	// Output: COMPLETED ["check 2: true","check 1: true"]
}
