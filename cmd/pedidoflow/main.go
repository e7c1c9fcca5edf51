package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "pedidoflow",
		Usage:                 "Durable order approval workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			ServeCommand(),
			RunCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
