package main

import (
	"fmt"

	"github.com/amp-labs/workflow-core/statemachine/visualizer"
	"github.com/spf13/cobra"
)

func newGraphCmd() *cobra.Command {
	opts := visualizer.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "graph <definition>",
		Short: "Print a Mermaid state diagram of a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			diagram, err := visualizer.GenerateMermaidFromFile(args[0], opts)
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), diagram)

			return err
		},
	}

	cmd.Flags().StringVar(&opts.Direction, "direction", opts.Direction, `diagram direction, "TD" or "LR"`)
	cmd.Flags().BoolVar(&opts.ShowActions, "actions", opts.ShowActions, "show entry and exit actions")
	cmd.Flags().BoolVar(&opts.ShowGuards, "guards", opts.ShowGuards, "show guard types on transitions")
	cmd.Flags().StringSliceVar(&opts.HighlightPath, "highlight", nil, "states to highlight")

	return cmd
}
