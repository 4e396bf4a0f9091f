package main

import (
	"fmt"

	"github.com/amp-labs/workflow-core/statemachine"
	"github.com/amp-labs/workflow-core/workflow"
	"github.com/spf13/cobra"
)

func newValidateCmd(a *app) *cobra.Command {
	var pluginsPath string

	cmd := &cobra.Command{
		Use:   "validate <definition>",
		Short: "Check a definition and its plugins for consistency",
		Long: `Loads a definition (YAML or JSON), compiles it and, when --plugins is given,
builds every plugin descriptor against it. Actions the definition references
that are not built in are reported as host actions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := statemachine.LoadDefinition(args[0])
			if err != nil {
				return err
			}

			ext, err := loadExtensions(pluginsPath)
			if err != nil {
				return err
			}

			var h host

			runner, err := workflow.New(workflow.Args{
				Definition:          def,
				WorkflowActions:     hostActions(def),
				Extensions:          ext,
				Vendors:             a.cfg.VendorEndpoints(),
				InvokeRiskRules:     h.riskRules,
				InvokeChildWorkflow: h.childWorkflow,
				InvokeWorkflowToken: h.workflowToken,
			})
			if err != nil {
				return err
			}
			defer runner.Close()

			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "definition %q is valid: %d states, %d plugins\n",
				runner.Workflow().ID(), len(runner.Workflow().States()), len(runner.Plugins().All()))

			for _, name := range referencedActions(def) {
				fmt.Fprintf(out, "host action: %s\n", name)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&pluginsPath, "plugins", "p", "", "plugin descriptors file (YAML or JSON)")

	return cmd
}
