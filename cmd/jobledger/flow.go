package main

import (
	"github.com/spf13/cobra"

	"github.com/petrijr/jobledger"
)

func newFlowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Talk to the workflow engine",
	}

	var actor, ruleset, params string
	run := &cobra.Command{
		Use:   "run JOB_ID FLOW",
		Short: "Run a flow for a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := jsonFlag("params", params)
			if err != nil {
				return a.respond(cmd, nil, err)
			}
			resp, err := a.ledger.Jobs.RunFlow(cmd.Context(), jobledger.FlowRequest{
				JobID:          args[0],
				Flow:           args[1],
				Actor:          actor,
				RulesetVersion: ruleset,
				Params:         raw,
			})
			return a.respond(cmd, resp, err)
		},
	}
	run.Flags().StringVar(&actor, "actor", "", "acting party (default \"glue\")")
	run.Flags().StringVar(&ruleset, "ruleset", "", "ruleset version (default \"v1\")")
	run.Flags().StringVar(&params, "params", "", "flow parameters as a JSON document")

	health := &cobra.Command{
		Use:   "health",
		Short: "Probe the workflow engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.respond(cmd, a.ledger.Jobs.FlowHealth(cmd.Context()), nil)
		},
	}

	cmd.AddCommand(run, health)
	return cmd
}
