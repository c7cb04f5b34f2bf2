package main

import (
	"github.com/spf13/cobra"

	"github.com/petrijr/jobledger"
)

func newStepCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Report step callbacks",
	}
	var actor string
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "acting party recorded in the audit trail (default \"glue\")")

	var inputURI, outputURI, ruleset, params string
	start := &cobra.Command{
		Use:   "start JOB_ID STEP_ID",
		Short: "Record that a step started",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := jsonFlag("params", params)
			if err != nil {
				return a.respond(cmd, nil, err)
			}
			err = a.ledger.Jobs.StartStep(cmd.Context(), jobledger.StepStart{
				JobID:          args[0],
				StepID:         args[1],
				InputURI:       inputURI,
				OutputURI:      outputURI,
				RulesetVersion: ruleset,
				Params:         raw,
			}, actor)
			return a.respond(cmd, stepRef(args), err)
		},
	}
	start.Flags().StringVar(&inputURI, "input-uri", "", "step input location")
	start.Flags().StringVar(&outputURI, "output-uri", "", "step output location")
	start.Flags().StringVar(&ruleset, "ruleset", "", "ruleset version (default \"v1\")")
	start.Flags().StringVar(&params, "params", "", "step parameters as a JSON document")

	var outputHash, doneDetail string
	done := &cobra.Command{
		Use:   "done JOB_ID STEP_ID",
		Short: "Record that a step finished",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.ledger.Jobs.CompleteStep(cmd.Context(), args[0], args[1], actor, outputHash, doneDetail)
			return a.respond(cmd, stepRef(args), err)
		},
	}
	done.Flags().StringVar(&outputHash, "output-hash", "", "hash of the step output")
	done.Flags().StringVar(&doneDetail, "detail", "", "audit detail")

	var message, failDetail string
	fail := &cobra.Command{
		Use:   "fail JOB_ID STEP_ID",
		Short: "Record that a step failed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.ledger.Jobs.FailStep(cmd.Context(), args[0], args[1], actor, message, failDetail)
			return a.respond(cmd, stepRef(args), err)
		},
	}
	fail.Flags().StringVar(&message, "error", "", "failure message (default \"failed\")")
	fail.Flags().StringVar(&failDetail, "detail", "", "audit detail")

	cmd.AddCommand(start, done, fail)
	return cmd
}

func stepRef(args []string) map[string]string {
	return map[string]string{"job_id": args[0], "step_id": args[1]}
}
