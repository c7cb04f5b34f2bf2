package main

import (
	"github.com/spf13/cobra"
)

func newJobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Create and inspect jobs",
	}

	var owner string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a job and bootstrap its directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.ledger.Jobs.CreateJob(cmd.Context(), owner)
			return a.respond(cmd, job, err)
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "job owner (default \"local\")")

	get := &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.ledger.Jobs.GetJob(cmd.Context(), args[0])
			return a.respond(cmd, job, err)
		},
	}

	steps := &cobra.Command{
		Use:   "steps JOB_ID",
		Short: "List a job's steps in start order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.ledger.Jobs.ListSteps(cmd.Context(), args[0])
			return a.respond(cmd, list, err)
		},
	}

	artifacts := &cobra.Command{
		Use:   "artifacts JOB_ID",
		Short: "List a job's artifacts, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.ledger.Jobs.ListArtifacts(cmd.Context(), args[0])
			return a.respond(cmd, list, err)
		},
	}

	auditLog := &cobra.Command{
		Use:   "audit JOB_ID",
		Short: "Show a job's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.ledger.Jobs.ListAudit(cmd.Context(), args[0])
			return a.respond(cmd, list, err)
		},
	}

	cmd.AddCommand(create, get, steps, artifacts, auditLog)
	return cmd
}
