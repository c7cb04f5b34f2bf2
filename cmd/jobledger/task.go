package main

import (
	"github.com/spf13/cobra"

	"github.com/petrijr/jobledger"
)

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Track standalone workflow tasks",
	}

	var (
		req    jobledger.TaskUpsert
		status string
		result string
	)
	upsert := &cobra.Command{
		Use:   "upsert TASK_ID",
		Short: "Insert or overwrite a task (last write wins)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TaskID = args[0]
			req.Status = jobledger.TaskStatus(status)
			if result != "" {
				req.Result = result
			}
			task, err := a.ledger.Tasks.Upsert(cmd.Context(), req)
			return a.respond(cmd, task, err)
		},
	}
	upsert.Flags().StringVar(&req.TenantID, "tenant", "", "tenant id (default \"default\")")
	upsert.Flags().StringVar(&req.Operator, "operator", "", "operator name")
	upsert.Flags().StringVar(&status, "status", "", "queued, running, done, failed or cancelled (default \"queued\")")
	upsert.Flags().Int64Var(&req.CreatedAt, "created-at", 0, "creation time in epoch seconds")
	upsert.Flags().Int64Var(&req.UpdatedAt, "updated-at", 0, "update time in epoch seconds")
	upsert.Flags().StringVar(&result, "result", "", "result payload; JSON documents are stored as-is")
	upsert.Flags().StringVar(&req.Error, "error", "", "error message")
	upsert.Flags().StringVar(&req.Source, "source", "", "reporting runtime")

	get := &cobra.Command{
		Use:   "get TASK_ID",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.ledger.Tasks.Get(cmd.Context(), args[0])
			return a.respond(cmd, task, err)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.ledger.Tasks.Cancel(cmd.Context(), args[0])
			return a.respond(cmd, res, err)
		},
	}

	var (
		tenant string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's tasks, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := a.ledger.Tasks.ListByTenant(cmd.Context(), tenant, limit)
			return a.respond(cmd, tasks, err)
		},
	}
	list.Flags().StringVar(&tenant, "tenant", "", "tenant id (default \"default\")")
	list.Flags().IntVar(&limit, "limit", jobledger.DefaultTaskListLimit, "maximum number of tasks, 1 to 500")

	cmd.AddCommand(upsert, get, cancel, list)
	return cmd
}
