// Command jobledger records job callbacks and workflow tasks from the
// command line. Every command prints a JSON result document:
//
//	{"ok": true, "data": ...}
//	{"ok": false, "error": "job_not_found", "message": "..."}
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
