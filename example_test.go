package jobledger_test

import (
	"context"
	"fmt"
	"log"

	"github.com/petrijr/jobledger"
)

// Example_outOfOrderCallbacks shows that the job status does not depend on
// the order step callbacks arrive in.
func Example_outOfOrderCallbacks() {
	ctx := context.Background()
	ledger := jobledger.New(jobledger.NewInMemoryStore())

	job, err := ledger.Jobs.CreateJob(ctx, "alice")
	if err != nil {
		log.Fatal(err)
	}

	for _, step := range []string{"extract", "clean"} {
		if err := ledger.Jobs.StartStep(ctx, jobledger.StepStart{JobID: job.ID, StepID: step}, ""); err != nil {
			log.Fatal(err)
		}
	}

	// "clean" finishes first, and its done callback is delivered twice.
	for _, step := range []string{"clean", "clean", "extract"} {
		if err := ledger.Jobs.CompleteStep(ctx, job.ID, step, "", "", ""); err != nil {
			log.Fatal(err)
		}
		current, _ := ledger.Jobs.GetJob(ctx, job.ID)
		fmt.Printf("%s done -> job %s\n", step, current.Status)
	}

	// A late failure still wins.
	if err := ledger.Jobs.FailStep(ctx, job.ID, "extract", "", "checksum mismatch", ""); err != nil {
		log.Fatal(err)
	}
	current, _ := ledger.Jobs.GetJob(ctx, job.ID)
	fmt.Println("final:", current.Status)

	// Output:
	// clean done -> job RUNNING
	// clean done -> job RUNNING
	// extract done -> job DONE
	// final: FAILED
}

// Example_tasks demonstrates the workflow task lifecycle.
func Example_tasks() {
	ctx := context.Background()
	ledger := jobledger.New(jobledger.NewInMemoryStore())

	if _, err := ledger.Tasks.Upsert(ctx, jobledger.TaskUpsert{TaskID: "t1", Status: jobledger.TaskRunning}); err != nil {
		log.Fatal(err)
	}

	first, err := ledger.Tasks.Cancel(ctx, "t1")
	if err != nil {
		log.Fatal(err)
	}
	second, err := ledger.Tasks.Cancel(ctx, "t1")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(first.Cancelled, second.Cancelled, second.Task.Status)

	// Output:
	// true false cancelled
}
