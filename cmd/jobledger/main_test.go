package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("JOBLEDGER_STORE_BACKEND", "sqlite")
	t.Setenv("JOBLEDGER_STORE_DSN", filepath.Join(dir, "cli.db"))
	t.Setenv("JOBLEDGER_JOBS_ROOT", filepath.Join(dir, "bus"))
	t.Setenv("JOBLEDGER_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (result, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())

	var r result
	require.NoError(t, json.Unmarshal(out.Bytes(), &r), "output: %s", out.String())
	return r, err
}

func TestCLI_JobLifecycle(t *testing.T) {
	dir := setupEnv(t)

	r, err := run(t, "job", "create", "--owner", "alice")
	require.NoError(t, err)
	require.True(t, r.OK)

	var created struct {
		ID      string `json:"job_id"`
		Status  string `json:"status"`
		JobRoot string `json:"job_root"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &created))
	assert.Equal(t, "CREATED", created.Status)
	assert.Equal(t, filepath.Join(dir, "bus", "jobs", created.ID), created.JobRoot)

	_, err = run(t, "step", "start", created.ID, "extract", "--params", `{"sheet":"A"}`)
	require.NoError(t, err)
	_, err = run(t, "step", "done", created.ID, "extract", "--output-hash", "h1")
	require.NoError(t, err)
	_, err = run(t, "artifact", "register", created.ID, "report", "--kind", "csv", "--path", "/tmp/r.csv")
	require.NoError(t, err)

	r, err = run(t, "job", "get", created.ID)
	require.NoError(t, err)
	var job struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &job))
	assert.Equal(t, "DONE", job.Status)

	r, err = run(t, "job", "audit", created.ID)
	require.NoError(t, err)
	var entries []struct {
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &entries))
	require.Len(t, entries, 4)
	assert.Equal(t, "ARTIFACT_REGISTER", entries[3].Action)
}

func TestCLI_ErrorsAreResults(t *testing.T) {
	setupEnv(t)

	r, err := run(t, "job", "get", "0123456789abcdef0123456789abcdef")
	require.Error(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, "job_not_found", r.Error)

	r, err = run(t, "step", "start", "j", "s", "--params", "{not json")
	require.Error(t, err)
	assert.Equal(t, "invalid_request", r.Error)

	r, err = run(t, "task", "upsert", "t1", "--status", "paused")
	require.Error(t, err)
	assert.Equal(t, "invalid_request", r.Error)
}

func TestCLI_Tasks(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "task", "upsert", "t1", "--status", "RUNNING", "--tenant", "acme", "--result", `{"rows":3}`)
	require.NoError(t, err)
	_, err = run(t, "task", "upsert", "t2", "--tenant", "acme", "--updated-at", "99999999999")
	require.NoError(t, err)

	r, err := run(t, "task", "cancel", "t1")
	require.NoError(t, err)
	var cancelled struct {
		Cancelled bool `json:"cancelled"`
		Task      struct {
			Status string `json:"status"`
		} `json:"task"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &cancelled))
	assert.True(t, cancelled.Cancelled)
	assert.Equal(t, "cancelled", cancelled.Task.Status)

	r, err = run(t, "task", "list", "--tenant", "acme")
	require.NoError(t, err)
	var list []struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].TaskID)

	r, err = run(t, "task", "get", "missing")
	require.Error(t, err)
	assert.Equal(t, "task_not_found", r.Error)
}

func TestCLI_BadConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("JOBLEDGER_STORE_BACKEND", "cassandra")

	r, err := run(t, "job", "create")
	require.Error(t, err)
	assert.False(t, r.OK)
	assert.Equal(t, "internal_error", r.Error)
}
