package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/internal/cli"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliEnv struct {
	cfgPath string
	dbPath  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	env := &cliEnv{
		cfgPath: filepath.Join(dir, "config.yaml"),
		dbPath:  filepath.Join(dir, "meter.db"),
	}
	cfg := fmt.Sprintf("storage:\n  driver: sqlite\n  path: %s\nlogging:\n  level: error\n", env.dbPath)
	require.NoError(t, os.WriteFile(env.cfgPath, []byte(cfg), 0o644))
	return env
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}

var idPattern = regexp.MustCompile(`ID:\s+(\S+)`)

func (e *cliEnv) createBudget(t *testing.T, args ...string) string {
	t.Helper()
	out := e.mustRun(t, append([]string{"budget", "create"}, args...)...)
	m := idPattern.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestVersion(t *testing.T) {
	env := newCLIEnv(t)
	assert.Equal(t, "lcm version dev\n", env.mustRun(t, "version"))
}

func TestEstimate(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "estimate", "--model", "gpt-4", "--input", "1000", "--output", "500")
	assert.Contains(t, out, "Estimate for gpt-4 (openai):")
	assert.Contains(t, out, "Total:   $0.060000")

	out = env.mustRun(t, "estimate", "--model", "unknown-model", "--input", "1000")
	assert.Contains(t, out, "No price found")

	out = env.mustRun(t, "estimate", "--model", "gpt-4o", "--prompt", "Hello there", "--max-output", "100")
	assert.Contains(t, out, "Output:  100 units")
}

func TestEstimate_Check(t *testing.T) {
	env := newCLIEnv(t)
	env.createBudget(t, "--name", "cap", "--limit", "0.05", "--period", "daily", "--action", "block")

	out := env.mustRun(t, "estimate", "--model", "gpt-4", "--input", "1000", "--output", "500", "--check")
	assert.Contains(t, out, `Budget check: BLOCKED by "cap"`)

	out = env.mustRun(t, "estimate", "--model", "gpt-4", "--input", "100", "--check")
	assert.Contains(t, out, "Budget check: ALLOWED")
}

func TestTrackAndReport(t *testing.T) {
	env := newCLIEnv(t)
	env.createBudget(t, "--name", "team", "--limit", "0.10", "--period", "daily")

	out := env.mustRun(t, "track", "--model", "gpt-4", "--input", "1000", "--output", "500",
		"--scope", "a1", "--correlation-id", "req-1", "--meta", "route=/v1/chat")
	assert.Contains(t, out, "Cost:          $0.060000")
	assert.Contains(t, out, "Scope:         a1")
	assert.Contains(t, out, "ALERT [info]")

	out = env.mustRun(t, "report", "--period", "total")
	assert.Contains(t, out, "Total Cost:          $0.0600")
	assert.Contains(t, out, "Total Requests:      1")
	assert.Contains(t, out, "openai")

	out = env.mustRun(t, "report", "--period", "daily", "--scope", "a1", "--detailed")
	assert.Contains(t, out, "Detailed Records:")
	assert.Contains(t, out, "gpt-4")

	out = env.mustRun(t, "report", "--json", "--scope", "nobody")
	var summary model.UsageSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Zero(t, summary.RecordCount)

	_, err := env.run(t, "report", "--period", "fortnightly")
	assert.Error(t, err)
}

func TestTrack_RequiresModel(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "track", "--input", "10")
	assert.Error(t, err)
}

func TestBudgetLifecycle(t *testing.T) {
	env := newCLIEnv(t)
	id := env.createBudget(t, "--name", "team", "--limit", "10", "--period", "monthly",
		"--thresholds", "90,50", "--action", "throttle", "--scope", "a1")

	out := env.mustRun(t, "budget", "list")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "team")
	assert.Contains(t, out, "agent:a1")
	assert.Contains(t, out, "50%,90%")

	out = env.mustRun(t, "budget", "update", id, "--limit", "20", "--clear-scope")
	assert.Contains(t, out, "Limit:       $20.00")
	assert.Contains(t, out, "Scope:       all")
	assert.Contains(t, out, "Action:      throttle", "unchanged fields are kept")

	out = env.mustRun(t, "budget", "status", id)
	assert.Contains(t, out, "team")
	assert.Contains(t, out, "$20.00")

	out = env.mustRun(t, "budget", "status")
	assert.Contains(t, out, "team")

	out = env.mustRun(t, "budget", "delete", id)
	assert.Contains(t, out, "deleted")

	out = env.mustRun(t, "budget", "list")
	assert.Contains(t, out, "No budgets configured")

	_, err := env.run(t, "budget", "status", id)
	assert.Error(t, err)
}

func TestBudgetCreate_Invalid(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "budget", "create", "--name", "bad", "--limit", "10", "--period", "yearly")
	assert.ErrorContains(t, err, "invalid budget")
}

func TestAlertsListAndAck(t *testing.T) {
	env := newCLIEnv(t)
	budgetID := env.createBudget(t, "--name", "team", "--limit", "0.10", "--period", "daily")
	env.mustRun(t, "track", "--model", "gpt-4", "--input", "1000", "--output", "500")

	out := env.mustRun(t, "alerts", "list")
	assert.Contains(t, out, "team")
	assert.Contains(t, out, "info")

	store, err := storage.NewSQLite(env.dbPath)
	require.NoError(t, err)
	alerts, err := store.ListAlerts(context.Background(), budgetID)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, alerts, 1)

	out = env.mustRun(t, "alerts", "ack", budgetID, alerts[0].ID)
	assert.Contains(t, out, "acknowledged")

	out = env.mustRun(t, "alerts", "list", "--unacked")
	assert.Contains(t, out, "No alerts.")

	_, err = env.run(t, "alerts", "ack", budgetID, "missing")
	assert.Error(t, err)
}

func TestPurge(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, "track", "--model", "gpt-4", "--input", "10")

	out := env.mustRun(t, "purge", "--older-than", "1h")
	assert.Contains(t, out, "Purged 0 records")

	_, err := env.run(t, "purge")
	assert.ErrorContains(t, err, "must be positive")
}

func TestPricingList(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "pricing", "list", "--provider", "openai")
	assert.Contains(t, out, "gpt-4o")
	assert.NotContains(t, out, "anthropic")
}

func TestPricingOverride(t *testing.T) {
	env := newCLIEnv(t)

	var gotMethod, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(model.PriceEntry{Model: "gpt-4", InputPer1K: 0.03, OutputPer1K: 1})
	}))
	defer srv.Close()

	out := env.mustRun(t, "pricing", "override", "gpt-4", "--output", "1", "--server", srv.URL)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v1/pricing/overrides/gpt-4", gotPath)
	assert.Equal(t, map[string]any{"output_per_1k": 1.0}, gotBody)
	assert.Contains(t, out, "output $1/1K")

	out = env.mustRun(t, "pricing", "override", "gpt-4", "--clear", "--server", srv.URL)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Contains(t, out, "cleared")
}
