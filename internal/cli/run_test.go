package cli

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/certcrawl/internal/testutil"
)

func TestRunMissingConfigFlag(t *testing.T) {
	_, _, err := execute(t, "run", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "config")
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sources: []\n"), 0o644))

	_, _, err := execute(t, "run", "--once", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunOnceCertifiesAndAdvancesCursor(t *testing.T) {
	f := newFixture(t, testutil.Record(1, "deposit"), testutil.Record(2, "withdraw"))

	out, _, err := execute(t, "run", "--once", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ isunone: fetched 2, certified 2, cursor 1 -> 3")

	subs := f.ledger.Submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, "vendor-1", subs[0].VendorID)
	assert.Equal(t, "test-key", subs[0].APIKey)
	assert.Contains(t, subs[0].Metadata, "isunone|deposit|")
	assert.Contains(t, subs[1].Metadata, "isunone|withdraw|")

	out, _, err = execute(t, "cursor", "get", "isunone", "--db", f.db)
	require.NoError(t, err)
	assert.Equal(t, "isunone: 3\n", out)

	// The next pass starts from the stored cursor and finds nothing new.
	out, _, err = execute(t, "run", "--once", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "fetched 0, certified 0, cursor 3 -> 3")
	assert.Equal(t, []int64{1, 3}, f.exchange.Cursors())
}

func TestRunOnceAbortKeepsCursor(t *testing.T) {
	f := newFixture(t, testutil.Record(1, "deposit"), testutil.Record(2, "withdraw"))
	f.ledger.FailCall(2, http.StatusServiceUnavailable)

	out, _, err := execute(t, "run", "--once", "--config", f.config)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ isunone")

	out, _, err = execute(t, "cursor", "get", "isunone", "--db", f.db)
	require.NoError(t, err)
	assert.Equal(t, "isunone: 1\n", out)

	// The retry resubmits the first record as well.
	_, _, err = execute(t, "run", "--once", "--config", f.config)
	require.NoError(t, err)
	assert.Equal(t, 3, len(f.ledger.Submissions()))
}

func TestRunOnceJSON(t *testing.T) {
	f := newFixture(t, testutil.Record(5, "trade"))

	out, _, err := execute(t, "--format", "json", "run", "--once", "--config", f.config)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "isunone", resp.Data[0].Source)
	assert.Equal(t, "idle", resp.Data[0].State)
	assert.Equal(t, int64(1), resp.Data[0].Cursor)
	assert.Equal(t, int64(6), resp.Data[0].NextCursor)
	assert.Equal(t, 1, resp.Data[0].Certified)
	assert.NotEmpty(t, resp.Data[0].CycleID)
}

func TestRunOnceDatabaseFlagOverridesConfig(t *testing.T) {
	f := newFixture(t, testutil.Record(1, "deposit"))
	other := filepath.Join(f.dir, "other.db")

	_, _, err := execute(t, "run", "--once", "--config", f.config, "--db", other)
	require.NoError(t, err)

	out, _, err := execute(t, "cursor", "get", "isunone", "--db", other)
	require.NoError(t, err)
	assert.Equal(t, "isunone: 2\n", out)

	_, statErr := os.Stat(f.db)
	assert.True(t, os.IsNotExist(statErr), "config store path should be unused")
}
