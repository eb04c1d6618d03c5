package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/certcrawl/internal/testutil"
)

// fixture is a config file pointing at fake exchange and ledger servers.
type fixture struct {
	dir      string
	config   string
	db       string
	exchange *testutil.ExchangeServer
	ledger   *testutil.LedgerServer
}

func newFixture(t *testing.T, records ...map[string]any) *fixture {
	t.Helper()
	f := &fixture{
		dir:      t.TempDir(),
		exchange: testutil.NewExchangeServer(t, records...),
		ledger:   testutil.NewLedgerServer(t),
	}
	f.db = filepath.Join(f.dir, "cursors.db")
	f.config = filepath.Join(f.dir, "certcrawl.yaml")

	cfg := fmt.Sprintf(`
ledger:
  agent: %s
  vendor_id: vendor-1
  asset_address: "0xasset"
  api_key: test-key
  pacing: 1ms
store:
  driver: sqlite
  path: %s
sources:
  - tag: isunone
    base_url: %s
`, f.ledger.URL, f.db, f.exchange.URL)
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))
	return f
}

func (f *fixture) writeRecord(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(f.dir, "record.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
