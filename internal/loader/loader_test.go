package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/journal"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, config.DefaultListenAddress, cfg.Listen)
	assert.Equal(t, config.DefaultLockTimeout, cfg.Ingest.LockTimeout.Duration())
	assert.True(t, cfg.Ingest.MosGrouping.Enabled)
	assert.True(t, cfg.Journal.Enabled)
}

func TestLoadOverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("NRCSYNC_TEST_TOKEN", "s3cret")

	path := filepath.Join(t.TempDir(), "nrcsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:9000"
max_message_size: 4MB
data_dir: /srv/nrcsync
auth:
  tokens: ["${NRCSYNC_TEST_TOKEN}"]
  timeout: 5
database:
  path: cache.duckdb
  query_timeout: 2s
ingest:
  lock_timeout: 500ms
  mos_grouping:
    enabled: false
dispatch:
  workers: 4
  queue_size: 32
journal:
  dir: /var/log/nrcsync
  compression: snappy
logging:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, []string{"s3cret"}, cfg.Auth.Tokens)
	assert.Equal(t, 5*time.Second, cfg.Auth.Timeout.Duration())
	assert.Equal(t, int64(4<<20), cfg.MaxMessageSize.Bytes())

	sc := cfg.StoreConfig()
	assert.Equal(t, filepath.Join("/srv/nrcsync", "cache.duckdb"), sc.DSN)
	assert.Equal(t, 2*time.Second, sc.QueryTimeout)

	oc := cfg.OrchestratorConfig()
	assert.Equal(t, 500*time.Millisecond, oc.LockTimeout)
	assert.False(t, oc.MosGrouping)

	dc := cfg.DispatchConfig()
	assert.Equal(t, 4, dc.Workers)
	assert.Equal(t, 32, dc.QueueSize)
	assert.Equal(t, config.DefaultDrainTimeout, dc.DrainTimeout)

	jc, ok := cfg.JournalConfig()
	require.True(t, ok)
	assert.Equal(t, "/var/log/nrcsync", jc.Dir)
	assert.Equal(t, journal.CompressionSnappy, jc.Compression)

	gc := cfg.GatewayConfig()
	assert.Equal(t, "0.0.0.0:9000", gc.Listen)
	assert.Equal(t, []string{"s3cret"}, gc.Tokens)
}

func TestMemoryDatabaseIsNotResolved(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  path: \":memory:\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.StoreConfig().DSN)
}

func TestDisabledJournal(t *testing.T) {
	cfg, err := Parse([]byte("journal:\n  enabled: false\n"))
	require.NoError(t, err)
	_, ok := cfg.JournalConfig()
	assert.False(t, ok)
}

func TestUnknownKeyIsRejected(t *testing.T) {
	_, err := Parse([]byte("listn: 1.2.3.4:1\n"))
	assert.Error(t, err)
}

func TestBadDuration(t *testing.T) {
	_, err := Parse([]byte("ingest:\n  lock_timeout: soon\n"))
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.TLS.CertFile = "cert.pem"
	cfg.Dispatch.Workers = 0
	cfg.Journal.Compression = "lz4"
	cfg.Logging.Level = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	for _, field := range []string{"listen", "tls", "dispatch.workers", "journal.compression", "logging.level"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"":      0,
		"512":   512,
		"1KB":   1024,
		"16MB":  16 << 20,
		"2 gb":  2 << 30,
		"100B":  100,
	}
	for in, want := range cases {
		got, err := parseByteSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseByteSize("lots")
	assert.Error(t, err)
}
