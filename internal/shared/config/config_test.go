package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/shared/config"
)

func TestLoadTopicsDefaults(t *testing.T) {
	topics, err := config.LoadTopics("")
	require.NoError(t, err)

	assert.Equal(t, "s3.bucket.events", topics[config.TopicBucket])
	assert.Equal(t, "s3.object.events", topics[config.TopicObject])
	assert.Equal(t, "s3.metadata.events", topics[config.TopicMetadata])
}

func TestLoadTopicsFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topics:\n  bucket: prod.bucket\n  object: prod.object\n"), 0o600))
	t.Setenv("KAFKA_TOPIC_OBJECT", "override.object")

	topics, err := config.LoadTopics(path)
	require.NoError(t, err)

	assert.Equal(t, "prod.bucket", topics[config.TopicBucket])
	assert.Equal(t, "override.object", topics[config.TopicObject])
	assert.Equal(t, "s3.metadata.events", topics[config.TopicMetadata])
	assert.Equal(t, []string{"override.object", "prod.bucket"}, topics.Names(config.TopicBucket, config.TopicObject, "nope"))
}

func TestLoadTopicsRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topics: [oops"), 0o600))

	_, err := config.LoadTopics(path)
	assert.Error(t, err)

	_, err = config.LoadTopics(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DISPATCH_LANES", "3")
	t.Setenv("DISPATCH_RETRY_MAX", "2s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.Dispatch.Lanes)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.RetryMax)
	assert.Equal(t, "s3.object.events", cfg.Topics[config.TopicObject])
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("# local\nexport LEDGER_BACKEND=memory\nSTORE_BACKEND='memory'\nSERVICE_NAME=\"from-file\"\n"), 0o600))
	t.Setenv("SERVICE_NAME", "from-env")
	// registered for restore, then cleared so the file can supply them
	for _, k := range []string{"LEDGER_BACKEND", "STORE_BACKEND"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.LedgerBackend)
	assert.Equal(t, "from-env", cfg.ServiceName)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("DISPATCH_LANES", "many")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISPATCH_LANES")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("STORE_BACKEND", "memory")

	_, err := config.Load()
	assert.ErrorContains(t, err, "LEDGER_BACKEND")
}

func TestLoadRejectsMalformedDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GOOD=1\njust words\n"), 0o600))
	t.Setenv("GOOD", "1")

	_, err := config.Load()
	assert.ErrorContains(t, err, ".env:2")
}
