package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "RIS_INGEST", cfg.SCP.AETitle)
	assert.Equal(t, "topic_main", cfg.Bus.Topics.Main)
	assert.Equal(t, "topic_change_transfer_syntax", cfg.Bus.Topics.ChangeTransferSyntax)
	assert.Equal(t, "fifo", cfg.Pipelines.State.Order)
	assert.Equal(t, 5*time.Second, cfg.Pipelines.SCP.StaleAfter)
	assert.Contains(t, cfg.Transfer.Supported, "1.2.840.10008.1.2")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCP_AE_TITLE", "ARCHIVE")
	t.Setenv("TRANSFER_SUPPORTED", "1.2.840.10008.1.2, 1.2.840.10008.1.2.1")
	t.Setenv("BATCH_STATE_STALE_AFTER", "7")
	t.Setenv("BATCH_STATE_ORDER", "lifo")
	t.Setenv("SCP_UNCOMPRESSED_ONLY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ARCHIVE", cfg.SCP.AETitle)
	assert.Equal(t, []string{"1.2.840.10008.1.2", "1.2.840.10008.1.2.1"}, cfg.Transfer.Supported)
	assert.Equal(t, 7*time.Second, cfg.Pipelines.State.StaleAfter)
	assert.Equal(t, "lifo", cfg.Pipelines.State.Order)
	assert.True(t, cfg.SCP.UncompressedOnly)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCP_AE_TITLE", "THIS_AE_TITLE_IS_TOO_LONG")
	t.Setenv("BATCH_IMAGE_ORDER", "random")
	t.Setenv("CACHE_TYPE", "memcached")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCP_AE_TITLE")
	assert.Contains(t, err.Error(), "BATCH_IMAGE_ORDER")
	assert.Contains(t, err.Error(), "CACHE_TYPE")
}
