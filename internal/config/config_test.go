package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DDF_CLIENT_ID", "client")
	t.Setenv("DDF_CLIENT_SECRET", "secret")
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("DDF_CLIENT_ID", "")
	t.Setenv("DDF_CLIENT_SECRET", "secret")
	_, err := Load()
	require.EqualError(t, err, "DDF_CLIENT_ID is required")

	t.Setenv("DDF_CLIENT_ID", "client")
	t.Setenv("DDF_CLIENT_SECRET", "")
	_, err = Load()
	require.EqualError(t, err, "DDF_CLIENT_SECRET is required")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("DDF_CREATED_AFTER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4002, cfg.Port)
	assert.Equal(t, "https://ddfapi.realtor.ca/odata/v1", cfg.DDF.BaseURL.String())
	assert.Equal(t, "https://identity.crea.ca/connect/token", cfg.DDF.TokenURL.String())
	assert.Equal(t, "DDFApi_Read", cfg.DDF.Scope)
	assert.Equal(t, 5, cfg.DDF.MaxPages)
	assert.Equal(t, 10*time.Second, cfg.DDF.RequestTimeout)
	assert.Equal(t, "For Sale", cfg.Filter.DefaultTransaction)
	assert.True(t, cfg.Filter.CreatedAfter.IsZero())
}

func TestLoadCutoffAndOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DDF_CREATED_AFTER", "2024-01-15")
	t.Setenv("DDF_BASE_URL", "https://ddf.example.com/odata/v1/")
	t.Setenv("DDF_DEFAULT_TRANSACTION", "For Rent")
	t.Setenv("DDF_EXPAND", "Media")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), cfg.Filter.CreatedAfter)
	assert.Equal(t, "/odata/v1", cfg.DDF.BaseURL.Path)
	assert.Equal(t, "For Rent", cfg.Filter.DefaultTransaction)
	assert.Equal(t, "Media", cfg.DDF.Expand)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	setRequired(t)

	t.Setenv("DDF_CREATED_AFTER", "last tuesday")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("DDF_CREATED_AFTER", "")
	t.Setenv("DDF_BASE_URL", "/relative")
	_, err = Load()
	require.EqualError(t, err, "DDF_BASE_URL must be absolute (scheme://host)")

	t.Setenv("DDF_BASE_URL", "")
	t.Setenv("DDF_DEFAULT_TRANSACTION", "Lease")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	setRequired(t)
	t.Setenv("DDF_MAX_PAGES", "five")
	t.Setenv("DDF_REQUEST_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid DDF_MAX_PAGES "five"`)
	assert.Contains(t, err.Error(), `invalid DDF_REQUEST_TIMEOUT "soon"`)
}

func TestLoadNormalizesDefaultTransaction(t *testing.T) {
	setRequired(t)
	t.Setenv("DDF_DEFAULT_TRANSACTION", "for rent")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "For Rent", cfg.Filter.DefaultTransaction)
}
