package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "ACME_MAIN", EnvPrefix("acme-main"))
	assert.Equal(t, "CLIENT_2", EnvPrefix("client.2"))
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("ACME_MAIN_API_KEY", "key")
	t.Setenv("ACME_MAIN_API_SECRET", "secret")

	creds, err := LoadCredentials("acme-main")
	require.NoError(t, err)
	assert.Equal(t, Credentials{APIKey: "key", APISecret: "secret"}, creds)

	_, err = LoadCredentials("missing")
	assert.ErrorContains(t, err, "MISSING_API_KEY")

	_, err = LoadCredentials("")
	assert.Error(t, err)
}
