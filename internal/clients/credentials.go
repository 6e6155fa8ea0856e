package clients

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Credentials are an exchange API key pair.
type Credentials struct {
	APIKey    string
	APISecret string
}

// EnvPrefix turns a credentials reference such as "acme-main" into "ACME_MAIN".
func EnvPrefix(ref string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, ref)
}

// LoadCredentials reads <REF>_API_KEY and <REF>_API_SECRET from the environment.
func LoadCredentials(ref string) (Credentials, error) {
	if ref == "" {
		return Credentials{}, errors.New("credentials reference is empty")
	}
	prefix := EnvPrefix(ref)
	creds := Credentials{
		APIKey:    os.Getenv(prefix + "_API_KEY"),
		APISecret: os.Getenv(prefix + "_API_SECRET"),
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return Credentials{}, errors.Errorf("%s_API_KEY and %s_API_SECRET must be set", prefix, prefix)
	}
	return creds, nil
}
