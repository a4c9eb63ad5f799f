package secretmanager

import (
	"os"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

const requestTimeout = 10 * time.Second

// Module provides a vault client. config.LoadConfig overlays database and
// redis credentials from it when present.
var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// Enabled reports whether VAULT_ADDR is set; without it the service runs on
// plain config.
func Enabled() bool {
	return os.Getenv("VAULT_ADDR") != ""
}

// ProvideVault configures the client from VAULT_ADDR, VAULT_TOKEN and the
// other standard vault environment variables.
func ProvideVault() (*vault.Client, error) {
	return vault.New(
		vault.WithEnvironment(),
		vault.WithRequestTimeout(requestTimeout),
	)
}
