package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// ProvideVault builds a vault client from the VAULT_* environment. It is only
// installed by cmd/pipeline when VAULT_ADDR is set.
func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	if token, ok := os.LookupEnv("VAULT_TOKEN"); ok {
		if err := client.SetToken(token); err != nil {
			return nil, err
		}
	}

	return client, nil
}
