package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"
	"github.com/sirupsen/logrus"
)

// VaultOptions configures the KV v2 engine holding tenant credentials.
// Token takes precedence over the AppRole pair.
type VaultOptions struct {
	Address      string
	CACertPath   string
	Token        string
	RoleID       string
	SecretID     string
	AppRoleMount string
	KVMount      string
}

// VaultCredentialStore writes generated datasource credentials to Vault.
type VaultCredentialStore struct {
	client  *vault.Client
	kvMount string
	logger  *logrus.Logger
}

func NewVaultCredentialStore(ctx context.Context, opts VaultOptions, logger *logrus.Logger) (*VaultCredentialStore, error) {
	clientOpts := []vault.ClientOption{
		vault.WithAddress(opts.Address),
		vault.WithRequestTimeout(30 * time.Second),
	}
	if opts.CACertPath != "" {
		tls := vault.TLSConfiguration{}
		tls.ServerCertificate.FromFile = opts.CACertPath
		clientOpts = append(clientOpts, vault.WithTLS(tls))
	}
	client, err := vault.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	token := opts.Token
	if token == "" {
		mount := opts.AppRoleMount
		if mount == "" {
			mount = "approle"
		}
		resp, err := client.Auth.AppRoleLogin(ctx,
			schema.AppRoleLoginRequest{RoleId: opts.RoleID, SecretId: opts.SecretID},
			vault.WithMountPath(mount),
		)
		if err != nil {
			return nil, fmt.Errorf("vault login failed: %w", err)
		}
		token = resp.Auth.ClientToken
		logger.WithField("mount", mount).Info("Authenticated to vault using AppRole")
	}
	if err := client.SetToken(token); err != nil {
		return nil, fmt.Errorf("failed to set vault token: %w", err)
	}

	kvMount := opts.KVMount
	if kvMount == "" {
		kvMount = "secret"
	}
	return &VaultCredentialStore{client: client, kvMount: kvMount, logger: logger}, nil
}

func (v *VaultCredentialStore) Put(ctx context.Context, path string, data map[string]any) error {
	_, err := v.client.Secrets.KvV2Write(ctx, path,
		schema.KvV2WriteRequest{Data: data},
		vault.WithMountPath(v.kvMount),
	)
	if err != nil {
		return fmt.Errorf("failed to write secret %s: %w", path, err)
	}
	v.logger.WithField("path", path).Debug("Secret written")
	return nil
}

// Delete removes every version of the secret. A missing secret is not an error.
func (v *VaultCredentialStore) Delete(ctx context.Context, path string) error {
	_, err := v.client.Secrets.KvV2DeleteMetadataAndAllVersions(ctx, path, vault.WithMountPath(v.kvMount))
	if err != nil && !vault.IsErrorStatus(err, http.StatusNotFound) {
		return fmt.Errorf("failed to delete secret %s: %w", path, err)
	}
	return nil
}
