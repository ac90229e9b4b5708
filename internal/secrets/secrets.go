// Package secrets resolves deployment secrets from Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"timetrack/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

var ErrCorruptPayload = errors.New("secret payload checksum mismatch")

type accessFunc func(ctx context.Context, name string) (*secretmanagerpb.SecretPayload, error)

// Resolver reads the latest version of named secrets in one GCP project.
type Resolver struct {
	projectID string
	access    accessFunc
	close     func() error
}

func NewResolver(ctx context.Context, cfg *config.Config) (*Resolver, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID is required to read secrets")
	}

	var opts []option.ClientOption
	if cfg.SecretManagerEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.SecretManagerEndpoint))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}

	return &Resolver{
		projectID: cfg.GCPProjectID,
		access: func(ctx context.Context, name string) (*secretmanagerpb.SecretPayload, error) {
			resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
			if err != nil {
				return nil, err
			}
			return resp.GetPayload(), nil
		},
		close: client.Close,
	}, nil
}

// Resolve returns the payload of secret. A bare secret id reads its latest
// version; a full "projects/..." resource name is used as given.
func (r *Resolver) Resolve(ctx context.Context, secret string) (string, error) {
	name := r.resourceName(secret)
	payload, err := r.access(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}
	if payload.DataCrc32C != nil {
		sum := int64(crc32.Checksum(payload.GetData(), crc32.MakeTable(crc32.Castagnoli)))
		if sum != payload.GetDataCrc32C() {
			return "", fmt.Errorf("%s: %w", name, ErrCorruptPayload)
		}
	}
	return strings.TrimSpace(string(payload.GetData())), nil
}

func (r *Resolver) resourceName(secret string) string {
	if strings.HasPrefix(secret, "projects/") {
		return secret
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", r.projectID, secret)
}

func (r *Resolver) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// StripeSecretKey returns STRIPE_SECRET_KEY when set and otherwise reads
// STRIPE_SECRET_KEY_SECRET from Secret Manager.
func StripeSecretKey(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.StripeSecretKey != "" {
		return cfg.StripeSecretKey, nil
	}
	r, err := NewResolver(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return r.Resolve(ctx, cfg.StripeSecretKeySecret)
}
