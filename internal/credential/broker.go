// Package credential keeps upstream read connectors authorized. Each
// (user, provider) pair moves through an explicit lifecycle: no credential,
// active, expiring, reauth_required. Transitions happen only through the named
// operations here, never by inferring state from nullable fields.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/adapter/oauth"
	"github.com/smallbiznis/returnwatch/internal/domain"
	"github.com/smallbiznis/returnwatch/internal/repository"
	"github.com/smallbiznis/returnwatch/internal/retry"
)

// DefaultExpirySkew is how far before the recorded expiry a cached access
// token stops being trusted.
const DefaultExpirySkew = 60 * time.Second

// defaultTokenTTL applies when the upstream omits expires_in.
const defaultTokenTTL = time.Hour

// Broker drives the token lifecycle against one upstream provider.
type Broker struct {
	store    repository.CredentialStore
	client   oauth.ProviderClient
	provider oauth.ProviderConfig
	executor *retry.Executor
	skew     time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewBroker wires a broker for the given provider. A non-positive skew falls
// back to DefaultExpirySkew.
func NewBroker(store repository.CredentialStore, client oauth.ProviderClient, provider oauth.ProviderConfig, executor *retry.Executor, skew time.Duration, logger *zap.Logger) *Broker {
	if skew <= 0 {
		skew = DefaultExpirySkew
	}
	return &Broker{
		store:    store,
		client:   client,
		provider: provider,
		executor: executor,
		skew:     skew,
		now:      time.Now,
		logger:   logger,
	}
}

// EnsureAccessToken returns a live access token for the user, refreshing it
// upstream when the cached one is absent or about to expire.
//
// A missing credential or missing refresh token fails with
// domain.ErrReauthorizeNeeded before any network call. A refresh the upstream
// rejects as invalid_grant transitions the credential to reauth_required,
// clears the access token, and fails the same way.
func (b *Broker) EnsureAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := b.store.Get(ctx, userID, b.provider.Name)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", fmt.Errorf("user %s: %w", userID, domain.ErrReauthorizeNeeded)
		}
		return "", fmt.Errorf("load credential: %w", err)
	}
	if cred.RefreshToken == nil || cred.Status == domain.CredentialReauthRequired {
		return "", fmt.Errorf("user %s: %w", userID, domain.ErrReauthorizeNeeded)
	}

	now := b.now()
	if cred.AccessToken != nil && cred.AccessExpiry != nil && cred.AccessExpiry.After(now.Add(b.skew)) {
		return *cred.AccessToken, nil
	}

	token, err := retry.Execute(ctx, b.executor, "refresh access token", func(ctx context.Context) (*oauth.TokenResponse, error) {
		return b.client.RefreshToken(ctx, b.provider, *cred.RefreshToken)
	})
	if err != nil {
		var rejected *oauth.RefreshRejectedError
		if errors.As(err, &rejected) {
			return "", b.markReauthRequired(ctx, cred, rejected)
		}
		return "", fmt.Errorf("refresh access token: %w", err)
	}

	ttl := defaultTokenTTL
	if token.ExpiresIn > 0 {
		ttl = time.Duration(token.ExpiresIn) * time.Second
	}
	refreshed := cred.Refreshed(token.AccessToken, b.now().Add(ttl), scopesFrom(token.Scope), b.now())
	if token.RefreshToken != "" {
		rotated := token.RefreshToken
		refreshed.RefreshToken = &rotated
	}
	if err := b.store.Upsert(ctx, refreshed); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}
	return token.AccessToken, nil
}

// Reauthorize is the explicit operator- or user-triggered transition to
// reauth_required. Any stored refresh token survives so an in-flight
// authorization callback can still overwrite it; the access token is cleared
// immediately. A missing row is created directly in reauth_required.
func (b *Broker) Reauthorize(ctx context.Context, userID string) error {
	now := b.now()
	cred, err := b.store.Get(ctx, userID, b.provider.Name)
	if err != nil {
		if !errors.Is(err, domain.ErrCredentialNotFound) {
			return fmt.Errorf("load credential: %w", err)
		}
		cred = domain.Credential{UserID: userID, Provider: b.provider.Name}
	}
	if err := b.store.Upsert(ctx, cred.ReauthRequired(now)); err != nil {
		return fmt.Errorf("persist reauth_required: %w", err)
	}
	return nil
}

func (b *Broker) markReauthRequired(ctx context.Context, cred domain.Credential, cause *oauth.RefreshRejectedError) error {
	b.log().Warn("refresh token rejected upstream, user must reauthorize",
		zap.String("user_id", cred.UserID),
		zap.String("provider", cred.Provider),
		zap.Int("status", cause.Status),
		zap.String("code", cause.Code),
	)
	if err := b.store.Upsert(ctx, cred.ReauthRequired(b.now())); err != nil {
		return fmt.Errorf("persist reauth_required: %w", err)
	}
	return fmt.Errorf("user %s: %w", cred.UserID, domain.ErrReauthorizeNeeded)
}

func (b *Broker) log() *zap.Logger {
	if b != nil && b.logger != nil {
		return b.logger
	}
	return zap.L()
}

func scopesFrom(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
