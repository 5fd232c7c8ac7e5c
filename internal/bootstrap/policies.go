// Package bootstrap runs startup tasks before the server accepts traffic.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/policy"
	"github.com/smallbiznis/returnwatch/internal/repository"
)

// LoadPolicyOverrides applies operator-managed merchant policies from the
// database on top of the built-in seed table. Adding or tuning a merchant is a
// row insert, not a deploy.
func LoadPolicyOverrides(repo repository.PolicyRepository, catalog *policy.Catalog, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	overrides, err := repo.ListMerchantPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load merchant policy overrides: %w", err)
	}
	for _, p := range overrides {
		catalog.Put(p)
	}
	logger.Info("merchant policy overrides applied", zap.Int("count", len(overrides)))
	return nil
}
