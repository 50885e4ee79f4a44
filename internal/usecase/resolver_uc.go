// payout-service/internal/usecase/resolver_uc.go
package usecase

import (
	"context"

	"go.uber.org/zap"

	"payout-service/internal/domain"
	"payout-service/internal/repository"
	"payout-service/internal/security"
)

// RouteResolver decides where and in what currency a creator gets paid.
// Resolution is best-effort with an ordered fallback chain; it never fails,
// because a payout with an unknown destination should still be attempted
// against the default route rather than rejected outright.
type RouteResolver struct {
	profileRepo repository.ProfileRepository
	bankRepo    repository.BankAccountRepository
	cipher      *security.FieldCipher
	logger      *zap.Logger
}

func NewRouteResolver(
	profileRepo repository.ProfileRepository,
	bankRepo repository.BankAccountRepository,
	cipher *security.FieldCipher,
	logger *zap.Logger,
) *RouteResolver {
	return &RouteResolver{
		profileRepo: profileRepo,
		bankRepo:    bankRepo,
		cipher:      cipher,
		logger:      logger,
	}
}

// ResolvePayoutRoute resolves the payout destination for a creator:
// 1. profile country code,
// 2. verified bank account currency,
// 3. country inferred from the decrypted routing identifier,
// 4. the US/USD default.
// Each step only applies when the previous one produced nothing usable.
func (r *RouteResolver) ResolvePayoutRoute(ctx context.Context, creatorID string) domain.PayoutRoute {
	profile, err := r.profileRepo.GetProfile(ctx, creatorID)
	if err != nil {
		r.logger.Debug("route resolution: profile lookup failed",
			zap.String("creator_id", creatorID),
			zap.Error(err))
	} else if profile.CountryCode != nil && *profile.CountryCode != "" {
		if _, ok := domain.CurrencyForCountry(*profile.CountryCode); ok {
			return domain.RouteForCountry(*profile.CountryCode)
		}
		r.logger.Warn("route resolution: profile country not in currency table",
			zap.String("creator_id", creatorID),
			zap.String("country_code", *profile.CountryCode))
	}

	account, err := r.bankRepo.GetVerifiedAccount(ctx, creatorID)
	if err != nil {
		r.logger.Debug("route resolution: bank account lookup failed",
			zap.String("creator_id", creatorID),
			zap.Error(err))
	} else if account != nil {
		if country, ok := domain.CountryForCurrency(account.Currency); ok {
			return domain.RouteForCountry(country)
		}

		routing, err := r.cipher.Decrypt(account.RoutingNumberEncrypted)
		if err != nil {
			r.logger.Warn("route resolution: routing number decrypt failed",
				zap.String("creator_id", creatorID),
				zap.Int64("bank_account_id", account.ID),
				zap.Error(err))
		} else if country, ok := domain.CountryForRoutingCode(routing); ok {
			return domain.RouteForCountry(country)
		}
	}

	r.logger.Info("route resolution fell through to default",
		zap.String("creator_id", creatorID),
		zap.String("country_code", domain.DefaultRoute.CountryCode))
	return domain.DefaultRoute
}
