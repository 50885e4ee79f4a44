// internal/repository/profile_repo.go
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payout-service/internal/domain"
)

// ProfileRepository reads the creator profile slice the resolver needs.
type ProfileRepository interface {
	GetProfile(ctx context.Context, creatorID string) (*domain.CreatorProfile, error)
}

type profileRepo struct {
	db *pgxpool.Pool
}

func NewProfileRepository(db *pgxpool.Pool) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) GetProfile(ctx context.Context, creatorID string) (*domain.CreatorProfile, error) {
	query := `SELECT creator_id, country_code FROM creator_profiles WHERE creator_id = $1`

	var profile domain.CreatorProfile
	err := r.db.QueryRow(ctx, query, creatorID).Scan(&profile.CreatorID, &profile.CountryCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCreatorNotFound
		}
		return nil, err
	}
	return &profile, nil
}
