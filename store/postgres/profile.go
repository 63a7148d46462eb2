package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// ProfileRepository stores profiles keyed by identity id.
type ProfileRepository struct {
	pool poolIface
}

func NewProfileRepository(pool poolIface) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

var _ goIdentity.ProfileStore = (*ProfileRepository)(nil)

const profileColumns = `identity_id::text, email, first_name, last_name, phone, dob, created_at`

func (r *ProfileRepository) InsertProfile(ctx context.Context, identityID, email string, fields goIdentity.ProfileFields) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (identity_id, email, first_name, last_name, phone, dob)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		identityID, email, fields.FirstName, fields.LastName, fields.Phone, fields.DOB)
	if err != nil {
		if isUniqueViolation(err) {
			return goIdentity.ErrProfileConflict
		}
		return oops.Code("PROFILE_INSERT_FAILED").With("identity_id", identityID).Wrap(err)
	}
	return nil
}

// GetProfileByEmail is a unique-index point lookup.
func (r *ProfileRepository) GetProfileByEmail(ctx context.Context, email string) (goIdentity.Profile, error) {
	return r.getOne(ctx, "email", email,
		`SELECT `+profileColumns+` FROM profiles WHERE email = $1`)
}

func (r *ProfileRepository) GetProfileByIdentityID(ctx context.Context, identityID string) (goIdentity.Profile, error) {
	return r.getOne(ctx, "identity_id", identityID,
		`SELECT `+profileColumns+` FROM profiles WHERE identity_id = $1`)
}

func (r *ProfileRepository) getOne(ctx context.Context, key, value, query string) (goIdentity.Profile, error) {
	var p goIdentity.Profile
	err := r.pool.QueryRow(ctx, query, value).Scan(
		&p.IdentityID,
		&p.Email,
		&p.FirstName,
		&p.LastName,
		&p.Phone,
		&p.DOB,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return goIdentity.Profile{}, goIdentity.ErrProfileNotFound
	}
	if err != nil {
		return goIdentity.Profile{}, oops.Code("PROFILE_QUERY_FAILED").With(key, value).Wrap(err)
	}
	return p, nil
}

func (r *ProfileRepository) DeleteProfile(ctx context.Context, identityID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM profiles WHERE identity_id = $1`, identityID); err != nil {
		return oops.Code("PROFILE_DELETE_FAILED").With("identity_id", identityID).Wrap(err)
	}
	return nil
}
