package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// IdentityRepository stores identities. Emails arrive normalized from the
// Engine, so a plain unique index enforces one identity per address.
type IdentityRepository struct {
	pool poolIface
}

func NewIdentityRepository(pool poolIface) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

var _ goIdentity.IdentityStore = (*IdentityRepository)(nil)

// CreateIdentity inserts under the caller's id. A conflict on the id means
// an earlier attempt with the same id already committed; that row is
// returned when it carries the same email.
func (r *IdentityRepository) CreateIdentity(ctx context.Context, id, email, credentialHash string) (goIdentity.Identity, error) {
	identity := goIdentity.Identity{
		ID:             id,
		Email:          email,
		CredentialHash: credentialHash,
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO identities (id, email, credential_hash)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING created_at`,
		id, email, credentialHash,
	).Scan(&identity.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, lookupErr := r.GetIdentityByID(ctx, id)
		if lookupErr != nil {
			return goIdentity.Identity{}, lookupErr
		}
		if existing.Email != email {
			return goIdentity.Identity{}, goIdentity.ErrIdentityConflict
		}
		return existing, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return goIdentity.Identity{}, goIdentity.ErrIdentityConflict
		}
		return goIdentity.Identity{}, oops.Code("IDENTITY_CREATE_FAILED").Wrap(err)
	}
	return identity, nil
}

func (r *IdentityRepository) DeleteIdentity(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id); err != nil {
		return oops.Code("IDENTITY_DELETE_FAILED").With("identity_id", id).Wrap(err)
	}
	return nil
}

func (r *IdentityRepository) GetIdentityByID(ctx context.Context, id string) (goIdentity.Identity, error) {
	return r.getOne(ctx, "identity_id", id,
		`SELECT id::text, email, credential_hash, confirmed, created_at
		 FROM identities WHERE id = $1`)
}

func (r *IdentityRepository) GetIdentityByEmail(ctx context.Context, email string) (goIdentity.Identity, error) {
	return r.getOne(ctx, "email", email,
		`SELECT id::text, email, credential_hash, confirmed, created_at
		 FROM identities WHERE email = $1`)
}

func (r *IdentityRepository) getOne(ctx context.Context, key, value, query string) (goIdentity.Identity, error) {
	var identity goIdentity.Identity
	err := r.pool.QueryRow(ctx, query, value).Scan(
		&identity.ID,
		&identity.Email,
		&identity.CredentialHash,
		&identity.Confirmed,
		&identity.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return goIdentity.Identity{}, goIdentity.ErrIdentityNotFound
	}
	if err != nil {
		return goIdentity.Identity{}, oops.Code("IDENTITY_QUERY_FAILED").With(key, value).Wrap(err)
	}
	return identity, nil
}

func (r *IdentityRepository) UpdateCredential(ctx context.Context, id, credentialHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET credential_hash = $2, updated_at = now() WHERE id = $1`,
		id, credentialHash)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").With("identity_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return goIdentity.ErrIdentityNotFound
	}
	return nil
}

func (r *IdentityRepository) MarkConfirmed(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET confirmed = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").With("identity_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return goIdentity.ErrIdentityNotFound
	}
	return nil
}
