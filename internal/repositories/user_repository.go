package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"course-chat-service/internal/models"
)

// UserRepository caches identity display fields locally so sender names can
// be resolved without calling the identity collaborator per message.
type UserRepository interface {
	Upsert(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, userID int) (models.User, error)
	BulkUsers(ctx context.Context, ids []int) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Upsert refreshes the local copy of a user's display fields.
func (r *UserRepo) Upsert(ctx context.Context, user models.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, name, role) VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role`, user.ID, user.Name, user.Role)
	return err
}

// GetUser fetches one user. Unknown ids resolve to an empty-name user
// rather than an error; display names are best-effort.
func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, name, role FROM users WHERE id=$1`, userID)
	if err != nil {
		return models.User{ID: userID}, nil
	}
	return user, nil
}

// BulkUsers fetches multiple users in one query.
func (r *UserRepo) BulkUsers(ctx context.Context, ids []int) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query, args, err := sqlx.In(`SELECT id, name, role FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var users []models.User
	err = r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...)
	return users, err
}
