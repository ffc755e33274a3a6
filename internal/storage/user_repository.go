package storage

import (
	"context"
	"strconv"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
)

// UserRepository reads the parts of the game user this core needs
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user. Used by seeding and integration tests.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO users (telegram_id, username, usdt_balance, ntx_balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, user.TelegramID, user.Username, user.USDTBalance, user.NTXBalance).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("user with this telegram id already exists")
		}
		return apperrors.NewDatabaseError("create user", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, telegram_id, username, usdt_balance, ntx_balance, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.TelegramID, &u.Username, &u.USDTBalance, &u.NTXBalance, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "user", strconv.FormatInt(id, 10), "get user")
	}
	return &u, nil
}

// TelegramID returns the chat id notifications for a user go to
func (r *UserRepository) TelegramID(ctx context.Context, userID int64) (int64, error) {
	var tg int64
	err := r.db.Pool().QueryRow(ctx, `SELECT telegram_id FROM users WHERE id = $1`, userID).Scan(&tg)
	if err != nil {
		return 0, notFoundOr(err, "user", strconv.FormatInt(userID, 10), "get telegram id")
	}
	return tg, nil
}
