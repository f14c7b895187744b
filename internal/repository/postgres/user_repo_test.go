package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/trailence/trailence-back-sub001/internal/errs"
	"github.com/trailence/trailence-back-sub001/internal/model"
)

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := &model.User{Email: "alice@example.com", PasswordHash: "argon2id$s$h"}

	mock.ExpectExec(`INSERT INTO users \(email, password_hash\) VALUES \(\$1, \$2\)`).
		WithArgs(u.Email, u.PasswordHash).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, u))

	mock.ExpectExec(`INSERT INTO users \(email, password_hash\) VALUES \(\$1, \$2\)`).
		WithArgs(u.Email, u.PasswordHash).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, u), errs.ErrAlreadyExists)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.Email, u.PasswordHash).
		WillReturnError(errors.New("db down"))
	err := r.Create(ctx, u)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT email, password_hash, created_at FROM users WHERE email=\$1`).
		WithArgs("bob@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"email", "password_hash", "created_at"}).
			AddRow("bob@example.com", "digest", created))
	u, err := r.GetByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Equal(t, "digest", u.PasswordHash)
	require.Equal(t, created, u.CreatedAt)

	mock.ExpectQuery(`SELECT email, password_hash, created_at FROM users WHERE email=\$1`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(`SELECT email, password_hash, created_at FROM users WHERE email=\$1`).
		WithArgs("bob@example.com").
		WillReturnError(errors.New("conn reset"))
	_, err = r.GetByEmail(ctx, "bob@example.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}
