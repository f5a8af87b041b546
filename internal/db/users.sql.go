package db

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

const userColumns = `id, email, password_hash, first_name, last_name, roles, is_active, created_at, updated_at, last_login`

func scanUser(row rowScanner) (User, error) {
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PasswordHash,
		&i.FirstName,
		&i.LastName,
		&i.Roles,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.LastLogin,
	)
	return i, err
}

const createUser = `INSERT INTO users (email, password_hash, first_name, last_name, roles)
VALUES (lower($1), $2, $3, $4, $5)
RETURNING ` + userColumns

type CreateUserParams struct {
	Email        string
	PasswordHash string
	FirstName    sql.NullString
	LastName     sql.NullString
	Roles        pq.StringArray
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser,
		arg.Email,
		arg.PasswordHash,
		arg.FirstName,
		arg.LastName,
		arg.Roles,
	)
	return scanUser(row)
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	return scanUser(row)
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	return scanUser(row)
}

const listUsers = `SELECT ` + userColumns + ` FROM users ORDER BY id ASC`

func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := q.db.QueryContext(ctx, listUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []User
	for rows.Next() {
		i, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateUserPassword = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`

type UpdateUserPasswordParams struct {
	ID           int64
	PasswordHash string
}

func (q *Queries) UpdateUserPassword(ctx context.Context, arg UpdateUserPasswordParams) error {
	res, err := q.db.ExecContext(ctx, updateUserPassword, arg.ID, arg.PasswordHash)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const touchUserLastLogin = `UPDATE users SET last_login = now() WHERE id = $1`

func (q *Queries) TouchUserLastLogin(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, touchUserLastLogin, id)
	return err
}

const setUserActive = `UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1`

type SetUserActiveParams struct {
	ID       int64
	IsActive bool
}

func (q *Queries) SetUserActive(ctx context.Context, arg SetUserActiveParams) error {
	res, err := q.db.ExecContext(ctx, setUserActive, arg.ID, arg.IsActive)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
