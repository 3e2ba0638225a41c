package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// User 系统用户
type User struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	Username       string     `json:"username"`
	FullName       string     `json:"full_name"`
	HashedPassword string     `json:"-"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLogin      *time.Time `json:"last_login"`
}

const userColumns = `id, email, username, full_name, hashed_password, role, is_active, created_at, last_login`

// UserStore 用户（Postgres）
type UserStore struct {
	db Querier
}

func NewUserStore(db Querier) *UserStore {
	if db == nil {
		panic("store: querier required")
	}
	return &UserStore{db: db}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.HashedPassword, &u.Role, &u.IsActive, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create 创建用户，邮箱或用户名冲突时返回 ErrDuplicate
func (s *UserStore) Create(ctx context.Context, u *User) error {
	ctx, span := tracer.Start(ctx, "store.users.create")
	defer span.End()

	query := `
		INSERT INTO users (email, username, full_name, hashed_password, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, u.Email, u.Username, u.FullName, u.HashedPassword, u.Role, u.IsActive).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// GetByID 按 ID 查询
func (s *UserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return u, err
}

// GetByLogin 按用户名或邮箱查询
func (s *UserStore) GetByLogin(ctx context.Context, login string) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1 LIMIT 1`, login))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: get user by login: %w", err)
	}
	return u, err
}

// EmailTaken 邮箱是否已被其他用户使用（excludeID 为 0 时不排除）
func (s *UserStore) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND id <> $2)`, email, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check email: %w", err)
	}
	return exists, nil
}

// UsernameTaken 用户名是否已存在
func (s *UserStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check username: %w", err)
	}
	return exists, nil
}

// TouchLastLogin 更新最后登录时间
func (s *UserStore) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("store: update last login: %w", err)
	}
	return nil
}

// UpdatePassword 更新密码哈希
func (s *UserStore) UpdatePassword(ctx context.Context, id int64, hashed string) error {
	ct, err := s.db.Exec(ctx, `UPDATE users SET hashed_password = $2 WHERE id = $1`, id, hashed)
	if err != nil {
		return fmt.Errorf("store: update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile 更新姓名与邮箱
func (s *UserStore) UpdateProfile(ctx context.Context, id int64, fullName, email string) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `
		UPDATE users SET full_name = $2, email = $3
		WHERE id = $1
		RETURNING `+userColumns, id, fullName, email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("store: update profile: %w", err)
	}
	return u, nil
}

// List 分页列出用户
func (s *UserStore) List(ctx context.Context, offset, limit int) ([]User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate users: %w", err)
	}
	return users, nil
}

// ToggleActive 切换启用状态，返回新状态
func (s *UserStore) ToggleActive(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `
		UPDATE users SET is_active = NOT is_active
		WHERE id = $1
		RETURNING `+userColumns, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: toggle user: %w", err)
	}
	return u, err
}

// Delete 删除用户
func (s *UserStore) Delete(ctx context.Context, id int64) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
