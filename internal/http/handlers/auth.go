package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/auth"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/http/middleware"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/http/respond"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/store"
)

// UserRepository 用户存储契约
type UserRepository interface {
	Create(ctx context.Context, u *store.User) error
	GetByID(ctx context.Context, id int64) (*store.User, error)
	GetByLogin(ctx context.Context, login string) (*store.User, error)
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hashed string) error
	UpdateProfile(ctx context.Context, id int64, fullName, email string) (*store.User, error)
	List(ctx context.Context, offset, limit int) ([]store.User, error)
	ToggleActive(ctx context.Context, id int64) (*store.User, error)
	Delete(ctx context.Context, id int64) error
}

// AuthHandler /api/auth 路由
type AuthHandler struct {
	users  UserRepository
	tokens *auth.Tokens
	logger *slog.Logger
	now    func() time.Time
}

func NewAuthHandler(users UserRepository, tokens *auth.Tokens, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{users: users, tokens: tokens, logger: logger, now: time.Now}
}

// RegisterRequest 注册请求体
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (r *RegisterRequest) validate() error {
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	r.FullName = strings.TrimSpace(r.FullName)
	if r.Role == "" {
		r.Role = auth.RoleUser
	}
	if !validEmail(r.Email) {
		return validationError("email inválido")
	}
	if n := utf8.RuneCountInString(r.Username); n < 3 || n > 50 {
		return validationError("username deve ter entre 3 e 50 caracteres")
	}
	if n := utf8.RuneCountInString(r.FullName); n < 3 || n > 255 {
		return validationError("full_name deve ter entre 3 e 255 caracteres")
	}
	if utf8.RuneCountInString(r.Password) < 6 {
		return validationError("password deve ter no mínimo 6 caracteres")
	}
	return nil
}

// LoginRequest username 可以是用户名或邮箱
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse 登录结果
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        TokenUser `json:"user"`
}

// TokenUser 登录结果中的用户摘要
type TokenUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// UpdateProfileRequest 空字段表示不修改
type UpdateProfileRequest struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
}

// ChangePasswordRequest 修改密码
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type messageBody struct {
	Message string `json:"message"`
}

// Register POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := body.validate(); err != nil {
		respond.Error(w, bodyStatus(err), err.Error())
		return
	}

	ctx := r.Context()
	taken, err := h.users.EmailTaken(ctx, body.Email, 0)
	if err != nil {
		h.internal(w, "check email", err)
		return
	}
	if taken {
		respond.Error(w, http.StatusBadRequest, "Email já cadastrado")
		return
	}
	taken, err = h.users.UsernameTaken(ctx, body.Username)
	if err != nil {
		h.internal(w, "check username", err)
		return
	}
	if taken {
		respond.Error(w, http.StatusBadRequest, "Nome de usuário já existe")
		return
	}
	if !auth.IsValidRole(body.Role) {
		respond.Error(w, http.StatusBadRequest, "Role inválida. Use: "+strings.Join(auth.ValidRoles, ", "))
		return
	}

	hashed, err := auth.HashPassword(body.Password)
	if err != nil {
		h.internal(w, "hash password", err)
		return
	}
	user := &store.User{
		Email:          body.Email,
		Username:       body.Username,
		FullName:       body.FullName,
		HashedPassword: hashed,
		Role:           body.Role,
		IsActive:       true,
	}
	if err := h.users.Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			respond.Error(w, http.StatusBadRequest, "Email ou nome de usuário já cadastrado")
			return
		}
		h.internal(w, "create user", err)
		return
	}

	h.logger.Info("user registered", slog.Int64("user_id", user.ID), slog.String("role", user.Role))
	respond.JSON(w, http.StatusCreated, user)
}

// Login POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	user, err := h.users.GetByLogin(ctx, strings.TrimSpace(body.Username))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.internal(w, "load user", err)
		return
	}
	if user == nil || !auth.VerifyPassword(body.Password, user.HashedPassword) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		respond.Error(w, http.StatusUnauthorized, "Credenciais inválidas")
		return
	}
	if !user.IsActive {
		respond.Error(w, http.StatusForbidden, "Usuário inativo")
		return
	}

	if err := h.users.TouchLastLogin(ctx, user.ID, h.now().UTC()); err != nil {
		h.logger.Warn("update last login failed", slog.Int64("user_id", user.ID), slog.String("err", err.Error()))
	}

	token, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		h.internal(w, "issue token", err)
		return
	}

	respond.JSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User: TokenUser{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	})
}

// Me GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Não autenticado")
		return
	}
	respond.JSON(w, http.StatusOK, user)
}

// UpdateMe PUT /api/auth/me
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Não autenticado")
		return
	}

	var body UpdateProfileRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	fullName, email := user.FullName, user.Email
	if body.FullName != nil && strings.TrimSpace(*body.FullName) != "" {
		fullName = strings.TrimSpace(*body.FullName)
	}
	if body.Email != nil && strings.TrimSpace(*body.Email) != "" {
		candidate := strings.TrimSpace(*body.Email)
		if !validEmail(candidate) {
			respond.Error(w, http.StatusUnprocessableEntity, "email inválido")
			return
		}
		taken, err := h.users.EmailTaken(r.Context(), candidate, user.ID)
		if err != nil {
			h.internal(w, "check email", err)
			return
		}
		if taken {
			respond.Error(w, http.StatusBadRequest, "Email já está em uso")
			return
		}
		email = candidate
	}

	updated, err := h.users.UpdateProfile(r.Context(), user.ID, fullName, email)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			respond.Error(w, http.StatusBadRequest, "Email já está em uso")
			return
		}
		h.internal(w, "update profile", err)
		return
	}
	respond.JSON(w, http.StatusOK, updated)
}

// ChangePassword POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Não autenticado")
		return
	}

	var body ChangePasswordRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if utf8.RuneCountInString(body.NewPassword) < 6 {
		respond.Error(w, http.StatusUnprocessableEntity, "new_password deve ter no mínimo 6 caracteres")
		return
	}
	if !auth.VerifyPassword(body.CurrentPassword, user.HashedPassword) {
		respond.Error(w, http.StatusBadRequest, "Senha atual incorreta")
		return
	}

	hashed, err := auth.HashPassword(body.NewPassword)
	if err != nil {
		h.internal(w, "hash password", err)
		return
	}
	if err := h.users.UpdatePassword(r.Context(), user.ID, hashed); err != nil {
		h.internal(w, "update password", err)
		return
	}
	respond.JSON(w, http.StatusOK, messageBody{Message: "Senha alterada com sucesso"})
}

// ListUsers GET /api/auth/users?skip=&limit=
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		respond.Error(w, bodyStatus(err), err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		respond.Error(w, bodyStatus(err), err.Error())
		return
	}
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = 100
	}

	users, err := h.users.List(r.Context(), skip, limit)
	if err != nil {
		h.internal(w, "list users", err)
		return
	}
	respond.JSON(w, http.StatusOK, users)
}

// ToggleActive PATCH /api/auth/users/{id}/toggle-active
func (h *AuthHandler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.users.ToggleActive(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "Usuário não encontrado")
			return
		}
		h.internal(w, "toggle user", err)
		return
	}

	status := "desativado"
	if user.IsActive {
		status = "ativado"
	}
	respond.JSON(w, http.StatusOK, messageBody{Message: fmt.Sprintf("Usuário %s %s com sucesso", user.Username, status)})
}

// DeleteUser DELETE /api/auth/users/{id}
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	current, _ := middleware.UserFromContext(r.Context())

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "Usuário não encontrado")
			return
		}
		h.internal(w, "load user", err)
		return
	}
	if current != nil && current.ID == user.ID {
		respond.Error(w, http.StatusBadRequest, "Você não pode deletar sua própria conta")
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "Usuário não encontrado")
			return
		}
		h.internal(w, "delete user", err)
		return
	}
	respond.JSON(w, http.StatusOK, messageBody{Message: fmt.Sprintf("Usuário %s deletado com sucesso", user.Username)})
}

func (h *AuthHandler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, http.StatusUnprocessableEntity, "id de usuário inválido")
		return 0, false
	}
	return id, true
}

func (h *AuthHandler) internal(w http.ResponseWriter, op string, err error) {
	h.logger.Error("auth handler failed", slog.String("op", op), slog.String("err", err.Error()))
	respond.Error(w, http.StatusInternalServerError, "Erro interno do servidor")
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
