package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra/auth"
)

// ErrInvalidCredentials не уточняет, что неверно (логин или пароль), для защиты от перебора.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrUnauthenticated)

type UserRepository interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
}

// AuthService выдает токены операторам. Проверка токенов: через встроенный BaseValidator.
type AuthService struct {
	*auth.BaseValidator
	repo       UserRepository
	issuer     *auth.TokenIssuer
	bcryptCost int
	logger     *zap.Logger
}

func NewAuthService(repo UserRepository, validator *auth.BaseValidator, issuer *auth.TokenIssuer, bcryptCost int, logger *zap.Logger) *AuthService {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		BaseValidator: validator,
		repo:          repo,
		issuer:        issuer,
		bcryptCost:    bcryptCost,
		logger:        logger.Named("auth-service"),
	}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды: Postgres)
	user, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("failed to load user", zap.String("username", username), zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	// 2. Проверка пароля
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Подпись закрытым ключом (RS256), права: из БД
	return s.issuer.Issue(user)
}

// EnsureUser создает пользователя, если его еще нет. Используется для bootstrap-админа.
func (s *AuthService) EnsureUser(ctx context.Context, username, password, role string, permissions []string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrInvalidInput)
	}
	_, err := s.repo.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u := &domain.User{Username: username, PasswordHash: string(hash), Role: role, Permissions: permissions}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("create user %s: %w", username, err)
	}
	s.logger.Info("user created", zap.String("username", username), zap.String("role", role))
	return nil
}
