// Package auth registers users, checks their credentials and issues JWTs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"portfolio-tracker/models"
)

const (
	AccessTokenTTL  = 24 * time.Hour
	RefreshTokenTTL = 7 * 24 * time.Hour

	refreshKeyPrefix = "refresh:"
)

// Tokens is an access/refresh pair.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims carried by both token kinds.
type Claims struct {
	UserID uint   `json:"user_id"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

type Service struct {
	db     *gorm.DB
	rdb    *redis.Client
	secret []byte
	now    func() time.Time
	log    zerolog.Logger
}

func NewService(db *gorm.DB, rdb *redis.Client, secret string, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		rdb:    rdb,
		secret: []byte(secret),
		now:    time.Now,
		log:    log.With().Str("service", "auth").Logger(),
	}
}

// FindUserByEmail looks a user up by email; ok is false when none exists.
func (s *Service) FindUserByEmail(ctx context.Context, email string) (user models.User, ok bool, err error) {
	err = s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("failed to query user: %w", err)
	}
	return user, true, nil
}

// UserExists reports whether id references a registered user.
func (s *Service) UserExists(ctx context.Context, id uint) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return count > 0, nil
}

// CreateUser registers a local user with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, name, email, password string) (models.User, error) {
	email = normalizeEmail(email)
	if err := validateIdentity(name, email); err != nil {
		return models.User{}, err
	}
	if password == "" {
		return models.User{}, fmt.Errorf("%w: password is required", models.ErrValidation)
	}
	if _, ok, err := s.FindUserByEmail(ctx, email); err != nil {
		return models.User{}, err
	} else if ok {
		return models.User{}, fmt.Errorf("%w: %s", models.ErrUserExists, email)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	hash := string(hashed)

	user := models.User{Name: strings.TrimSpace(name), Email: email, Password: &hash, Provider: models.ProviderLocal}
	if err := s.create(ctx, &user); err != nil {
		return models.User{}, err
	}
	s.log.Info().Uint("user_id", user.ID).Msg("Registered user")
	return user, nil
}

// CreateOAuthUser returns the user registered under email, creating a
// passwordless one for provider when none exists. created reports which.
// An email already registered through another provider fails with
// models.ErrUserExists.
func (s *Service) CreateOAuthUser(ctx context.Context, name, email, provider string) (user models.User, created bool, err error) {
	email = normalizeEmail(email)
	if err := validateIdentity(name, email); err != nil {
		return models.User{}, false, err
	}
	switch provider {
	case models.ProviderGoogle, models.ProviderGitHub:
	default:
		return models.User{}, false, fmt.Errorf("%w: unsupported provider %q", models.ErrValidation, provider)
	}

	existing, ok, err := s.FindUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, false, err
	}
	if ok {
		if existing.Provider != provider {
			return models.User{}, false, fmt.Errorf("%w: %s is registered with %s", models.ErrUserExists, email, existing.Provider)
		}
		return existing, false, nil
	}

	user = models.User{Name: strings.TrimSpace(name), Email: email, Provider: provider}
	if err := s.create(ctx, &user); err != nil {
		if errors.Is(err, models.ErrUserExists) {
			// Lost a race with a concurrent registration.
			existing, _, ferr := s.FindUserByEmail(ctx, email)
			if ferr != nil {
				return models.User{}, false, ferr
			}
			if existing.Provider != provider {
				return models.User{}, false, err
			}
			return existing, false, nil
		}
		return models.User{}, false, err
	}
	s.log.Info().Uint("user_id", user.ID).Str("provider", provider).Msg("Registered external user")
	return user, true, nil
}

// VerifyCredentials returns the local user matching email and password.
// Unknown emails, wrong passwords and passwordless users all fail with
// models.ErrInvalidCredentials.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (models.User, error) {
	user, ok, err := s.FindUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	if !ok || user.Password == nil {
		return models.User{}, models.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(password)); err != nil {
		return models.User{}, models.ErrInvalidCredentials
	}
	return user, nil
}

// IssueTokens signs a new access/refresh pair for userID and records the
// refresh token in Redis until it expires.
func (s *Service) IssueTokens(ctx context.Context, userID uint) (Tokens, error) {
	access, err := s.sign(userID, "access", AccessTokenTTL)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.sign(userID, "refresh", RefreshTokenTTL)
	if err != nil {
		return Tokens{}, err
	}

	if err := s.rdb.Set(ctx, refreshKeyPrefix+refresh, userID, RefreshTokenTTL).Err(); err != nil {
		return Tokens{}, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a stored refresh token for a new pair. Each refresh token
// can be used once, and only while its user still exists.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	claims, err := ParseToken(s.secret, refreshToken)
	if err != nil || claims.Kind != "refresh" {
		return Tokens{}, models.ErrInvalidToken
	}

	stored, err := s.rdb.GetDel(ctx, refreshKeyPrefix+refreshToken).Uint64()
	if errors.Is(err, redis.Nil) {
		return Tokens{}, models.ErrInvalidToken
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to read refresh token: %w", err)
	}
	if uint(stored) != claims.UserID {
		return Tokens{}, models.ErrInvalidToken
	}

	exists, err := s.UserExists(ctx, claims.UserID)
	if err != nil {
		return Tokens{}, err
	}
	if !exists {
		return Tokens{}, fmt.Errorf("%w: user %d no longer exists", models.ErrInvalidToken, claims.UserID)
	}
	return s.IssueTokens(ctx, claims.UserID)
}

// Revoke forgets a refresh token.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	if err := s.rdb.Del(ctx, refreshKeyPrefix+refreshToken).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// ParseToken verifies an HS256 token signed with secret and returns its claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, models.ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) sign(userID uint, kind string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%d-%d", userID, now.UnixNano()),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (s *Service) create(ctx context.Context, user *models.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", models.ErrUserExists, user.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func validateIdentity(name, email string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email %q", models.ErrValidation, email)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
