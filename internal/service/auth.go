package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flagplane/internal/dto/req"
	"flagplane/internal/dto/resp"
	"flagplane/internal/repository"
	"flagplane/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// User is an operator allowed to log in.
type User struct {
	ID           string
	Username     string
	Role         string
	PasswordHash string
}

type AuthOptions struct {
	SigningKey      []byte
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type AuthService struct {
	users    map[string]User
	sessions repository.SessionStore
	opts     AuthOptions
	now      func() time.Time
}

type UserClaims struct {
	UserID    string `json:"uid"`
	Username  string `json:"sub"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

func NewAuthService(users []User, sessions repository.SessionStore, opts AuthOptions) *AuthService {
	byName := make(map[string]User, len(users))
	for _, u := range users {
		byName[u.Username] = u
	}
	return &AuthService{
		users:    byName,
		sessions: sessions,
		opts:     opts,
		now:      time.Now,
	}
}

// HashPassword bcrypts a bootstrap password from configuration.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login authenticates a user and returns pair of tokens
func (s *AuthService) Login(ctx context.Context, in req.LoginReq) (*resp.TokenResp, error) {
	user, ok := s.users[in.Username]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	tokens, err := s.generateTokens(ctx, user.ID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	logger.Info("operator logged in", zap.String("operator", user.Username))
	return tokens, nil
}

// Refresh rotates the token pair. The presented refresh token must be the
// one on record for the user; replaying an older one drops the session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*resp.TokenResp, error) {
	claims, err := s.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	stored, err := s.sessions.Get(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: session lookup: %v", ErrTransientStore, err)
	}

	if stored != refreshToken {
		logger.Warn("refresh token reuse detected", zap.String("operator", claims.Username))
		if err := s.sessions.Delete(ctx, claims.UserID); err != nil {
			logger.Error("failed to drop session", zap.String("operator", claims.Username), zap.Error(err))
		}
		return nil, ErrTokenInvalid
	}

	return s.generateTokens(ctx, claims.UserID, claims.Username, claims.Role)
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.sessions.Delete(ctx, userID)
}

// ParseAccessToken verifies an access token and returns its claims.
func (s *AuthService) ParseAccessToken(token string) (*UserClaims, error) {
	return s.parse(token, tokenTypeAccess)
}

func (s *AuthService) parse(token, wantType string) (*UserClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &UserClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.opts.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.opts.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(*UserClaims)
	if !ok || !parsed.Valid || claims.TokenType != wantType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) generateTokens(ctx context.Context, userID, username, role string) (*resp.TokenResp, error) {
	now := s.now()
	sign := func(tokenType string, ttl time.Duration, id string) (string, error) {
		claims := UserClaims{
			UserID:    userID,
			Username:  username,
			Role:      role,
			TokenType: tokenType,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				Issuer:    s.opts.Issuer,
				ID:        id,
			},
		}
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.SigningKey)
	}

	accessToken, err := sign(tokenTypeAccess, s.opts.AccessTokenTTL, "")
	if err != nil {
		return nil, err
	}
	// the jti keeps two refresh tokens minted in the same second distinct
	refreshToken, err := sign(tokenTypeRefresh, s.opts.RefreshTokenTTL, uuid.NewString())
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Put(ctx, userID, refreshToken, s.opts.RefreshTokenTTL); err != nil {
		return nil, fmt.Errorf("%w: store session: %v", ErrTransientStore, err)
	}

	return &resp.TokenResp{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.opts.AccessTokenTTL.Seconds()),
		User: resp.UserInfo{
			ID:       userID,
			Username: username,
			Role:     role,
		},
	}, nil
}
