package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mykrex/dimeloc-backend/internal/models"
	"github.com/mykrex/dimeloc-backend/internal/repository"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	Repo   repository.Repository
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// Identity is the verified caller carried by a token.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

func (a *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := checkStruct(in); err != nil {
		return LoginResult{}, err
	}
	if len(a.Secret) == 0 {
		return LoginResult{}, errors.New("JWT_SECRET is not set")
	}
	u, err := a.Repo.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	ttl := a.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	issued := now(a.Now)
	exp := issued.Add(ttl)
	claims := jwt.MapClaims{
		"user_id": u.ID,
		"email":   u.Email,
		"role":    u.Role,
		"iat":     issued.Unix(),
		"exp":     exp.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// ParseToken verifies an HS256 token and returns its identity.
func (a *AuthService) ParseToken(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(a.Now))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.Secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	id := Identity{}
	id.UserID, _ = claims["user_id"].(string)
	id.Email, _ = claims["email"].(string)
	id.Role, _ = claims["role"].(string)
	if id.UserID == "" {
		return Identity{}, ErrInvalidCredentials
	}
	return id, nil
}
