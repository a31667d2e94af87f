package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/uberoi/giftledger/internal/models"
)

// ErrDuplicatePhone is returned when registering an already-known phone number.
var ErrDuplicatePhone = errors.New("phone number already registered")

// ErrInvalidCredentials is returned on a failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

type User struct {
	ID                uuid.UUID
	Phone             string
	DisplayName       string
	DefaultTargetType *string
}

type Service interface {
	Register(ctx context.Context, phone, password, displayName string) (*User, error)
	Login(ctx context.Context, phone, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	SetDefaultTarget(ctx context.Context, userID uuid.UUID, targetType string) error
}

type service struct {
	repo   *Repository
	secret []byte
}

func NewService(repo *Repository, secret string) *service {
	return &service{repo: repo, secret: []byte(secret)}
}

var _ Service = (*service)(nil)

func (s *service) Register(ctx context.Context, phone, password, displayName string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.Create(ctx, phone, string(hash), displayName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicatePhone
		}
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, phone, password string) (string, error) {
	u, hash, err := s.repo.GetByPhone(ctx, phone)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u.ID)
}

func (s *service) issueToken(userID uuid.UUID) (string, error) {
	c := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	return uuid.Parse(c.Subject)
}

func (s *service) SetDefaultTarget(ctx context.Context, userID uuid.UUID, targetType string) error {
	if !models.ValidTarget(targetType) {
		return errors.New("invalid target type")
	}
	return s.repo.SetDefaultTarget(ctx, userID, targetType)
}
