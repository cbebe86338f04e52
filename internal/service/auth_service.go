package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/proctorquiz/internal/config"
	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/repository"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

// TokenType distinguishes token audiences. Students never authenticate, so
// only teacher tokens are issued.
type TokenType string

const TokenTypeTeacher TokenType = "teacher"

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
	Name      string    `json:"name,omitempty"`
}

// AuthService handles teacher registration, login and JWTs.
type AuthService struct {
	cfg      *config.Config
	teachers repository.TeacherStore
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, teachers repository.TeacherStore) *AuthService {
	return &AuthService{cfg: cfg, teachers: teachers}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Register creates a teacher account and signs a token for it.
func (s *AuthService) Register(ctx context.Context, req model.TeacherRegisterRequest) (*model.TeacherLoginResponse, error) {
	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	t := &model.Teacher{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	}
	if err := s.teachers.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create teacher: %w", err)
	}

	return s.issue(t)
}

// Login verifies credentials and signs a token.
func (s *AuthService) Login(ctx context.Context, req model.TeacherLoginRequest) (*model.TeacherLoginResponse, error) {
	t, err := s.teachers.GetByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get teacher: %w", err)
	}
	if err := s.CheckPassword(t.PasswordHash, req.Password); err != nil {
		return nil, err
	}
	return s.issue(t)
}

// Me returns the teacher behind a set of claims.
func (s *AuthService) Me(ctx context.Context, teacherID int) (*model.Teacher, error) {
	t, err := s.teachers.GetByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return t, nil
}

func (s *AuthService) issue(t *model.Teacher) (*model.TeacherLoginResponse, error) {
	token, err := s.GenerateTeacherToken(t.ID, t.Name)
	if err != nil {
		return nil, err
	}
	return &model.TeacherLoginResponse{Token: token, Teacher: *t}, nil
}

// GenerateTeacherToken creates a signed HS256 JWT for a teacher.
func (s *AuthService) GenerateTeacherToken(teacherID int, name string) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(teacherID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: TokenTypeTeacher,
		UserID:    teacherID,
		Name:      name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
