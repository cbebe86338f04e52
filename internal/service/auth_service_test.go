package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctorquiz/internal/model"
)

func TestAuthService_RegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.authSvc.Register(ctx, model.TeacherRegisterRequest{
		Name:     " Bu Sari ",
		Email:    "Sari@School.id",
		Password: "rahasia123",
	})
	require.NoError(t, err)
	assert.Equal(t, "sari@school.id", reg.Teacher.Email)
	assert.Equal(t, "Bu Sari", reg.Teacher.Name)
	assert.NotEmpty(t, reg.Token)

	claims, err := f.authSvc.ValidateToken(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.Teacher.ID, claims.UserID)
	assert.Equal(t, TokenTypeTeacher, claims.TokenType)

	login, err := f.authSvc.Login(ctx, model.TeacherLoginRequest{Email: "SARI@school.id", Password: "rahasia123"})
	require.NoError(t, err)
	assert.Equal(t, reg.Teacher.ID, login.Teacher.ID)

	me, err := f.authSvc.Me(ctx, claims.UserID)
	require.NoError(t, err)
	assert.Equal(t, "sari@school.id", me.Email)
}

func TestAuthService_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.authSvc.Register(ctx, model.TeacherRegisterRequest{Name: "A", Email: "a@school.id", Password: "secret1"})
	require.NoError(t, err)

	_, err = f.authSvc.Register(ctx, model.TeacherRegisterRequest{Name: "B", Email: "A@school.id", Password: "secret2"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.authSvc.Login(ctx, model.TeacherLoginRequest{Email: "a@school.id", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.authSvc.Login(ctx, model.TeacherLoginRequest{Email: "nobody@school.id", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.authSvc.Me(ctx, 999)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_ValidateTokenRejects(t *testing.T) {
	f := newFixture(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		TokenType:        TokenTypeTeacher,
		UserID:           1,
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = f.authSvc.ValidateToken(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{TokenType: TokenTypeTeacher, UserID: 1})
	signed, err = forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = f.authSvc.ValidateToken(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	_, err = f.authSvc.ValidateToken("not.a.token")
	assert.Error(t, err)
}
