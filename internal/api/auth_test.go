package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KrishnaKumarTiwari/omni-sql/internal/tenant"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

func TestDevValidatorKnownTokens(t *testing.T) {
	v := NewDevValidator(observability.NewNoopLogger())
	cfg := tenant.DemoConfig("acme")

	sc, err := v.Validate("token_dev", cfg)
	require.NoError(t, err)
	assert.Equal(t, "u1", sc.UserID)
	assert.Equal(t, "mobile", sc.TeamID)
	assert.True(t, sc.PIIAccess)
	assert.Equal(t, "acme", sc.TenantID)
	assert.Same(t, cfg, sc.TenantCfg)

	sc, err = v.Validate("token_qa", cfg)
	require.NoError(t, err)
	assert.Equal(t, "qa", sc.Role)
	assert.False(t, sc.PIIAccess)

	sc, err = v.Validate("token_web_dev", cfg)
	require.NoError(t, err)
	assert.Equal(t, "web", sc.TeamID)
}

func TestDevValidatorRejectsUnknownToken(t *testing.T) {
	v := NewDevValidator(observability.NewNoopLogger())
	_, err := v.Validate("token_forged", tenant.DemoConfig("acme"))
	require.Error(t, err)
	assert.Equal(t, qerrors.KindAuthInvalid, qerrors.KindOf(err))
}

func signToken(t *testing.T, secret string, claims identityClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTValidatorAcceptsSignedToken(t *testing.T) {
	v := NewJWTValidator("shhh", "omnisql-dev")
	cfg := tenant.DemoConfig("acme")

	token := signToken(t, "shhh", identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u42",
			Audience:  jwt.ClaimStrings{"omnisql-dev"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:     "dev@company.com",
		Role:      "developer",
		TeamID:    "web",
		PIIAccess: true,
	})

	sc, err := v.Validate(token, cfg)
	require.NoError(t, err)
	assert.Equal(t, "u42", sc.UserID)
	assert.Equal(t, "web", sc.TeamID)
	assert.True(t, sc.PIIAccess)
	assert.Equal(t, "acme", sc.TenantID)
}

func TestJWTValidatorRejectsWrongSecret(t *testing.T) {
	v := NewJWTValidator("right", "omnisql-dev")
	token := signToken(t, "wrong", identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u42",
			Audience:  jwt.ClaimStrings{"omnisql-dev"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := v.Validate(token, tenant.DemoConfig("acme"))
	require.Error(t, err)
	assert.Equal(t, qerrors.KindAuthInvalid, qerrors.KindOf(err))
}

func TestJWTValidatorRejectsWrongAudience(t *testing.T) {
	v := NewJWTValidator("shhh", "omnisql-prod")
	token := signToken(t, "shhh", identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u42",
			Audience:  jwt.ClaimStrings{"other-service"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := v.Validate(token, tenant.DemoConfig("acme"))
	require.Error(t, err)
}

func TestJWTValidatorRejectsExpiredToken(t *testing.T) {
	v := NewJWTValidator("shhh", "omnisql-dev")
	token := signToken(t, "shhh", identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u42",
			Audience:  jwt.ClaimStrings{"omnisql-dev"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.Validate(token, tenant.DemoConfig("acme"))
	require.Error(t, err)
}

func TestJWTValidatorDefaultsRole(t *testing.T) {
	v := NewJWTValidator("shhh", "")
	token := signToken(t, "shhh", identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	sc, err := v.Validate(token, tenant.DemoConfig("acme"))
	require.NoError(t, err)
	assert.Equal(t, "viewer", sc.Role)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("abc"))
	assert.Equal(t, "", bearerToken(""))
}
