// Package api is the HTTP surface of the gateway: authentication,
// request handling, health, and metrics.
package api

import (
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

// TokenValidator turns a bearer token into a request-scoped security
// context bound to the resolved tenant.
type TokenValidator interface {
	Validate(token string, tenantCfg *models.TenantConfig) (*models.SecurityContext, error)
}

// devClaims is the fixed development token map. It exists so the demo
// console and integration tests run without an identity provider.
var devClaims = map[string]models.SecurityContext{
	"token_dev": {
		UserID:    "u1",
		Email:     "dev@company.com",
		Role:      "developer",
		TeamID:    "mobile",
		PIIAccess: true,
	},
	"token_qa": {
		UserID:    "u2",
		Email:     "qa@company.com",
		Role:      "qa",
		TeamID:    "mobile",
		PIIAccess: false,
	},
	"token_web_dev": {
		UserID:    "u3",
		Email:     "webdev@company.com",
		Role:      "developer",
		TeamID:    "web",
		PIIAccess: true,
	},
}

// DevValidator resolves tokens against the static development map.
type DevValidator struct {
	logger observability.Logger
}

// NewDevValidator builds the development validator. It logs a loud
// warning because the token map must never reach production.
func NewDevValidator(logger observability.Logger) *DevValidator {
	if logger == nil {
		logger = observability.NewLogger("api.auth")
	}
	logger.Warn("auth running in dev mode with the static token map, do not use in production", nil)
	return &DevValidator{logger: logger}
}

func (v *DevValidator) Validate(token string, tenantCfg *models.TenantConfig) (*models.SecurityContext, error) {
	claims, ok := devClaims[token]
	if !ok {
		return nil, qerrors.New(qerrors.KindAuthInvalid, "invalid token")
	}
	sc := claims
	sc.TenantID = tenantCfg.TenantID
	sc.TenantCfg = tenantCfg
	return &sc, nil
}

// JWTValidator verifies HMAC-signed JWTs carrying the user identity
// claims. Used when JWT_SECRET is configured.
type JWTValidator struct {
	secret   []byte
	audience string
}

// NewJWTValidator builds a validator over a shared signing secret.
func NewJWTValidator(secret, audience string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), audience: audience}
}

type identityClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	TeamID    string `json:"team_id"`
	PIIAccess bool   `json:"pii_access"`
}

func (v *JWTValidator) Validate(token string, tenantCfg *models.TenantConfig) (*models.SecurityContext, error) {
	var claims identityClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, qerrors.Newf(qerrors.KindAuthInvalid, "unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, qerrors.Wrap(qerrors.KindAuthInvalid, err, "token validation failed")
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, qerrors.New(qerrors.KindAuthInvalid, "token audience mismatch")
	}

	role := claims.Role
	if role == "" {
		role = "viewer"
	}
	return &models.SecurityContext{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      role,
		TeamID:    claims.TeamID,
		PIIAccess: claims.PIIAccess,
		TenantID:  tenantCfg.TenantID,
		TenantCfg: tenantCfg,
	}, nil
}

// bearerToken strips the Bearer prefix from an Authorization header.
func bearerToken(header string) string {
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
