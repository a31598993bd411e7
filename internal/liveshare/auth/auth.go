// Package auth implements session token verification and the
// AuthorizationOracle consumed interface (spec.md §6), grounded on
// MarcoPoloResearchLab-gravity's internal/auth/token_issuer.go JWT
// issuance/validation pattern.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingSigningSecret = errors.New("liveshare auth: signing secret must be provided")
	ErrMissingSubjectClaim  = errors.New("liveshare auth: subject claim must be provided")
)

// Claims is the session-token payload: the authenticated user plus the
// diagram they are scoped to.
type Claims struct {
	jwt.RegisteredClaims
	DiagramID uuid.UUID `json:"diagram_id"`
	Username  string    `json:"username"`
}

// TokenConfig configures the TokenVerifier.
type TokenConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// TokenVerifier validates the session JWT presented in the WebSocket Auth
// message (spec.md §6 "First message from client must be Auth{token,
// room_id}").
type TokenVerifier struct {
	config TokenConfig
	clock  func() time.Time
}

// NewTokenVerifier constructs a TokenVerifier.
func NewTokenVerifier(cfg TokenConfig) *TokenVerifier {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenVerifier{config: cfg, clock: clock}
}

// Verify parses and validates a session token, returning its claims.
func (v *TokenVerifier) Verify(token string) (Claims, error) {
	if len(v.config.SigningSecret) == 0 {
		return Claims{}, ErrMissingSigningSecret
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return v.config.SigningSecret, nil
		},
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Subject == "" {
		return Claims{}, ErrMissingSubjectClaim
	}
	return *claims, nil
}

// Oracle is the AuthorizationOracle consumed interface (spec.md §6):
// can_create/can_join decisions delegate to the host application's
// permission model (diagram ownership/sharing), which lives outside this
// core.
type Oracle interface {
	CanCreate(userID uuid.UUID, diagramID uuid.UUID) (bool, error)
	CanJoin(userID uuid.UUID, diagramID uuid.UUID) (bool, error)
}

// StaticOracle is an in-memory Oracle backed by fixed ownership and share
// maps, suitable for single-tenant deployments or tests. Only the owner
// may create; the owner or a user marked in Shared may join; diagrams
// absent from both maps deny everyone.
type StaticOracle struct {
	Owners map[uuid.UUID]uuid.UUID // diagram_id -> owner user_id
	Shared map[uuid.UUID]map[uuid.UUID]bool // diagram_id -> user_id -> can view/edit
}

// NewStaticOracle builds an empty StaticOracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		Owners: make(map[uuid.UUID]uuid.UUID),
		Shared: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

func (o *StaticOracle) CanCreate(userID, diagramID uuid.UUID) (bool, error) {
	owner, ok := o.Owners[diagramID]
	if !ok {
		return false, nil
	}
	return owner == userID, nil
}

func (o *StaticOracle) CanJoin(userID, diagramID uuid.UUID) (bool, error) {
	if owner, ok := o.Owners[diagramID]; ok && owner == userID {
		return true, nil
	}
	if shared, ok := o.Shared[diagramID]; ok {
		return shared[userID], nil
	}
	return false, nil
}
