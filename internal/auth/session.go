package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSessionInvalid is returned for expired, malformed or revoked sessions.
var ErrSessionInvalid = errors.New("auth: session invalid")

// Principal is the authenticated caller derived from a platform session.
type Principal struct {
	UserID  string   `json:"user_id"`
	Email   string   `json:"email"`
	TeamIDs []string `json:"team_ids"`
}

// MemberOf reports whether the principal belongs to the given team.
func (p *Principal) MemberOf(teamID string) bool {
	for _, id := range p.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// SessionClaims is the JWT claims shape issued by the identity service.
type SessionClaims struct {
	Email   string   `json:"email"`
	TeamIDs []string `json:"team_ids"`
	jwt.RegisteredClaims
}

// SessionValidator verifies platform sessions. When a shared JWT secret is
// configured it verifies tokens locally; otherwise it calls the identity
// service over HTTP. Both paths return the same Principal shape.
type SessionValidator struct {
	jwtSecret  []byte
	baseSvcURL string
	client     *http.Client
}

// NewSessionValidator creates a validator. jwtSecret may be empty, in which
// case every validation goes to the identity service at baseSvcURL.
func NewSessionValidator(jwtSecret, baseSvcURL string) *SessionValidator {
	var secret []byte
	if jwtSecret != "" {
		secret = []byte(jwtSecret)
	}
	return &SessionValidator{
		jwtSecret:  secret,
		baseSvcURL: baseSvcURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Validate verifies a session token and returns its principal.
func (v *SessionValidator) Validate(ctx context.Context, token string) (*Principal, error) {
	if len(v.jwtSecret) > 0 {
		return v.validateLocal(token)
	}
	return v.validateRemote(ctx, token)
}

func (v *SessionValidator) validateLocal(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if !token.Valid {
		return nil, ErrSessionInvalid
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" {
		return nil, ErrSessionInvalid
	}

	return &Principal{
		UserID:  claims.Subject,
		Email:   claims.Email,
		TeamIDs: claims.TeamIDs,
	}, nil
}

func (v *SessionValidator) validateRemote(ctx context.Context, token string) (*Principal, error) {
	if v.baseSvcURL == "" {
		return nil, errors.New("auth: no JWT secret and no identity service URL configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseSvcURL+"/api/auth/session", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var p Principal
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, fmt.Errorf("decode identity response: %w", err)
		}
		if p.UserID == "" {
			return nil, ErrSessionInvalid
		}
		return &p, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrSessionInvalid
	default:
		return nil, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}
}
