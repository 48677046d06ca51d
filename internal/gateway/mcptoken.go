package gateway

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errUnexpectedSigningMethod = errors.New("mcp token: unexpected signing method")
	errInvalidMCPToken         = errors.New("mcp token: invalid")
)

// mcpTokenTTL bounds how long an agent's mcp_token is valid before it must
// reconnect to obtain a new one (spec.md section 4's MCP surface).
const mcpTokenTTL = 1 * time.Hour

type mcpClaims struct {
	AgentID     string `json:"agent_id"`
	PrincipalID string `json:"principal_id"`
	jwt.RegisteredClaims
}

// issueMCPToken signs a short-lived token scoping one agent's access to the
// gateway's MCP endpoint, keyed on its registered agent_id and principal.
func issueMCPToken(secret []byte, agentID, principalID string) (string, error) {
	claims := mcpClaims{
		AgentID:     agentID,
		PrincipalID: principalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(mcpTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// verifyMCPToken validates a token issued by issueMCPToken and returns the
// agent_id/principal_id it was scoped to.
func verifyMCPToken(secret []byte, raw string) (agentID, principalID string, err error) {
	parsed, err := jwt.ParseWithClaims(raw, &mcpClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}
		return secret, nil
	})
	if err != nil {
		return "", "", err
	}
	claims, ok := parsed.Claims.(*mcpClaims)
	if !ok || !parsed.Valid {
		return "", "", errInvalidMCPToken
	}
	return claims.AgentID, claims.PrincipalID, nil
}
