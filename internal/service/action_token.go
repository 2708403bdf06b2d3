// Package service implements the post lifecycle: generation, the approval
// gateway, the credential manager, and the publish/expiry/cleanup sweeps.
package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"postpilot/internal/models"
)

// ActionTokenCodec signs and verifies the one-click action tokens embedded
// in approval messages. A token binds one action to one approval request and
// expires with the approval window.
type ActionTokenCodec struct {
	secret []byte
}

// NewActionTokenCodec creates a codec with the given signing secret.
func NewActionTokenCodec(secret string) *ActionTokenCodec {
	return &ActionTokenCodec{secret: []byte(secret)}
}

type actionClaims struct {
	RequestID string `json:"rid"`
	Action    string `json:"act"`
	jwt.RegisteredClaims
}

// Issue signs a token authorizing one action on one approval request.
func (c *ActionTokenCodec) Issue(requestID string, action models.ApprovalAction, expiresAt time.Time) (string, error) {
	claims := actionClaims{
		RequestID: requestID,
		Action:    string(action),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign action token: %w", err)
	}
	return signed, nil
}

// Verify validates a token and returns the request id and action it carries.
func (c *ActionTokenCodec) Verify(tokenString string) (string, models.ApprovalAction, error) {
	var claims actionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", "", models.NewValidationError("invalid action token")
	}

	action := models.ApprovalAction(claims.Action)
	switch action {
	case models.ActionApprove, models.ActionReject:
	default:
		return "", "", models.NewValidationError("action token carries unsupported action")
	}
	if claims.RequestID == "" {
		return "", "", models.NewValidationError("action token missing request id")
	}
	return claims.RequestID, action, nil
}
