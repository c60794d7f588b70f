package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GetJwtSecretString returns the resolved JWT secret as a string using unified logic.
// Resolution order: JWT_SECRET -> REEL_JWT_SECRET -> dev default (non-production only).
func GetJwtSecretString() (string, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("REEL_JWT_SECRET"))
	}
	if secret == "" {
		// Safe dev default unless strict mode demands an env secret.
		strict := strings.EqualFold(strings.TrimSpace(os.Getenv("REEL_STRICT_JWT")), "1") ||
			strings.EqualFold(strings.TrimSpace(os.Getenv("REEL_STRICT_JWT")), "true")
		if !strict {
			secret = "dev_jwt_secret_123"
		}
	}
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET environment variable not set")
	}
	return secret, nil
}

// GetJwtSecretBytes returns the resolved JWT secret in []byte form.
func GetJwtSecretBytes() ([]byte, error) {
	s, err := GetJwtSecretString()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// GenerateJWT creates a new session JWT for a given user ID
func GenerateJWT(userID uuid.UUID) (string, error) {
	jwtSecret, err := GetJwtSecretBytes()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"exp":     time.Now().Add(time.Hour * 72).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret)

	return tokenString, err
}

// GenerateInviteToken creates a signed workspace-invite token. The invite
// row is the source of truth; the token only proves possession of the link.
func GenerateInviteToken(inviteID, workspaceID uuid.UUID, email string, expiresAt time.Time) (string, error) {
	jwtSecret, err := GetJwtSecretBytes()
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{
		"invite_id":    inviteID.String(),
		"workspace_id": workspaceID.String(),
		"email":        email,
		"exp":          expiresAt.Unix(),
		"iat":          time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseInviteToken validates an invite token and returns its claims.
func ParseInviteToken(tokenString string) (jwt.MapClaims, error) {
	jwtSecret, err := GetJwtSecretBytes()
	if err != nil {
		return nil, err
	}
	tok, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid invite token")
	}
	return claims, nil
}
