// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Host tokens are minted by the external account service; this package only
// needs to verify them. CreateHostJWT exists for that service and for tests.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TokenTTL is how long minted host tokens stay valid (0 => no exp claim).
	TokenTTL time.Duration
)

// ErrNotHost is returned for a valid token that does not carry the host role.
var ErrNotHost = errors.New("auth: token is not a host token")

const roleClaim = "role"

func parseTokenTTL() error {
	raw := os.Getenv("TOKEN_EXPIRE_TIME")
	if raw == "" || raw == "never" || raw == "0" {
		TokenTTL = 0
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("failed to parse TOKEN_EXPIRE_TIME: %w", err)
	}
	TokenTTL = d
	return nil
}

// Init generates a fresh ed25519 key pair at runtime.
func Init() error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return parseTokenTTL()
}

// InitFromPath reads the raw ed25519 keys shared with the account service.
// privatePath may be empty on servers that only verify.
func InitFromPath(privatePath, publicPath string) error {
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("public key %s: want %d bytes, got %d", publicPath, ed25519.PublicKeySize, len(publicKeyData))
	}
	publicKey = ed25519.PublicKey(publicKeyData)

	if privatePath != "" {
		privateKeyData, err := os.ReadFile(privatePath)
		if err != nil {
			return fmt.Errorf("failed to read private key file: %w", err)
		}
		privateKey = ed25519.PrivateKey(privateKeyData)
	}
	return parseTokenTTL()
}

// CreateHostJWT signs a token with sub = hostID and role = host.
func CreateHostJWT(hostID uuid.UUID) (string, error) {
	if privateKey == nil {
		return "", errors.New("auth: no signing key loaded")
	}
	claims := jwt.MapClaims{
		"sub":     hostID.String(),
		roleClaim: "host",
	}
	if TokenTTL > 0 {
		claims["exp"] = time.Now().Add(TokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateHost verifies a bearer token and returns the host id it names.
func AuthenticateHost(tokenString string) (uuid.UUID, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, errors.New("invalid jwt claims")
	}
	if role, _ := claims[roleClaim].(string); role != "host" {
		return uuid.Nil, ErrNotHost
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, errors.New("missing sub in jwt")
	}
	hostID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid host id in token: %w", err)
	}
	return hostID, nil
}
