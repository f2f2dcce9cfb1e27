package alloc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/herdctl/herd/pkg/types"
)

const (
	passwordLength  = 32
	jwtSecretBytes  = 32 // 64 hex chars
	tokenValidity   = 365 * 24 * time.Hour
	tokenIssuer     = "supabase"
	defaultDashUser = "supabase"
)

const (
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*-_=+"
)

// GenerateCredentials produces a full, instance-unique credential set:
// database password, JWT signing secret, the two derived API tokens
// and the dashboard login.
func GenerateCredentials() (types.Credentials, error) {
	password, err := GeneratePassword(passwordLength)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("failed to generate postgres password: %w", err)
	}

	secretBytes := make([]byte, jwtSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return types.Credentials{}, fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	jwtSecret := hex.EncodeToString(secretBytes)

	anonKey, err := SignAPIToken(jwtSecret, "anon", time.Now())
	if err != nil {
		return types.Credentials{}, err
	}
	serviceKey, err := SignAPIToken(jwtSecret, "service_role", time.Now())
	if err != nil {
		return types.Credentials{}, err
	}

	dashPassword, err := GeneratePassword(20)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("failed to generate dashboard password: %w", err)
	}

	return types.Credentials{
		PostgresPassword:  password,
		JWTSecret:         jwtSecret,
		AnonKey:           anonKey,
		ServiceRoleKey:    serviceKey,
		DashboardUsername: defaultDashUser,
		DashboardPassword: dashPassword,
	}, nil
}

// GeneratePassword returns a random printable password of the given
// length containing at least one upper, lower, digit and symbol
// character.
func GeneratePassword(length int) (string, error) {
	if length < 4 {
		return "", fmt.Errorf("password length must be at least 4, got %d", length)
	}

	all := upperChars + lowerChars + digitChars + symbolChars
	buf := make([]byte, length)

	// One guaranteed character per class, the rest drawn from the
	// full alphabet, then shuffled.
	classes := []string{upperChars, lowerChars, digitChars, symbolChars}
	for i, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	for i := len(classes); i < length; i++ {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}

	for i := len(buf) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

// SignAPIToken mints one of the two JWT-shaped API tokens by signing a
// minimal claim set with the instance signing secret.
func SignAPIToken(jwtSecret, role string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":  tokenIssuer,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenValidity).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", role, err)
	}
	return signed, nil
}

// VerifyAPIToken parses a token with the given secret and returns its
// role claim. Used by the auth deep-probe for the JWT round-trip.
func VerifyAPIToken(jwtSecret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("token verification failed: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("token claims invalid")
	}
	role, _ := claims["role"].(string)
	return role, nil
}

func randomChar(alphabet string) (byte, error) {
	i, err := randomInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random int: %w", err)
	}
	return int(n.Int64()), nil
}
