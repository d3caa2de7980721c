package security

import (
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数（仅用于本地调试签发）。
type Options struct {
	Secret []byte        // HMAC 密钥
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Generate mints a token for a local backend. The real backend issues its own.
func Generate(opts Options, userID, username string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if username != "" {
		claims["name"] = username
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// TokenInfo is what the client can learn from a bearer token without the key.
type TokenInfo struct {
	Subject  string
	ExpireAt time.Time // zero when the token carries no exp
	IsJWT    bool
}

// Inspect parses token without verifying its signature. Opaque tokens are not an
// error: they come back with IsJWT=false.
func Inspect(token string) TokenInfo {
	claims := jwtlib.MapClaims{}
	_, _, err := jwtlib.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return TokenInfo{}
	}
	info := TokenInfo{IsJWT: true}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpireAt = exp.Time
	}
	return info
}

// CheckExpiry rejects a JWT whose exp is already past at now. The server still has
// the final word; this only avoids a dial that cannot succeed.
func CheckExpiry(token string, now time.Time) error {
	info := Inspect(token)
	if !info.IsJWT || info.ExpireAt.IsZero() {
		return nil
	}
	if !now.Before(info.ExpireAt) {
		return fmt.Errorf("token expired at %s", info.ExpireAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
