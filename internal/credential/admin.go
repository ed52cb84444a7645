package credential

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// AdminClaims is the minimal claim set a signed admin token carries
// alongside the opaque-key path, grounded on the reference JWTManager's
// RegisteredClaims-embedding shape (here reduced to the one extra claim
// privileged endpoints need).
type AdminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// ValidateAdminToken parses tokenString as an HS256 JWT signed with secret,
// returning true only if the signature verifies, the token has not expired,
// and its scope claim is "admin". An empty secret always rejects, so admin
// endpoints stay closed until an admin token/secret is configured.
func ValidateAdminToken(tokenString, secret string) bool {
	if secret == "" || tokenString == "" {
		return false
	}

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("credential: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return false
	}
	return claims.Scope == "admin"
}
