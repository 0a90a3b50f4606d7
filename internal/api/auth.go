package api

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultUser is the account used when no identity header is present.
// Deployments are expected to sit behind an authenticating proxy that sets
// X-User; single user installs fall through to this stub.
const DefaultUser = "testuser@gmail.com"

func RequestUser(r *http.Request) string {
	if user := r.Header.Get("X-User"); user != "" {
		return user
	}
	return DefaultUser
}

// socketAuthToken mints a short-lived token the front end presents when
// opening its notification websocket connection.
func socketAuthToken(secret []byte, username string) (string, error) {
	claims := jwt.MapClaims{
		"username": username,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
