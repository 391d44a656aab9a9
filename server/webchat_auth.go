package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v4"
)

const webchatTokenTTL = 24 * time.Hour

// webchatClaims binds a socket token to one recipient id.
type webchatClaims struct {
	jwt.RegisteredClaims
}

// issueWebchatSession mints a fresh recipient id for a browser client and,
// when a JWT secret is configured, a signed token the /ws upgrade will
// require. Without a secret the endpoint still hands out ids so the widget
// has a stable session key.
func (s *Server) issueWebchatSession(c echo.Context) error {
	recipient := "web-" + shortuuid.New()

	resp := map[string]string{"recipient": recipient}
	if s.Profile.JWTSecret != "" {
		now := time.Now()
		claims := &webchatClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   recipient,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(webchatTokenTTL)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Profile.JWTSecret))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to sign token")
		}
		resp["token"] = token
	}
	return c.JSON(http.StatusOK, resp)
}

// verifyWebchatToken returns the recipient id the token was issued for.
func (s *Server) verifyWebchatToken(raw string) (string, error) {
	claims := &webchatClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.Profile.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
