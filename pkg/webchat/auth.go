package webchat

import (
	"net/http"
	"time"

	"localagent/pkg/logger"
	"localagent/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v5"
)

const sessionCookieName = "localagent_session"

type sessionClaims struct {
	jwt.RegisteredClaims
}

// sessionMiddleware issues and verifies a signed session cookie identifying
// the browser tab talking to this gateway, so a page reload doesn't need to
// re-authenticate. Disabled (a no-op passthrough) when no signing key is
// configured, matching the historical single-anonymous-session behavior.
func sessionMiddleware(signingKey string) echo.MiddlewareFunc {
	if signingKey == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return next
		}
	}

	key := []byte(signingKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			sessionID := readSessionID(c, key)
			if sessionID == "" {
				sessionID = utils.RandHex(16)
				token, err := issueSessionToken(key, sessionID)
				if err != nil {
					logger.Error("webchat: failed to sign session token: %v", err)
				} else {
					c.SetCookie(&http.Cookie{
						Name:     sessionCookieName,
						Value:    token,
						Path:     "/",
						HttpOnly: true,
						SameSite: http.SameSiteLaxMode,
						Expires:  time.Now().Add(30 * 24 * time.Hour),
					})
				}
			}
			c.Set("session_id", sessionID)
			return next(c)
		}
	}
}

func issueSessionToken(key []byte, sessionID string) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * 24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

func readSessionID(c *echo.Context, key []byte) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	return claims.Subject
}
