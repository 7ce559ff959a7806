package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-community/internal/types"
	"golang.org/x/crypto/bcrypt"
)

var (
	defaultJwtExpiration = time.Hour * 24 * 7
	tokenCookieKey       = "token"

	errTokenExpired = errors.New("token expired")
)

type contextKey string

const userKey contextKey = "user"

// sessionClaims is the token payload. The user object carries the identity
// fields clients read without another round trip.
type sessionClaims struct {
	User types.User `json:"user"`
	jwt.StandardClaims
}

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the verified identity set by authMiddleware.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

func UserId(ctx context.Context) (int, bool) {
	user, ok := UserFromContext(ctx)
	return user.Id, ok
}

func (s *App) createJwtForSession(user types.User, exp time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		User: user,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(exp).Unix(),
		},
	})

	return token.SignedString(s.signingKey)
}

func (s *App) verifyToken(tokenString string) (types.User, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return types.User{}, errTokenExpired
		}
		return types.User{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.User{}, fmt.Errorf("invalid token")
	}
	if claims.User.Id <= 0 {
		return types.User{}, fmt.Errorf("invalid user claim")
	}

	return claims.User, nil
}

// bearerToken reads the credential from the Authorization header, falling
// back to the session cookie.
func bearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", fmt.Errorf("malformed authorization header")
		}
		return strings.TrimSpace(token), nil
	}

	cookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return "", fmt.Errorf("get cookie: %w", err)
	}
	return cookie.Value, nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
