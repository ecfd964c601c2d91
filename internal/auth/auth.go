// Package auth implements account registration, password verification, JWT
// cookie sessions and the write-permission predicate.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/danqzq/specmarket/internal/docstore"
	"github.com/danqzq/specmarket/internal/errs"
	"github.com/danqzq/specmarket/internal/models"
)

// SessionCookieName is the name of the session cookie
const SessionCookieName = "specmarket_session"

// SessionTTL is the lifetime of an issued session token (24 hours)
const SessionTTL = 24 * time.Hour

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims is the JWT payload of a session token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service handles accounts and session tokens over the users collection.
type Service struct {
	users   docstore.UserCollection
	signKey []byte
}

// NewService constructs the auth service.
func NewService(users docstore.UserCollection, signKey []byte) *Service {
	return &Service{users: users, signKey: signKey}
}

// Register creates an account. Surfaces errs.ErrDuplicateUsername verbatim so
// the route layer can answer with a user-facing conflict.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", errs.ErrInvalidArgument)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	doc, err := s.users.Insert(ctx, docstore.Document{
		"id":           uuid.New().String(),
		"username":     username,
		"passwordHash": hash,
		"createdAt":    now,
		"updatedAt":    now,
	})
	if err != nil {
		return nil, err
	}
	return userFromDocument(doc), nil
}

// Login verifies credentials and returns the account.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	doc, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, errs.ErrUnauthorized
	}
	user := userFromDocument(doc)
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, errs.ErrUnauthorized
	}
	if err := s.users.Touch(ctx, user.ID); err != nil {
		// Login still succeeds; the timestamp is best effort.
		return user, nil
	}
	return user, nil
}

// GetUser loads an account by id.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	doc, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return userFromDocument(doc), nil
}

// IssueToken signs a session token for user.
func (s *Service) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}

// ParseToken validates a session token and returns its claims.
func (s *Service) ParseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signKey, nil
	})
	if err != nil {
		return nil, errs.ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errs.ErrUnauthorized
	}
	return claims, nil
}

func userFromDocument(doc docstore.Document) *models.User {
	user := &models.User{}
	user.ID, _ = doc["id"].(string)
	user.Username, _ = doc["username"].(string)
	user.PasswordHash, _ = doc["passwordHash"].(string)
	if t, ok := doc["createdAt"].(time.Time); ok {
		user.CreatedAt = t.UTC()
	}
	if t, ok := doc["updatedAt"].(time.Time); ok {
		user.UpdatedAt = t.UTC()
	}
	return user
}

type contextKey struct{}

// WithUser stores the authenticated user's claims on the request context.
func WithUser(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// UserFrom returns the authenticated user's claims, if any.
func UserFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}

// Middleware resolves the session cookie into request-context claims. Missing
// or invalid cookies pass through anonymously; handlers that need an identity
// check for one themselves.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err == nil && cookie.Value != "" {
			if claims, err := s.ParseToken(cookie.Value); err == nil {
				r = r.WithContext(WithUser(r.Context(), claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// SetSessionCookie writes the session cookie for token.
func SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// CanEditSpec decides write permission for an authenticated user on a spec:
// the owner may edit, and a spec that has no owner yet may be claimed by the
// user whose username matches the recorded author. Admin-token overrides are
// applied by the route layer before consulting this predicate.
func CanEditSpec(claims *Claims, spec *models.Spec) bool {
	if claims == nil || spec == nil {
		return false
	}
	if spec.OwnerID != "" {
		return spec.OwnerID == claims.Subject
	}
	author := strings.ToLower(strings.TrimPrefix(spec.Author, "@"))
	return author != "" && author == strings.ToLower(claims.Username)
}
