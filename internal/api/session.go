package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionCookieName = "extractor_session"
	sessionIssuer     = "question-extractor"
	minSecretLen      = 32
)

// ErrNoSession is returned when the request carries no valid session.
var ErrNoSession = errors.New("no valid session")

// SessionConfig configures the login gate.
type SessionConfig struct {
	Username string
	// PasswordHash is a bcrypt hash of the operator password.
	PasswordHash string
	Secret       []byte
	TTL          time.Duration
	Secure       bool
	Now          func() time.Time
}

// Sessions authenticates the operator and issues signed session cookies.
type Sessions struct {
	username string
	hash     []byte
	secret   []byte
	ttl      time.Duration
	secure   bool
	now      func() time.Time
}

// NewSessions validates cfg and builds the gate.
func NewSessions(cfg SessionConfig) (*Sessions, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
		return nil, fmt.Errorf("password hash: %w", err)
	}
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be > 0")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Sessions{
		username: cfg.Username,
		hash:     []byte(cfg.PasswordHash),
		secret:   append([]byte(nil), cfg.Secret...),
		ttl:      cfg.TTL,
		secure:   cfg.Secure,
		now:      now,
	}, nil
}

// HashPassword returns a bcrypt hash suitable for SessionConfig.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticate checks operator credentials. The password hash is always
// compared so a wrong username costs the same as a wrong password.
func (s *Sessions) Authenticate(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(s.hash, []byte(password))
	return userOK && passErr == nil
}

// Issue signs a session token for username and sets it as a cookie.
func (s *Sessions) Issue(w http.ResponseWriter, username string) error {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    sessionIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
	return nil
}

// Verify returns the session subject carried by r.
func (s *Sessions) Verify(r *http.Request) (string, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNoSession
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Subject), []byte(s.username)) != 1 {
		return "", ErrNoSession
	}
	return claims.Subject, nil
}

// Clear expires the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
}
