package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestSessions(t *testing.T, now func() time.Time) *Sessions {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	s, err := NewSessions(SessionConfig{
		Username:     testUser,
		PasswordHash: string(hash),
		Secret:       testSecret,
		TTL:          time.Hour,
		Now:          now,
	})
	require.NoError(t, err)
	return s
}

func cookieRequest(t *testing.T, s *Sessions, user string) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, s.Issue(rec, user))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestSessions_Authenticate(t *testing.T) {
	t.Parallel()

	s := newTestSessions(t, nil)
	require.True(t, s.Authenticate(testUser, testPassword))
	require.False(t, s.Authenticate(testUser, "wrong"))
	require.False(t, s.Authenticate("someone", testPassword))
	require.False(t, s.Authenticate("", ""))
}

func TestSessions_IssueAndVerify(t *testing.T) {
	t.Parallel()

	s := newTestSessions(t, nil)
	rec := httptest.NewRecorder()
	require.NoError(t, s.Issue(rec, testUser))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, 3600, cookies[0].MaxAge)

	subject, err := s.Verify(cookieRequest(t, s, testUser))
	require.NoError(t, err)
	require.Equal(t, testUser, subject)

	_, err = s.Verify(httptest.NewRequest(http.MethodGet, "/", nil))
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSessions_RejectsExpiredToken(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := issuedAt
	s := newTestSessions(t, func() time.Time { return clock })
	req := cookieRequest(t, s, testUser)

	clock = issuedAt.Add(2 * time.Hour)
	_, err := s.Verify(req)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSessions_RejectsForeignTokens(t *testing.T) {
	t.Parallel()

	s := newTestSessions(t, nil)

	t.Run("OtherSubject", func(t *testing.T) {
		t.Parallel()
		_, err := s.Verify(cookieRequest(t, s, "intruder"))
		require.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("OtherSecret", func(t *testing.T) {
		t.Parallel()
		claims := jwt.RegisteredClaims{
			Subject:   testUser,
			Issuer:    sessionIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("ffffffffffffffffffffffffffffffff"))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
		_, err = s.Verify(req)
		require.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("UnsignedToken", func(t *testing.T) {
		t.Parallel()
		claims := jwt.RegisteredClaims{
			Subject:   testUser,
			Issuer:    sessionIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
		_, err = s.Verify(req)
		require.ErrorIs(t, err, ErrNoSession)
	})
}

func TestNewSessionsValidation(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("pw")
	require.NoError(t, err)

	testCases := []struct {
		name string
		cfg  SessionConfig
	}{
		{"no username", SessionConfig{PasswordHash: hash, Secret: testSecret, TTL: time.Hour}},
		{"plain password", SessionConfig{Username: "u", PasswordHash: "pw", Secret: testSecret, TTL: time.Hour}},
		{"short secret", SessionConfig{Username: "u", PasswordHash: hash, Secret: []byte("short"), TTL: time.Hour}},
		{"no ttl", SessionConfig{Username: "u", PasswordHash: hash, Secret: testSecret}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSessions(tc.cfg)
			require.Error(t, err)
		})
	}
}
