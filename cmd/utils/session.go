package utils

import (
	"crypto/rand"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Iemontine/microblog/cmd/models"
	"github.com/golang-jwt/jwt/v4"
)

const SessionCookieName = "microblog_session"

// Session is the per-browser state: the signed-in account, if any, and the
// registration attempt in flight.
type Session struct {
	AccountID    uint
	Registration models.Registration
}

// Authenticated promotes the session to a signed-in account and drops the
// registration scratch state.
func (s *Session) Authenticated(accountID uint, resolved models.Registration) {
	s.AccountID = accountID
	s.Registration = resolved
}

type sessionClaims struct {
	Registration models.Registration `json:"reg"`
	jwt.RegisteredClaims
}

// SessionManager stores sessions in an HS256-signed cookie.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewSessionManager signs with secret. An empty secret is replaced by a
// random one, which invalidates sessions on restart.
func NewSessionManager(secret string, ttl time.Duration, secure bool) *SessionManager {
	key := []byte(secret)
	if len(key) == 0 {
		log.Println("SECRET_KEY not set, using a random session key")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("generate session key: %v", err))
		}
	}
	return &SessionManager{secret: key, ttl: ttl, secure: secure}
}

// Load decodes the session cookie. A missing, expired or tampered cookie
// yields an empty session.
func (m *SessionManager) Load(r *http.Request) *Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return &Session{}
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return &Session{}
	}

	s := &Session{Registration: claims.Registration}
	if claims.Subject != "" {
		id, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			return &Session{}
		}
		s.AccountID = uint(id)
	}
	return s
}

// Save signs s and writes it as the session cookie.
func (m *SessionManager) Save(w http.ResponseWriter, s *Session) error {
	now := time.Now()
	claims := sessionClaims{
		Registration: s.Registration,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	if s.AccountID != 0 {
		claims.Subject = strconv.FormatUint(uint64(s.AccountID), 10)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(m.ttl),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
