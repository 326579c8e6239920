package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims is the session carried in the cookie. It is a snapshot taken at
// login; is_admin changes apply on the next login.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.StandardClaims
}

type SessionConfig struct {
	Secret      string
	CookieName  string
	Secure      bool
	TTL         time.Duration
	RememberTTL time.Duration
}

type Sessions struct {
	secret      []byte
	cookieName  string
	secure      bool
	ttl         time.Duration
	rememberTTL time.Duration
	now         func() time.Time
}

func NewSessions(cfg SessionConfig) *Sessions {
	s := &Sessions{
		secret:      []byte(cfg.Secret),
		cookieName:  cfg.CookieName,
		secure:      cfg.Secure,
		ttl:         cfg.TTL,
		rememberTTL: cfg.RememberTTL,
		now:         time.Now,
	}
	if s.cookieName == "" {
		s.cookieName = "session"
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.rememberTTL <= 0 {
		s.rememberTTL = 30 * 24 * time.Hour
	}
	return s
}

func (s *Sessions) CookieName() string { return s.cookieName }
func (s *Sessions) Secure() bool       { return s.secure }

// TTL is the session lifetime, extended when the user asked to be remembered.
func (s *Sessions) TTL(remember bool) time.Duration {
	if remember {
		return s.rememberTTL
	}
	return s.ttl
}

func (s *Sessions) GenerateJWT(userID int64, username string, isAdmin bool, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		IsAdmin:  isAdmin,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Sessions) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
