package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Session is the identity carried by a validated token.
type Session struct {
	UserID int64
	Email  string
}

// Manager handles password hashing and session token issuance.
type Manager struct {
	secret []byte
}

// NewManager creates a Manager with the provided secret.
func NewManager(secret string) *Manager {
	if secret == "" {
		panic("auth manager requires non-empty secret")
	}
	return &Manager{secret: []byte(secret)}
}

// HashPassword returns the bcrypt hash for storage alongside the user record.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword reports whether the plaintext matches the stored hash.
func VerifyPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

// IssueToken issues a signed session token for the user.
func (m *Manager) IssueToken(userID int64, email string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	expires := time.Now().Add(ttl).Unix()
	payload := fmt.Sprintf("%d|%s|%d", userID, email, expires)
	sig := m.sign([]byte(payload))
	token := fmt.Sprintf("%s.%s", base64.RawURLEncoding.EncodeToString([]byte(payload)), base64.RawURLEncoding.EncodeToString(sig))
	return token, nil
}

// ValidateToken validates and returns the embedded session identity.
func (m *Manager) ValidateToken(token string) (Session, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Session{}, errors.New("invalid token format")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Session{}, errors.New("invalid token payload")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Session{}, errors.New("invalid token signature")
	}
	if !hmac.Equal(sigBytes, m.sign(payloadBytes)) {
		return Session{}, errors.New("signature mismatch")
	}
	payload := string(payloadBytes)
	first := strings.Index(payload, "|")
	last := strings.LastIndex(payload, "|")
	if first == -1 || first == last {
		return Session{}, errors.New("invalid payload")
	}
	userID, err := strconv.ParseInt(payload[:first], 10, 64)
	if err != nil {
		return Session{}, errors.New("invalid user id")
	}
	expiry, err := strconv.ParseInt(payload[last+1:], 10, 64)
	if err != nil {
		return Session{}, errors.New("invalid expiry")
	}
	if time.Now().Unix() > expiry {
		return Session{}, errors.New("token expired")
	}
	return Session{UserID: userID, Email: payload[first+1 : last]}, nil
}

func (m *Manager) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write(payload)
	return h.Sum(nil)
}
