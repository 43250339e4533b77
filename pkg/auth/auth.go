package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenManager issues and validates actor API tokens. Tokens are
// handed out once in plain text; only bcrypt hashes are kept.
type TokenManager struct {
	tokens map[string]*TokenInfo // actor ID -> token info
	mu     sync.RWMutex
}

// TokenInfo contains token metadata
type TokenInfo struct {
	Hash      string
	ActorID   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*TokenInfo),
	}
}

// GenerateToken generates a new API token for an actor
func (tm *TokenManager) GenerateToken(actorID string, duration time.Duration) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.tokens[actorID] = &TokenInfo{
		Hash:      string(hash),
		ActorID:   actorID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}
	return token, nil
}

// ValidateToken validates an actor's API token
func (tm *TokenManager) ValidateToken(actorID, token string) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	info, ok := tm.tokens[actorID]
	if !ok {
		return ErrInvalidToken
	}
	if time.Now().After(info.ExpiresAt) {
		return ErrTokenExpired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(info.Hash), []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// RevokeToken revokes an actor's token
func (tm *TokenManager) RevokeToken(actorID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.tokens, actorID)
}

// CleanupExpiredTokens removes expired tokens
func (tm *TokenManager) CleanupExpiredTokens() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for actorID, info := range tm.tokens {
		if now.After(info.ExpiresAt) {
			delete(tm.tokens, actorID)
		}
	}
}

// StaticTokenMiddleware guards the emulator API with a single shared token.
// With an empty token the middleware is a pass-through, which is the
// default for local development.
func StaticTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
