package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid account or password")
	ErrInvalidToken       = errors.New("invalid token")
)

var accountPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{1,49}$`)

// CredentialStore looks up stored password hashes
type CredentialStore interface {
	GetPasswordHash(ctx context.Context, account string) (string, error)
}

// Claims carried by session tokens
type Claims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// AuthService hashes passwords and issues and verifies session tokens
type AuthService struct {
	store  CredentialStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(store CredentialStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// ValidateAccount checks that an account name is usable as an identifier
func ValidateAccount(account string) error {
	if !accountPattern.MatchString(account) {
		return fmt.Errorf("account must be 2-50 lowercase letters, digits, '_', '.' or '-'")
	}
	return nil
}

// HashPassword validates and hashes a password for storage
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password too short (min 8 characters)")
	}
	// bcrypt ignores input beyond 72 bytes
	if len(password) > 72 {
		return "", fmt.Errorf("password too long (max 72 bytes)")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, account, password string) (string, error) {
	hash, err := s.store.GetPasswordHash(ctx, account)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.IssueToken(account)
}

// IssueToken signs a session token for account
func (s *AuthService) IssueToken(account string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Account: account,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return token.SignedString(s.secret)
}

// GetAccountFromToken verifies a token and returns the account it names
func (s *AuthService) GetAccountFromToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Account == "" {
		return "", ErrInvalidToken
	}
	return claims.Account, nil
}

// MemoryStore is a CredentialStore kept in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	hashes map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hashes: make(map[string]string)}
}

func (m *MemoryStore) SetPasswordHash(account, hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[account] = hash
}

func (m *MemoryStore) GetPasswordHash(_ context.Context, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[account]
	if !ok {
		return "", fmt.Errorf("no credentials for %s", account)
	}
	return h, nil
}
