package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/store"
)

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
}

// UserStore is the slice of the repository the auth layer needs.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
}

type marketplaceClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		// Tokens signed with a random per-process secret do not survive a
		// restart. Set AUTH_SECRET for anything beyond local development.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err == nil {
			secret = hex.EncodeToString(buf)
			log.Println("[httpapi] WARNING: AUTH_SECRET not set, using a random per-process secret")
		} else {
			log.Fatalf("[httpapi] AUTH_SECRET not set and crypto/rand failed: %v", err)
		}
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	account, err := a.users.GetUser(ctx, username)
	if err != nil || account == nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !account.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, account.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &marketplaceClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{ID: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := marketplaceClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "nirmaan",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

var accountRoles = map[string]bool{
	domain.RoleCustomer: true,
	domain.RoleSupplier: true,
	domain.RoleAgent:    true,
	domain.RoleAdmin:    true,
}

// CreateAccount registers a login. Admin only; supplier and agent
// accounts are provisioned here after the underlying supplier record
// exists.
func (a *AuthManager) CreateAccount(ctx context.Context, req domain.AccountCreateRequest) (domain.UserAccount, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrValidation)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces", store.ErrValidation)
	}
	if len(strings.TrimSpace(req.Password)) < 8 {
		return domain.UserAccount{}, fmt.Errorf("%w: password must be at least 8 characters", store.ErrValidation)
	}
	if !accountRoles[req.Role] {
		return domain.UserAccount{}, fmt.Errorf("%w: unknown role %q", store.ErrValidation, req.Role)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("failed to hash password")
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      req.Role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.users.CreateUser(ctx, account); err != nil {
		return domain.UserAccount{}, err
	}
	account.Password = ""
	return account, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
