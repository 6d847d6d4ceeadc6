package devserver

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"teamline/internal/domain"
	tlerrors "teamline/pkg/errors"
)

// Authenticator issues and parses the bearer tokens clients carry on REST
// calls and the socket handshake.
type Authenticator struct {
	secret []byte
	expiry time.Duration
	store  *Store
}

type accessClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

func NewAuthenticator(secret string, expiry time.Duration, store *Store) *Authenticator {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Authenticator{secret: []byte(secret), expiry: expiry, store: store}
}

func (a *Authenticator) Register(name, email, password string) (domain.User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, "", err
	}
	u, err := a.store.CreateUser(name, email, hash)
	if err != nil {
		return domain.User{}, "", err
	}
	token, err := a.issue(u)
	return u, token, err
}

func (a *Authenticator) Login(email, password string) (domain.User, string, error) {
	u, hash, err := a.store.UserByEmail(email)
	if err != nil {
		return domain.User{}, "", tlerrors.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return domain.User{}, "", tlerrors.ErrUnauthorized
	}
	token, err := a.issue(u)
	return u, token, err
}

func (a *Authenticator) issue(u domain.User) (string, error) {
	now := time.Now()
	claims := accessClaims{
		UserID: u.ID,
		Name:   u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and resolves the user behind it.
func (a *Authenticator) Parse(tokenString string) (domain.User, error) {
	if tokenString == "" {
		return domain.User{}, tlerrors.ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return domain.User{}, tlerrors.ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || claims.UserID == "" {
		return domain.User{}, tlerrors.ErrUnauthorized
	}
	return a.store.User(claims.UserID)
}
