package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
)

const (
	currentSessionID = "current"
	RoleOwner        = "owner"
	RoleStaff        = "staff"
)

var ErrInvalidToken = errors.New("invalid or expired session token")

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Email   string `json:"email,omitempty"`
	StoreID string `json:"store_id,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Resolver turns the persisted session into an Identity. The identity is
// resolved once per session and passed explicitly to every component.
type Resolver struct {
	secret []byte
	local  store.LocalStore
	now    func() time.Time
}

func NewResolver(secret string, local store.LocalStore) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		local:  local,
		now:    time.Now,
	}
}

func (r *Resolver) Resolve(ctx context.Context) (domain.Identity, error) {
	session, err := store.Get[domain.Session](ctx, r.local, store.Sessions, currentSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Identity{}, domain.ConfigurationError("identity.resolve", "no active session")
		}
		return domain.Identity{}, err
	}
	return r.FromToken(session.Token)
}

func (r *Resolver) FromToken(token string) (domain.Identity, error) {
	claims := &sessionClaims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(r.now))
	if err != nil || !parsed.Valid {
		return domain.Identity{}, ErrInvalidToken
	}

	storeID := strings.TrimSpace(claims.StoreID)
	if storeID == "" {
		return domain.Identity{}, domain.ConfigurationError("identity.resolve", "session has no store context")
	}
	sub, _ := claims.GetSubject()
	return domain.Identity{
		UserID:    strings.TrimSpace(sub),
		StoreID:   storeID,
		UserEmail: strings.TrimSpace(claims.Email),
		IsOwner:   claims.Role == RoleOwner,
	}, nil
}

// SaveSession validates token and makes it the current session.
func (r *Resolver) SaveSession(ctx context.Context, token string) (domain.Identity, error) {
	id, err := r.FromToken(token)
	if err != nil {
		return domain.Identity{}, err
	}
	session := domain.Session{ID: currentSessionID, Token: token, SavedAt: r.now().UTC()}
	if claims, err := r.claims(token); err == nil && claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	if err := store.Save(ctx, r.local, store.Sessions, []domain.Session{session}); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

func (r *Resolver) ClearSession(ctx context.Context) error {
	return store.Remove(ctx, r.local, store.Sessions, currentSessionID)
}

// Sign issues a session token. Used by the CLI and tests; production tokens
// come from the back office.
func (r *Resolver) Sign(id domain.Identity, ttl time.Duration) (string, error) {
	role := RoleStaff
	if id.IsOwner {
		role = RoleOwner
	}
	now := r.now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			Issuer:    "kasirsync",
		},
		Email:   id.UserEmail,
		StoreID: id.StoreID,
		Role:    role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(r.secret)
}

func (r *Resolver) claims(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, _, err := jwtlib.NewParser().ParseUnverified(token, claims)
	return claims, err
}
