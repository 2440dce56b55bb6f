package identity

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestResolveWithoutSessionIsConfigurationError(t *testing.T) {
	r := NewResolver(testSecret, memory.New())

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestSaveSessionThenResolve(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(testSecret, memory.New())
	want := domain.Identity{UserID: "u-1", StoreID: "store-a", UserEmail: "kasir@toko.id", IsOwner: true}

	token, err := r.Sign(want, time.Hour)
	require.NoError(t, err)
	_, err = r.SaveSession(ctx, token)
	require.NoError(t, err)

	got, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, r.ClearSession(ctx))
	_, err = r.Resolve(ctx)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestTokenWithoutStoreIsConfigurationError(t *testing.T) {
	r := NewResolver(testSecret, memory.New())
	token, err := r.Sign(domain.Identity{UserID: "u-1"}, time.Hour)
	require.NoError(t, err)

	_, err = r.FromToken(token)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestFromTokenRejectsTamperedAndExpired(t *testing.T) {
	r := NewResolver(testSecret, memory.New())
	other := NewResolver("another-secret-another-secret-00", memory.New())

	forged, err := other.Sign(domain.Identity{UserID: "u-1", StoreID: "s"}, time.Hour)
	require.NoError(t, err)
	_, err = r.FromToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := r.Sign(domain.Identity{UserID: "u-1", StoreID: "s"}, -time.Minute)
	require.NoError(t, err)
	_, err = r.FromToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{"sub": "u-1", "store_id": "s"})
	raw, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = r.FromToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type entity struct {
	creator string
	store   string
	synced  bool
}

func (e entity) CreatorID() string     { return e.creator }
func (e entity) OwningStoreID() string { return e.store }
func (e entity) IsSynced() bool        { return e.synced }

func TestComputePermission(t *testing.T) {
	owner := domain.Identity{UserID: "boss", StoreID: "s", IsOwner: true}
	staff := domain.Identity{UserID: "kasir", StoreID: "s"}

	tests := []struct {
		name   string
		entity entity
		id     domain.Identity
		want   domain.Permission
	}{
		{"owner any entity", entity{"kasir", "s", true}, owner, domain.Permission{CanView: true, CanEdit: true, CanDelete: true}},
		{"owner other store", entity{"kasir", "t", false}, owner, domain.Permission{}},
		{"staff own unsynced", entity{"kasir", "s", false}, staff, domain.Permission{CanView: true, CanEdit: true, CanDelete: true}},
		{"staff own synced", entity{"kasir", "s", true}, staff, domain.Permission{CanView: true}},
		{"staff other creator", entity{"boss", "s", false}, staff, domain.Permission{}},
		{"anonymous staff", entity{"", "s", false}, domain.Identity{StoreID: "s"}, domain.Permission{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputePermission(tt.entity, tt.id))
		})
	}
}
