package identity

import "github.com/prinzana/sellyticsOffline-sub004/internal/domain"

type Entity interface {
	CreatorID() string
	OwningStoreID() string
	IsSynced() bool
}

// ComputePermission is the only place access rules live. Owners may do
// anything inside their store. Everyone else sees only what they created and
// loses edit and delete once it has synced.
func ComputePermission(entity Entity, id domain.Identity) domain.Permission {
	if id.StoreID == "" || entity.OwningStoreID() != id.StoreID {
		return domain.Permission{}
	}
	if id.IsOwner {
		return domain.Permission{CanView: true, CanEdit: true, CanDelete: true}
	}
	if id.UserID == "" || entity.CreatorID() != id.UserID {
		return domain.Permission{}
	}
	mutable := !entity.IsSynced()
	return domain.Permission{CanView: true, CanEdit: mutable, CanDelete: mutable}
}
