package account

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	ListSubscriptions(ctx context.Context, accountID uuid.UUID) ([]*PushSubscription, error)
	// SaveSubscription inserts sub or, when the endpoint already exists,
	// reassigns it to sub.AccountID with the new keys. The stored ID and
	// CreatedAt are written back into sub.
	SaveSubscription(ctx context.Context, sub *PushSubscription) error
	// DeleteSubscriptionByEndpoint removes an endpoint regardless of owner.
	// Used when the push service reports the subscription gone.
	DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error
	// DeleteSubscription removes an endpoint only if accountID owns it.
	DeleteSubscription(ctx context.Context, accountID uuid.UUID, endpoint string) error
}
