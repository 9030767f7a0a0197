package account

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound             = errors.New("account not found")
	ErrSubscriptionNotFound = errors.New("push subscription not found")
	ErrInvalid              = errors.New("invalid subscription")
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Account is a notification recipient and owner of medications. Sign-up and
// session flows live outside this service; rows arrive through migrations
// or an upstream identity system.
type Account struct {
	ID           uuid.UUID `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Email        string    `db:"email" json:"email"`
	MobileNumber *string   `db:"mobile_number" json:"mobile_number,omitempty"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Contact is the slice of an account the notifier needs.
type Contact struct {
	AccountID uuid.UUID
	Name      string
	Mobile    *string
	Active    bool
}

// PushSubscription is one browser push endpoint. Endpoints are globally
// unique; re-subscribing moves the endpoint to the subscribing account.
type PushSubscription struct {
	ID        uuid.UUID `db:"id" json:"id"`
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	P256dh    string    `db:"p256dh" json:"p256dh"`
	Auth      string    `db:"auth" json:"auth"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SubscribeInput mirrors the browser PushSubscription.toJSON() shape.
type SubscribeInput struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (in *SubscribeInput) Validate() error {
	if strings.TrimSpace(in.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalid)
	}
	u, err := url.Parse(in.Endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an absolute URL", ErrInvalid)
	}
	if in.Keys.P256dh == "" || in.Keys.Auth == "" {
		return fmt.Errorf("%w: keys.p256dh and keys.auth are required", ErrInvalid)
	}
	return nil
}
