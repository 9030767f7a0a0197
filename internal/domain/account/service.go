package account

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo     Repository
	log      zerolog.Logger
	onChange func(accountID uuid.UUID)
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "account").Logger(),
	}
}

// OnSubscriptionChange registers a hook invoked after a subscription is
// added or removed. The notifier uses it to drop cached delivery data.
func (s *Service) OnSubscriptionChange(fn func(accountID uuid.UUID)) {
	s.onChange = fn
}

func (s *Service) notifyChange(accountID uuid.UUID) {
	if s.onChange != nil {
		s.onChange(accountID)
	}
}

// Contact resolves the delivery details the notifier needs for an account.
func (s *Service) Contact(ctx context.Context, accountID uuid.UUID) (*Contact, error) {
	a, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		name = a.Email
	}
	return &Contact{
		AccountID: a.ID,
		Name:      name,
		Mobile:    a.MobileNumber,
		Active:    a.Status == StatusActive,
	}, nil
}

func (s *Service) Subscriptions(ctx context.Context, accountID uuid.UUID) ([]*PushSubscription, error) {
	return s.repo.ListSubscriptions(ctx, accountID)
}

// Subscribe registers a browser push endpoint for the account. Subscribing
// an endpoint that already exists reassigns it, so a shared browser profile
// always notifies whoever subscribed last.
func (s *Service) Subscribe(ctx context.Context, accountID uuid.UUID, in SubscribeInput) (*PushSubscription, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	sub := &PushSubscription{
		AccountID: accountID,
		Endpoint:  in.Endpoint,
		P256dh:    in.Keys.P256dh,
		Auth:      in.Keys.Auth,
	}
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.notifyChange(accountID)
	s.log.Info().
		Str("account_id", accountID.String()).
		Str("subscription_id", sub.ID.String()).
		Msg("push subscription saved")
	return sub, nil
}

func (s *Service) Unsubscribe(ctx context.Context, accountID uuid.UUID, endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return ErrInvalid
	}
	if err := s.repo.DeleteSubscription(ctx, accountID, endpoint); err != nil {
		return err
	}
	s.notifyChange(accountID)
	s.log.Info().Str("account_id", accountID.String()).Msg("push subscription removed")
	return nil
}

// RemoveEndpoint drops an endpoint the push service reported gone. Missing
// rows are fine; another dispatch may have cleaned up first.
func (s *Service) RemoveEndpoint(ctx context.Context, endpoint string) error {
	err := s.repo.DeleteSubscriptionByEndpoint(ctx, endpoint)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	return err
}
