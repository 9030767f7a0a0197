package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockRepo struct {
	accounts map[uuid.UUID]*Account
	subs     map[string]*PushSubscription
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		accounts: make(map[uuid.UUID]*Account),
		subs:     make(map[string]*PushSubscription),
	}
}

func (r *mockRepo) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *mockRepo) ListSubscriptions(ctx context.Context, accountID uuid.UUID) ([]*PushSubscription, error) {
	var subs []*PushSubscription
	for _, s := range r.subs {
		if s.AccountID == accountID {
			cp := *s
			subs = append(subs, &cp)
		}
	}
	return subs, nil
}

func (r *mockRepo) SaveSubscription(ctx context.Context, sub *PushSubscription) error {
	if existing, ok := r.subs[sub.Endpoint]; ok {
		existing.AccountID = sub.AccountID
		existing.P256dh = sub.P256dh
		existing.Auth = sub.Auth
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		return nil
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.CreatedAt = time.Now().UTC()
	cp := *sub
	r.subs[sub.Endpoint] = &cp
	return nil
}

func (r *mockRepo) DeleteSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if _, ok := r.subs[endpoint]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(r.subs, endpoint)
	return nil
}

func (r *mockRepo) DeleteSubscription(ctx context.Context, accountID uuid.UUID, endpoint string) error {
	s, ok := r.subs[endpoint]
	if !ok || s.AccountID != accountID {
		return ErrSubscriptionNotFound
	}
	delete(r.subs, endpoint)
	return nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func seedAccount(repo *mockRepo, first, last, email string, mobile *string) uuid.UUID {
	id := uuid.New()
	repo.accounts[id] = &Account{
		ID:           id,
		FirstName:    first,
		LastName:     last,
		Email:        email,
		MobileNumber: mobile,
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	return id
}

func subscribeInput(endpoint string) SubscribeInput {
	in := SubscribeInput{Endpoint: endpoint}
	in.Keys.P256dh = "BNcRd_p256dh_key"
	in.Keys.Auth = "tBHI_auth_secret"
	return in
}

func strPtr(s string) *string { return &s }

func TestContact(t *testing.T) {
	svc, repo := newTestService()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", strPtr("+2348012345678"))

	c, err := svc.Contact(context.Background(), id)
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if c.Name != "Ada Obi" {
		t.Errorf("Name = %q, want %q", c.Name, "Ada Obi")
	}
	if c.Mobile == nil || *c.Mobile != "+2348012345678" {
		t.Errorf("Mobile = %v, want +2348012345678", c.Mobile)
	}
	if !c.Active {
		t.Error("Active = false, want true")
	}
}

func TestContact_EmptyNameFallsBackToEmail(t *testing.T) {
	svc, repo := newTestService()
	id := seedAccount(repo, "", "", "ada@example.com", nil)

	c, err := svc.Contact(context.Background(), id)
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if c.Name != "ada@example.com" {
		t.Errorf("Name = %q, want email fallback", c.Name)
	}
	if c.Mobile != nil {
		t.Errorf("Mobile = %v, want nil", c.Mobile)
	}
}

func TestContact_DisabledAccount(t *testing.T) {
	svc, repo := newTestService()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)
	repo.accounts[id].Status = StatusDisabled

	c, err := svc.Contact(context.Background(), id)
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if c.Active {
		t.Error("Active = true for disabled account")
	}
}

func TestContact_UnknownAccount(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Contact(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscribe(t *testing.T) {
	svc, repo := newTestService()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)

	sub, err := svc.Subscribe(context.Background(), id, subscribeInput("https://push.example.com/send/abc"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.ID == uuid.Nil {
		t.Error("ID not assigned")
	}
	if sub.AccountID != id {
		t.Errorf("AccountID = %s, want %s", sub.AccountID, id)
	}

	subs, err := svc.Subscriptions(context.Background(), id)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len(subs) = %d, want 1", len(subs))
	}
	if subs[0].Endpoint != "https://push.example.com/send/abc" {
		t.Errorf("Endpoint = %q", subs[0].Endpoint)
	}
}

func TestSubscribe_SameEndpointMovesToNewAccount(t *testing.T) {
	svc, repo := newTestService()
	first := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)
	second := seedAccount(repo, "Bayo", "Eze", "bayo@example.com", nil)

	if _, err := svc.Subscribe(context.Background(), first, subscribeInput("https://push.example.com/send/shared")); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := svc.Subscribe(context.Background(), second, subscribeInput("https://push.example.com/send/shared")); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	firstSubs, _ := svc.Subscriptions(context.Background(), first)
	secondSubs, _ := svc.Subscriptions(context.Background(), second)
	if len(firstSubs) != 0 {
		t.Errorf("first account still has %d subscriptions", len(firstSubs))
	}
	if len(secondSubs) != 1 {
		t.Errorf("second account has %d subscriptions, want 1", len(secondSubs))
	}
}

func TestSubscribe_Validation(t *testing.T) {
	svc, repo := newTestService()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)

	cases := []struct {
		name string
		in   SubscribeInput
	}{
		{"empty endpoint", subscribeInput("")},
		{"relative endpoint", subscribeInput("/push/send/abc")},
		{"missing keys", SubscribeInput{Endpoint: "https://push.example.com/send/abc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Subscribe(context.Background(), id, tc.in); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	svc, repo := newTestService()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)
	if _, err := svc.Subscribe(context.Background(), id, subscribeInput("https://push.example.com/send/abc")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := svc.Unsubscribe(context.Background(), id, "https://push.example.com/send/abc"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	subs, _ := svc.Subscriptions(context.Background(), id)
	if len(subs) != 0 {
		t.Errorf("len(subs) = %d after unsubscribe", len(subs))
	}
}

func TestUnsubscribe_OtherAccountsEndpoint(t *testing.T) {
	svc, repo := newTestService()
	owner := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)
	intruder := seedAccount(repo, "Bayo", "Eze", "bayo@example.com", nil)
	if _, err := svc.Subscribe(context.Background(), owner, subscribeInput("https://push.example.com/send/abc")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	err := svc.Unsubscribe(context.Background(), intruder, "https://push.example.com/send/abc")
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("err = %v, want ErrSubscriptionNotFound", err)
	}
	subs, _ := svc.Subscriptions(context.Background(), owner)
	if len(subs) != 1 {
		t.Errorf("owner lost the subscription")
	}
}

func TestSubscriptionChangeHookFires(t *testing.T) {
	svc, repo := newTestService()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)

	var fired []uuid.UUID
	svc.OnSubscriptionChange(func(accountID uuid.UUID) { fired = append(fired, accountID) })

	if _, err := svc.Subscribe(context.Background(), id, subscribeInput("https://push.example.com/send/abc")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := svc.Unsubscribe(context.Background(), id, "https://push.example.com/send/abc"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if len(fired) != 2 || fired[0] != id || fired[1] != id {
		t.Errorf("hook fired = %v, want twice for %s", fired, id)
	}

	// Invalid input never reaches the store, so the hook stays quiet.
	if _, err := svc.Subscribe(context.Background(), id, SubscribeInput{}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if len(fired) != 2 {
		t.Errorf("hook fired on failed subscribe")
	}
}

func TestRemoveEndpoint_MissingRowIsFine(t *testing.T) {
	svc, repo := newTestService()
	id := seedAccount(repo, "Ada", "Obi", "ada@example.com", nil)
	if _, err := svc.Subscribe(context.Background(), id, subscribeInput("https://push.example.com/send/abc")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := svc.RemoveEndpoint(context.Background(), "https://push.example.com/send/abc"); err != nil {
		t.Fatalf("RemoveEndpoint: %v", err)
	}
	if err := svc.RemoveEndpoint(context.Background(), "https://push.example.com/send/abc"); err != nil {
		t.Fatalf("second RemoveEndpoint: %v", err)
	}
}
