package notification

import (
	"context"
	"errors"
	"sync"
)

// PushCall records a single call to SendPush.
type PushCall struct {
	Sub     Subscription
	Payload PushPayload
}

// MockPushSender is a test double for PushSender.
type MockPushSender struct {
	mu         sync.Mutex
	calls      []PushCall
	ShouldFail bool
	FailError  string
	// GoneEndpoints makes sends to these endpoints report the subscription
	// gone, as a push service does for expired registrations.
	GoneEndpoints map[string]bool
}

// SendPush records the call and optionally returns an error.
func (m *MockPushSender) SendPush(_ context.Context, sub Subscription, payload PushPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, PushCall{Sub: sub, Payload: payload})
	if m.GoneEndpoints[sub.Endpoint] {
		return ErrSubscriptionGone
	}
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded push calls.
func (m *MockPushSender) Calls() []PushCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PushCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
