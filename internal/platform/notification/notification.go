// Package notification delivers medication reminders to accounts over web
// push with an SMS fallback. Message content comes from a template engine
// with built-in reminder templates that deployments can override from a
// YAML file.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// ErrSubscriptionGone reports that the push service no longer knows the
// endpoint. The subscription is dead and should be removed.
var ErrSubscriptionGone = errors.New("push subscription gone")

// ---------------------------------------------------------------------------
// View Types
// ---------------------------------------------------------------------------

// Reminder is the notifier's view of one due reminder.
type Reminder struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	MedicationName string
	Dosage         string
	ScheduledTime  time.Time
}

// Contact holds the delivery details of one account.
type Contact struct {
	Name   string
	Mobile *string
	Active bool
}

// Subscription is a browser push endpoint with its encryption keys.
type Subscription struct {
	Endpoint string
	P256dh   string
	Auth     string
}

// PushPayload is the JSON document handed to the service worker.
type PushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// PushSender delivers a payload to a single push subscription.
type PushSender interface {
	SendPush(ctx context.Context, sub Subscription, payload PushPayload) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Directory resolves delivery targets and prunes dead push endpoints.
// Implementations wrap the account service.
type Directory interface {
	Contact(ctx context.Context, accountID uuid.UUID) (*Contact, error)
	Subscriptions(ctx context.Context, accountID uuid.UUID) ([]Subscription, error)
	RemoveEndpoint(ctx context.Context, endpoint string) error
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

const (
	defaultCacheTTL  = 5 * time.Minute
	contactKeyPrefix = "contact:"
	subsKeyPrefix    = "subs:"
)

// Manager sends one reminder through the first channel that works: web push
// per subscription, then SMS to the account's mobile number. Directory
// lookups are cached per account with a TTL.
type Manager struct {
	directory Directory
	push      PushSender
	sms       SMSSender
	templates *TemplateEngine
	cache     *cache.Cache
	log       zerolog.Logger
}

func NewManager(dir Directory, push PushSender, sms SMSSender, tpl *TemplateEngine, cacheTTL time.Duration, log zerolog.Logger) *Manager {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Manager{
		directory: dir,
		push:      push,
		sms:       sms,
		templates: tpl,
		cache:     cache.New(cacheTTL, 2*cacheTTL),
		log:       log.With().Str("component", "notifier").Logger(),
	}
}

// InvalidateAccount drops cached contact and subscription data. Call after
// the account subscribes or unsubscribes so the next reminder sees the
// change immediately instead of after the TTL.
func (m *Manager) InvalidateAccount(accountID uuid.UUID) {
	m.cache.Delete(contactKeyPrefix + accountID.String())
	m.cache.Delete(subsKeyPrefix + accountID.String())
}

// SendReminder reports whether any channel plausibly delivered the reminder.
// It never panics; every failure is logged and folded into the result.
func (m *Manager) SendReminder(ctx context.Context, rem Reminder) bool {
	contact, err := m.contact(ctx, rem.AccountID)
	if err != nil {
		m.log.Error().Err(err).
			Str("reminder_id", rem.ID.String()).
			Str("account_id", rem.AccountID.String()).
			Msg("resolve contact")
		return false
	}
	if !contact.Active {
		m.log.Debug().
			Str("reminder_id", rem.ID.String()).
			Str("account_id", rem.AccountID.String()).
			Msg("account disabled, skipping delivery")
		return false
	}

	data := map[string]string{
		"medication_name": rem.MedicationName,
		"dosage":          rem.Dosage,
		"account_name":    contact.Name,
		"scheduled_time":  rem.ScheduledTime.Format(time.RFC3339),
	}

	if m.sendPush(ctx, rem, data) {
		m.log.Info().Str("reminder_id", rem.ID.String()).Str("channel", "push").Msg("reminder delivered")
		return true
	}
	if m.sendSMS(ctx, rem, contact, data) {
		m.log.Info().Str("reminder_id", rem.ID.String()).Str("channel", "sms").Msg("reminder delivered")
		return true
	}

	m.log.Warn().
		Str("reminder_id", rem.ID.String()).
		Str("account_id", rem.AccountID.String()).
		Msg("no delivery channel succeeded")
	return false
}

// sendPush tries each subscription until one accepts the payload.
// Endpoints the push service reports gone are removed along the way.
func (m *Manager) sendPush(ctx context.Context, rem Reminder, data map[string]string) bool {
	subs, err := m.subscriptions(ctx, rem.AccountID)
	if err != nil {
		m.log.Error().Err(err).Str("account_id", rem.AccountID.String()).Msg("load push subscriptions")
		return false
	}
	if len(subs) == 0 {
		return false
	}

	title, body, err := m.templates.Render(TemplateReminderPush, data)
	if err != nil {
		m.log.Error().Err(err).Msg("render push template")
		return false
	}
	payload := PushPayload{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":        "medication_reminder",
			"reminder_id": rem.ID.String(),
		},
	}

	var delivered, pruned bool
	for _, sub := range subs {
		err := m.push.SendPush(ctx, sub, payload)
		switch {
		case err == nil:
			delivered = true
		case errors.Is(err, ErrSubscriptionGone):
			pruned = true
			if derr := m.directory.RemoveEndpoint(ctx, sub.Endpoint); derr != nil {
				m.log.Warn().Err(derr).Str("endpoint", sub.Endpoint).Msg("prune dead subscription")
			} else {
				m.log.Info().Str("endpoint", sub.Endpoint).Msg("removed dead push subscription")
			}
		default:
			m.log.Warn().Err(err).
				Str("reminder_id", rem.ID.String()).
				Msg("web push delivery failed")
		}
		if delivered {
			break
		}
	}
	if pruned {
		m.cache.Delete(subsKeyPrefix + rem.AccountID.String())
	}
	return delivered
}

func (m *Manager) sendSMS(ctx context.Context, rem Reminder, contact *Contact, data map[string]string) bool {
	if contact.Mobile == nil || *contact.Mobile == "" {
		return false
	}
	_, body, err := m.templates.Render(TemplateReminderSMS, data)
	if err != nil {
		m.log.Error().Err(err).Msg("render sms template")
		return false
	}
	if err := m.sms.SendSMS(ctx, *contact.Mobile, body); err != nil {
		m.log.Warn().Err(err).
			Str("reminder_id", rem.ID.String()).
			Msg("sms delivery failed")
		return false
	}
	return true
}

func (m *Manager) contact(ctx context.Context, accountID uuid.UUID) (*Contact, error) {
	key := contactKeyPrefix + accountID.String()
	if v, found := m.cache.Get(key); found {
		if c, ok := v.(*Contact); ok {
			return c, nil
		}
	}
	c, err := m.directory.Contact(ctx, accountID)
	if err != nil {
		return nil, err
	}
	m.cache.Set(key, c, cache.DefaultExpiration)
	return c, nil
}

func (m *Manager) subscriptions(ctx context.Context, accountID uuid.UUID) ([]Subscription, error) {
	key := subsKeyPrefix + accountID.String()
	if v, found := m.cache.Get(key); found {
		if subs, ok := v.([]Subscription); ok {
			return subs, nil
		}
	}
	subs, err := m.directory.Subscriptions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	m.cache.Set(key, subs, cache.DefaultExpiration)
	return subs, nil
}
