package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
)

// WebPushConfig carries the VAPID identity this server presents to browser
// push services.
type WebPushConfig struct {
	// Subscriber is the VAPID sub claim, a mailto: or https: contact URI.
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// TTL is how long, in seconds, the push service may hold an
	// undelivered message.
	TTL int
}

// WebPushSender delivers payloads over the Web Push protocol with VAPID
// authentication.
type WebPushSender struct {
	cfg WebPushConfig
	log zerolog.Logger
}

func NewWebPushSender(cfg WebPushConfig, log zerolog.Logger) *WebPushSender {
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &WebPushSender{
		cfg: cfg,
		log: log.With().Str("component", "webpush").Logger(),
	}
}

func (s *WebPushSender) SendPush(ctx context.Context, sub Subscription, payload PushPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
}

// GenerateVAPIDKeys produces a fresh VAPID key pair for server configuration.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}
