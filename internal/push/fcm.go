// Package push delivers reminder notifications to user devices through
// Firebase Cloud Messaging.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"golang.org/x/time/rate"
)

// maxMulticastTokens is the FCM limit for one multicast message.
const maxMulticastTokens = 500

// Messenger is the slice of *messaging.Client the gateway uses.
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// TokenStore resolves and retires device tokens.
type TokenStore interface {
	ActiveTokens(ctx context.Context, userID int64) ([]string, error)
	DeactivateTokens(ctx context.Context, tokens []string) (int64, error)
}

// FCMGateway pushes to every active device of a user.
// Nil-safe: a nil gateway drops every send.
type FCMGateway struct {
	client         Messenger
	tokens         TokenStore
	limiter        *rate.Limiter
	timeout        time.Duration
	logger         *slog.Logger
	isUnregistered func(error) bool
}

// NewFCMGateway creates a gateway. ratePerSecond bounds multicast calls;
// timeout bounds each Send.
func NewFCMGateway(client Messenger, tokens TokenStore, ratePerSecond int, timeout time.Duration, logger *slog.Logger) *FCMGateway {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &FCMGateway{
		client:         client,
		tokens:         tokens,
		limiter:        rate.NewLimiter(limit, max(ratePerSecond, 1)),
		timeout:        timeout,
		logger:         logger,
		isUnregistered: messaging.IsUnregistered,
	}
}

// Send delivers one notification to each user. A user without devices has
// nothing to deliver and is not an error. Tokens FCM reports unregistered
// are deactivated.
func (g *FCMGateway) Send(ctx context.Context, userIDs []int64, title, body, actionURL string, data map[string]string) error {
	if g == nil {
		return nil
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var errs []error
	for _, uid := range userIDs {
		if err := g.sendUser(ctx, uid, title, body, actionURL, data); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}

func (g *FCMGateway) sendUser(ctx context.Context, userID int64, title, body, actionURL string, data map[string]string) error {
	tokens, err := g.tokens.ActiveTokens(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		g.logger.Debug("no active devices", "user_id", userID)
		return nil
	}

	var stale []string
	delivered, failed := 0, 0
	for start := 0; start < len(tokens); start += maxMulticastTokens {
		batch := tokens[start:min(start+maxMulticastTokens, len(tokens))]
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}

		resp, err := g.client.SendEachForMulticast(ctx, message(batch, title, body, actionURL, data))
		if err != nil {
			return fmt.Errorf("fcm multicast: %w", err)
		}
		for i, r := range resp.Responses {
			switch {
			case r.Success:
				delivered++
			case g.isUnregistered(r.Error):
				stale = append(stale, batch[i])
			default:
				failed++
				g.logger.Warn("fcm token send failed", "user_id", userID, "error", r.Error)
			}
		}
	}

	if len(stale) > 0 {
		n, err := g.tokens.DeactivateTokens(ctx, stale)
		if err != nil {
			g.logger.Warn("deactivate stale tokens", "user_id", userID, "error", err)
		} else {
			g.logger.Info("deactivated stale tokens", "user_id", userID, "count", n)
		}
	}

	if delivered == 0 && failed > 0 {
		return fmt.Errorf("all %d device sends failed", failed)
	}
	return nil
}

func message(tokens []string, title, body, actionURL string, data map[string]string) *messaging.MulticastMessage {
	msg := &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
	}
	if data["priority"] == "high" || data["priority"] == "urgent" {
		msg.Android = &messaging.AndroidConfig{Priority: "high"}
	}
	if actionURL != "" {
		msg.Webpush = &messaging.WebpushConfig{FCMOptions: &messaging.WebpushFCMOptions{Link: actionURL}}
	}
	return msg
}

// LogGateway stands in when Firebase is not configured: it logs and drops.
type LogGateway struct {
	Logger *slog.Logger
}

func (l LogGateway) Send(_ context.Context, userIDs []int64, title, _, _ string, _ map[string]string) error {
	l.Logger.Debug("push skipped (firebase not configured)", "users", len(userIDs), "title", title)
	return nil
}
