// Package alert scans for high-signal events that have not been announced and
// pushes them to a notification channel. Delivery is at-least-once: the
// alerted flag is only set after an accepted send, so a crash in between may
// repeat a notification but never lose one.
package alert

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sentinel/internal/model"
	"github.com/sells-group/sentinel/internal/store"
)

// Notification is the payload handed to the channel.
type Notification struct {
	EventID    string   `json:"eventId"`
	Signal     int      `json:"signal"`
	Summary    string   `json:"summary"`
	SourceURLs []string `json:"sourceUrls"`
}

// Notifier delivers a notification. A nil error means the send was accepted.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Trigger runs the scan loop.
type Trigger struct {
	store     store.Store
	notifier  Notifier
	minSignal int
}

func NewTrigger(st store.Store, notifier Notifier, minSignal int) *Trigger {
	return &Trigger{store: st, notifier: notifier, minSignal: minSignal}
}

// Scan sends one notification per unalerted event above the signal threshold
// and flags each as alerted after its send is accepted. A failed send leaves
// the flag unset so the next scan retries it; it never blocks other events.
func (t *Trigger) Scan(ctx context.Context) error {
	events, err := t.store.AlertableEvents(ctx, t.minSignal)
	if err != nil {
		return eris.Wrap(err, "alert: list alertable events")
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "alert: canceled")
		}
		if err := t.send(ctx, ev); err != nil {
			zap.L().Error("alert delivery failed",
				zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		if err := t.store.SetEventAlerted(ctx, ev.ID, true); err != nil {
			return eris.Wrapf(err, "alert: flag event %s", ev.ID)
		}
		zap.L().Info("alert sent",
			zap.String("event_id", ev.ID), zap.Int("signal", ev.Signal))
	}
	return nil
}

func (t *Trigger) send(ctx context.Context, ev model.Event) error {
	members, err := t.store.EventMembers(ctx, ev.ID)
	if err != nil {
		return err
	}
	urls := make([]string, 0, len(members))
	for _, m := range members {
		urls = append(urls, m.SourceURL)
	}
	return t.notifier.Notify(ctx, Notification{
		EventID:    ev.ID,
		Signal:     ev.Signal,
		Summary:    ev.Summary,
		SourceURLs: urls,
	})
}

// Run scans on the interval until ctx is canceled.
func (t *Trigger) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Scan(ctx); err != nil {
				if ctx.Err() != nil {
					return err
				}
				zap.L().Error("alert scan failed", zap.Error(err))
			}
		}
	}
}
