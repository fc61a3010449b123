package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/fiskasyela/braintheria-backend/internal/config"
	"github.com/fiskasyela/braintheria-backend/internal/domain"
	"github.com/fiskasyela/braintheria-backend/internal/events"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	webhookRetryWait      = 200 * time.Millisecond
)

// WebhookForwarder posts lifecycle events to the configured URLs. It is an
// ordinary bus subscriber, so a hook that stalls long enough to fill the
// queue misses events.
type WebhookForwarder struct {
	bus    *events.Bus
	hooks  []webhook
	logger *slog.Logger
}

type webhook struct {
	url    string
	secret string
	filter eventFilter
	client *resty.Client
}

// NewWebhookForwarder keeps the enabled hooks with a URL. It returns nil
// when none remain.
func NewWebhookForwarder(bus *events.Bus, hooks []config.WebhookConfig, logger *slog.Logger) *WebhookForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &WebhookForwarder{bus: bus, logger: logger}
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		client := resty.New().
			SetTimeout(timeout).
			SetRetryCount(max(hook.Retries, 0)).
			SetRetryWaitTime(webhookRetryWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= 500
			})
		f.hooks = append(f.hooks, webhook{
			url:    strings.TrimSpace(hook.URL),
			secret: strings.TrimSpace(hook.Secret),
			filter: newEventFilter(hook.Events),
			client: client,
		})
	}
	if len(f.hooks) == 0 || bus == nil {
		return nil
	}
	return f
}

// Run delivers events until ctx ends.
func (f *WebhookForwarder) Run(ctx context.Context) error {
	sub := f.bus.Subscribe(ctx)
	defer sub.Close()
	f.logger.Info("webhook forwarder started", "hooks", len(f.hooks))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case evt := <-sub.Events():
			for _, hook := range f.hooks {
				if !hook.filter.match(evt.Kind) {
					continue
				}
				if err := hook.post(ctx, evt); err != nil {
					f.logger.Warn("webhook delivery failed", "url", hook.url, "event", evt.Kind, "id", evt.ID, "error", err)
				}
			}
		}
	}
}

func (h webhook) post(ctx context.Context, evt domain.LifecycleEvent) error {
	req := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Braintheria-Event", evt.Kind).
		SetHeader("X-Braintheria-Delivery", evt.ID).
		SetBody(evt)
	if h.secret != "" {
		req.SetHeader("X-Braintheria-Secret", h.secret)
	}
	res, err := req.Post(h.url)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("status %d: %s", res.StatusCode(), strings.TrimSpace(truncate(res.String(), 512)))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(kinds []string) eventFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, raw := range kinds {
		for _, kind := range strings.Split(raw, ",") {
			key := strings.TrimSpace(kind)
			if key == "" {
				continue
			}
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
