// Package notifications publishes operational alerts to an SNS topic:
// duplicate-qrId integrity anomalies found at read time, and clients that
// keep hammering past the rate limit. Alerts are best effort and never
// affect the outcome of a request.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/qrpay/qr-gateway/internal/circuitbreaker"
)

type NotificationType string

const (
	NotificationIntegrityAnomaly NotificationType = "integrity_anomaly"
	NotificationRateLimitAbuse   NotificationType = "rate_limit_abuse"
)

type Notification struct {
	Type    NotificationType       `json:"type"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

type SNSNotifier struct {
	client   *sns.Client
	topicArn string
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(string(notification.Type)),
		Message:  aws.String(string(body)),
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	return nil
}

// InMemoryNotifier collects notifications for tests.
type InMemoryNotifier struct {
	mu            sync.Mutex
	Notifications []Notification
	err           error
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.Notifications = append(n.Notifications, notification)
	return nil
}

func (n *InMemoryNotifier) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *InMemoryNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.Notifications))
	copy(out, n.Notifications)
	return out
}

// AnomalyReporter sends one alert per duplicate-qrId observation, guarded
// by a circuit breaker so a dead topic is not hammered.
type AnomalyReporter struct {
	notifier Notifier
	breaker  *circuitbreaker.Breaker
}

func NewAnomalyReporter(notifier Notifier) *AnomalyReporter {
	return &AnomalyReporter{
		notifier: notifier,
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

func (r *AnomalyReporter) DuplicateQRID(ctx context.Context, qrID string, matches int) {
	if err := r.breaker.Allow(ctx); err != nil {
		return
	}

	n := Notification{
		Type:    NotificationIntegrityAnomaly,
		Message: fmt.Sprintf("qrId %s matched %d records across tenant partitions", qrID, matches),
		Data: map[string]interface{}{
			"qr_id":   qrID,
			"matches": matches,
		},
	}

	if err := r.notifier.Send(ctx, n); err != nil {
		r.breaker.RecordFailure(ctx)
		slog.Warn("failed to send integrity alert", "qr_id", qrID, "error", err)
		return
	}
	r.breaker.RecordSuccess(ctx)
}

// AbuseReporter alerts once when a client keeps sending requests after
// being denied, then stays quiet about that client for the cooldown.
type AbuseReporter struct {
	mu        sync.Mutex
	denies    map[string]int
	alertedAt map[string]time.Time
	threshold int
	cooldown  time.Duration
	notifier  Notifier
	breaker   *circuitbreaker.Breaker
}

func NewAbuseReporter(notifier Notifier, threshold int, cooldown time.Duration) *AbuseReporter {
	if threshold <= 0 {
		threshold = 50
	}
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	return &AbuseReporter{
		denies:    make(map[string]int),
		alertedAt: make(map[string]time.Time),
		threshold: threshold,
		cooldown:  cooldown,
		notifier:  notifier,
		breaker:   circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

// RecordDenied counts a rate-limit denial for identity and fires an alert
// when the threshold is crossed.
func (r *AbuseReporter) RecordDenied(ctx context.Context, identity string) {
	r.mu.Lock()
	r.denies[identity]++
	count := r.denies[identity]
	lastAlert, alerted := r.alertedAt[identity]
	shouldAlert := count >= r.threshold && (!alerted || time.Since(lastAlert) > r.cooldown)
	if shouldAlert {
		r.alertedAt[identity] = time.Now()
		r.denies[identity] = 0
	}
	r.mu.Unlock()

	if !shouldAlert {
		return
	}

	if err := r.breaker.Allow(ctx); err != nil {
		return
	}

	n := Notification{
		Type:    NotificationRateLimitAbuse,
		Message: fmt.Sprintf("client %s was denied %d times past the rate limit", identity, count),
		Data: map[string]interface{}{
			"client":  identity,
			"denials": count,
		},
	}

	if err := r.notifier.Send(ctx, n); err != nil {
		r.breaker.RecordFailure(ctx)
		slog.Warn("failed to send abuse alert", "client", identity, "error", err)
		return
	}
	r.breaker.RecordSuccess(ctx)
}
