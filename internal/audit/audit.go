// Package audit publishes scan events — one per resolve attempt — to an
// SQS queue for downstream analysis. Publishing is asynchronous and best
// effort: the request path only enqueues, and events are dropped rather
// than ever blocking a request.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/qrpay/qr-gateway/internal/circuitbreaker"
	"github.com/qrpay/qr-gateway/internal/metrics"
)

// ScanEvent records the outcome of one resolve attempt.
type ScanEvent struct {
	ID      string    `json:"id"`
	QRID    string    `json:"qr_id,omitempty"`
	Client  string    `json:"client"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(event ScanEvent)
}

// NopPublisher discards events; used when no audit queue is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ScanEvent) {}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher buffers events in a channel drained by one worker
// goroutine. A full buffer drops the event; a failing queue trips the
// breaker and events are dropped until it recovers.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	events   chan ScanEvent
	breaker  *circuitbreaker.Breaker
	done     chan struct{}
	once     sync.Once
}

const defaultBufferSize = 1024

func NewSQSPublisher(ctx context.Context, region, queueURL string) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newSQSPublisher(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	p := &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		events:   make(chan ScanEvent, defaultBufferSize),
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig()),
		done:     make(chan struct{}),
	}
	go p.worker()
	return p
}

// Publish enqueues an event without blocking. When the buffer is full the
// event is dropped and counted.
func (p *SQSPublisher) Publish(event ScanEvent) {
	select {
	case p.events <- event:
	default:
		metrics.RecordAuditEventDropped()
		slog.Warn("audit buffer full, dropping scan event", "qr_id", event.QRID, "outcome", event.Outcome)
	}
}

func (p *SQSPublisher) worker() {
	defer close(p.done)

	for event := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		p.send(ctx, event)
		cancel()
	}
}

func (p *SQSPublisher) send(ctx context.Context, event ScanEvent) {
	if err := p.breaker.Allow(ctx); err != nil {
		metrics.RecordAuditEventDropped()
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal scan event", "error", err)
		return
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Outcome": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Outcome),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		p.breaker.RecordFailure(ctx)
		metrics.RecordAuditEventDropped()
		slog.Warn("failed to publish scan event", "error", err)
		return
	}
	p.breaker.RecordSuccess(ctx)
}

// Close drains buffered events and stops the worker.
func (p *SQSPublisher) Close() {
	p.once.Do(func() {
		close(p.events)
	})
	<-p.done
}
