// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/olegiv/postsync/internal/retry"
)

// queueSize bounds deliveries waiting for a worker.
const queueSize = 100

// Endpoint is one notification target.
type Endpoint struct {
	URL     string
	Secret  string
	Headers map[string]string
}

// Dispatcher handles webhook event dispatching and queuing.
type Dispatcher struct {
	endpoints []Endpoint
	client    *http.Client
	policy    retry.Policy
	logger    *slog.Logger
	queue     chan *QueuedDelivery
	workers   int
	wg        sync.WaitGroup
	done      chan struct{}
	mu        sync.RWMutex
	running   bool
}

// QueuedDelivery represents a delivery queued for processing.
type QueuedDelivery struct {
	DeliveryID string
	Event      string
	Payload    []byte
	Endpoint   Endpoint
}

// Config holds dispatcher configuration.
type Config struct {
	Workers int          // Number of concurrent delivery workers
	Retry   retry.Policy // Per-delivery retry budget
	Client  *http.Client // Defaults to a client with RequestTimeout
}

// DefaultConfig returns default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers: 2,
		Retry:   DefaultRetryPolicy(),
	}
}

// NewDispatcher creates a new webhook dispatcher.
func NewDispatcher(endpoints []Endpoint, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Retry.MaxRetries <= 0 && cfg.Retry.InitialDelay <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Client == nil {
		cfg.Client = httpClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		endpoints: endpoints,
		client:    cfg.Client,
		policy:    cfg.Retry,
		logger:    logger,
		queue:     make(chan *QueuedDelivery, queueSize),
		workers:   cfg.Workers,
		done:      make(chan struct{}),
	}
}

// Start starts the dispatcher workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("starting webhook dispatcher", "workers", d.workers, "endpoints", len(d.endpoints))

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Stop stops the dispatcher after the queue drains and waits for workers to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info("stopping webhook dispatcher")
	close(d.done)
	d.wg.Wait()
	d.logger.Info("webhook dispatcher stopped")
}

// worker processes queued deliveries.
func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.logger.Debug("webhook worker started", "worker_id", id)

	for {
		select {
		case delivery := <-d.queue:
			d.processDelivery(ctx, delivery)
		case <-ctx.Done():
			d.logger.Debug("webhook worker context cancelled", "worker_id", id)
			return
		case <-d.done:
			// Drain what is already queued before stopping.
			for {
				select {
				case delivery := <-d.queue:
					d.processDelivery(ctx, delivery)
				default:
					d.logger.Debug("webhook worker stopping", "worker_id", id)
					return
				}
			}
		}
	}
}

// Dispatch queues event for every endpoint. A full queue drops the delivery.
func (d *Dispatcher) Dispatch(_ context.Context, event *Event) error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		d.logger.Warn("dispatcher not running, cannot dispatch event", "event_type", event.Type)
		return nil
	}
	if len(d.endpoints) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("failed to marshal event payload", "error", err, "event_type", event.Type)
		return err
	}

	for _, ep := range d.endpoints {
		qd := &QueuedDelivery{
			DeliveryID: uuid.NewString(),
			Event:      event.Type,
			Payload:    payload,
			Endpoint:   ep,
		}
		select {
		case d.queue <- qd:
			d.logger.Debug("delivery queued", "delivery_id", qd.DeliveryID, "url", ep.URL)
		default:
			d.logger.Warn("webhook delivery queue full, dropping delivery",
				"delivery_id", qd.DeliveryID, "event_type", event.Type, "url", ep.URL)
		}
	}
	return nil
}

// DispatchEvent is a convenience method to dispatch an event with the given type and data.
func (d *Dispatcher) DispatchEvent(ctx context.Context, eventType string, data any) error {
	return d.Dispatch(ctx, NewEvent(eventType, data))
}

// GenerateSignature generates an HMAC-SHA256 signature for the payload.
func GenerateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies an HMAC-SHA256 signature.
func VerifySignature(payload []byte, signature, secret string) bool {
	expectedSig := GenerateSignature(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
