// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/retry"
	"github.com/olegiv/postsync/internal/version"
)

// Delivery configuration constants
const (
	MaxAttempts    = 5                // Maximum number of delivery attempts
	InitialBackoff = 2 * time.Second  // Initial backoff delay
	MaxBackoff     = 1 * time.Minute  // Maximum backoff delay
	RequestTimeout = 30 * time.Second // HTTP request timeout
	MaxResponseLen = 10 * 1024        // Maximum response body to log (10KB)
)

// DefaultRetryPolicy spreads MaxAttempts deliveries over exponential backoff.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:    MaxAttempts - 1,
		InitialDelay:  InitialBackoff,
		BackoffFactor: 2,
		MaxDelay:      MaxBackoff,
	}
}

// DeliveryResult represents the result of a delivery attempt.
type DeliveryResult struct {
	Success      bool
	StatusCode   int
	ResponseBody string
	Error        error
	ShouldRetry  bool
}

// httpClient is the shared HTTP client with appropriate timeouts.
var httpClient = &http.Client{
	Timeout: RequestTimeout,
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	},
}

// processDelivery delivers a payload, retrying transient failures.
func (d *Dispatcher) processDelivery(ctx context.Context, delivery *QueuedDelivery) {
	policy := d.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		d.logger.Info("webhook delivery scheduled for retry",
			"delivery_id", delivery.DeliveryID,
			"url", delivery.Endpoint.URL,
			"attempt", attempt,
			"backoff", delay.String(),
			"error", err)
	}

	var last DeliveryResult
	err := retry.Run(ctx, policy, func(ctx context.Context) error {
		last = d.attemptDelivery(ctx, delivery)
		if last.Success {
			return nil
		}
		if last.ShouldRetry {
			return errkind.New(errkind.Transient, "deliver webhook", last.Error)
		}
		return errkind.New(errkind.Permanent, "deliver webhook", last.Error)
	})

	if err != nil {
		d.logger.Warn("webhook delivery failed",
			"delivery_id", delivery.DeliveryID,
			"url", delivery.Endpoint.URL,
			"event", delivery.Event,
			"status_code", last.StatusCode,
			"reason", err)
		return
	}
	d.logger.Info("webhook delivered successfully",
		"delivery_id", delivery.DeliveryID,
		"url", delivery.Endpoint.URL,
		"status_code", last.StatusCode)
}

// attemptDelivery performs the actual HTTP POST request.
func (d *Dispatcher) attemptDelivery(ctx context.Context, delivery *QueuedDelivery) DeliveryResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.Endpoint.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return DeliveryResult{
			Success:     false,
			Error:       fmt.Errorf("failed to create request: %w", err),
			ShouldRetry: false, // Bad URL, don't retry
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "postsync/"+version.Get().Version)
	if delivery.Endpoint.Secret != "" {
		req.Header.Set("X-Webhook-Signature", GenerateSignature(delivery.Payload, delivery.Endpoint.Secret))
	}
	req.Header.Set("X-Webhook-Event", delivery.Event)
	req.Header.Set("X-Webhook-Delivery-ID", delivery.DeliveryID)
	for key, value := range delivery.Endpoint.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return DeliveryResult{
			Success:     false,
			Error:       fmt.Errorf("request failed: %w", err),
			ShouldRetry: ctx.Err() == nil, // Network error, retry
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseLen))
	responseBody := string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return DeliveryResult{
			Success:      true,
			StatusCode:   resp.StatusCode,
			ResponseBody: responseBody,
		}
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// Client error - don't retry (except for 408 Request Timeout and 429 Too Many Requests)
		shouldRetry := resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests
		return DeliveryResult{
			Success:      false,
			StatusCode:   resp.StatusCode,
			ResponseBody: responseBody,
			Error:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			ShouldRetry:  shouldRetry,
		}
	}

	// Server error (5xx) - retry
	return DeliveryResult{
		Success:      false,
		StatusCode:   resp.StatusCode,
		ResponseBody: responseBody,
		Error:        fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		ShouldRetry:  true,
	}
}
