package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/declanlscott/printdesk-sub004/pkg/events"
)

const (
	// MaxEventsPerPublish bounds a single publish call.
	MaxEventsPerPublish = 5

	// MaxPublishBytes bounds the encoded request body.
	MaxPublishBytes = 240 * 1024
)

// PublishError reports a non-success response from the realtime endpoint.
// Publish does not retry; callers decide whether a failed publish matters.
type PublishError struct {
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("realtime: publish rejected with status %d: %s", e.StatusCode, e.Body)
}

// EventPublisher pushes event batches onto a channel over HTTP. Every call
// signs fresh publish credentials for the target channel.
type EventPublisher struct {
	endpoint  string
	signer    Signer
	principal Principal
	client    *http.Client
}

// NewEventPublisher builds a publisher for the given endpoint. A nil client
// means http.DefaultClient.
func NewEventPublisher(endpoint string, signer Signer, principal Principal, client *http.Client) *EventPublisher {
	if client == nil {
		client = http.DefaultClient
	}
	return &EventPublisher{
		endpoint:  endpoint,
		signer:    signer,
		principal: principal,
		client:    client,
	}
}

// publishBody is the wire shape of a publish request. Each event is itself a
// JSON-encoded string so the channel payload survives transport verbatim.
type publishBody struct {
	Channel string   `json:"channel"`
	Events  []string `json:"events"`
}

// Publish sends between 1 and MaxEventsPerPublish events to a channel. The
// whole batch is one request: it lands or fails as a unit.
func (p *EventPublisher) Publish(ctx context.Context, channel string, evs []events.Event) error {
	if len(evs) == 0 {
		return fmt.Errorf("realtime: publish requires at least one event")
	}
	if len(evs) > MaxEventsPerPublish {
		return fmt.Errorf("realtime: publish limited to %d events, got %d", MaxEventsPerPublish, len(evs))
	}

	body := publishBody{Channel: channel, Events: make([]string, 0, len(evs))}
	for _, ev := range evs {
		encoded, err := events.Encode(ev)
		if err != nil {
			return fmt.Errorf("realtime: encoding event for publish: %w", err)
		}
		body.Events = append(body.Events, string(encoded))
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("realtime: encoding publish body: %w", err)
	}
	if len(payload) > MaxPublishBytes {
		return fmt.Errorf("realtime: publish body is %d bytes, limit is %d", len(payload), MaxPublishBytes)
	}

	auth, err := p.signer.Sign(ctx, DirectionPublish, channel, p.principal)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("realtime: building publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Content-Encoding", "amz-1.0")
	for k, v := range auth {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("realtime: publish request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &PublishError{StatusCode: resp.StatusCode, Body: string(detail)}
	}
	return nil
}
