// Package webhook posts signed lock change notifications to an external URL.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marcus/assetlock/internal/models"
)

const (
	userAgent       = "assetlock-webhook/1"
	timestampHeader = "X-Assetlock-Timestamp"
	signatureHeader = "X-Assetlock-Signature"

	defaultTimeout = 10 * time.Second
	queueSize      = 256
	maxBatch       = 50
)

// Payload is the top-level webhook POST body.
type Payload struct {
	Timestamp string         `json:"timestamp"`
	Events    []EventPayload `json:"events"`
}

// EventPayload is one lock mutation within a webhook payload.
type EventPayload struct {
	Origin    string `json:"origin"`
	Branch    string `json:"branch"`
	FilePath  string `json:"file_path"`
	Holder    string `json:"holder,omitempty"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// Event is a lock mutation queued for delivery.
type Event struct {
	Scope  models.Scope
	Path   string
	Holder string
	Action models.LockAction
	At     time.Time
}

// BuildPayload converts queued events into a webhook payload.
func BuildPayload(events []Event) Payload {
	p := Payload{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Events:    make([]EventPayload, len(events)),
	}
	for i, e := range events {
		p.Events[i] = EventPayload{
			Origin:    e.Scope.Origin,
			Branch:    e.Scope.Branch,
			FilePath:  e.Path,
			Holder:    e.Holder,
			Action:    string(e.Action),
			Timestamp: e.At.UTC().Format(time.RFC3339),
		}
	}
	return p
}

// Sign returns the hex HMAC-SHA256 of "timestamp.body".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header carries the signature of body for secret.
func Verify(secret, timestamp, header string, body []byte) bool {
	want := "sha256=" + Sign(secret, timestamp, body)
	return hmac.Equal([]byte(want), []byte(header))
}

// Dispatch performs a synchronous HTTP POST to the webhook URL.
// Returns nil on success (2xx status).
func Dispatch(ctx context.Context, client *http.Client, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	unixTS := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(timestampHeader, unixTS)
	if secret != "" {
		req.Header.Set(signatureHeader, "sha256="+Sign(secret, unixTS, body))
	}

	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Dispatcher delivers events in the background so request handlers never
// wait on the receiver. Events queued while a POST is in flight are batched
// into the next payload. When the queue is full new events are dropped.
type Dispatcher struct {
	url    string
	secret string
	client *http.Client
	log    *slog.Logger

	queue chan Event
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
	failed  int
	sent    int
}

// NewDispatcher starts a dispatcher posting to url.
func NewDispatcher(url, secret string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: defaultTimeout},
		log:    logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Enqueue queues e for delivery without blocking.
func (d *Dispatcher) Enqueue(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped++
		d.log.Warn("webhook queue full, dropping event", "path", e.Path, "action", e.Action)
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() (sent, failed, dropped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent, d.failed, d.dropped
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.queue {
		batch := []Event{e}
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-d.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		d.deliver(batch)
	}
}

func (d *Dispatcher) deliver(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	err := Dispatch(ctx, d.client, d.url, d.secret, BuildPayload(batch))

	d.mu.Lock()
	if err != nil {
		d.failed += len(batch)
	} else {
		d.sent += len(batch)
	}
	d.mu.Unlock()

	if err != nil {
		d.log.Warn("webhook delivery failed", "events", len(batch), "err", err)
		return
	}
	d.log.Debug("webhook delivered", "events", len(batch))
}
