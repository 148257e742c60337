package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
)

const userAgent = "mediaflow/0.1.0"

// ErrUnsupportedScheme is returned for callback URLs that are neither HTTP
// nor AMQP.
var ErrUnsupportedScheme = errors.New("unsupported callback scheme")

// Service delivers a job's terminal state.
type Service interface {
	Deliver(ctx context.Context, job *jobs.Job) error
}

// Publisher sends one AMQP message. The default dials per delivery.
type Publisher func(ctx context.Context, target Target, msg amqp.Publishing) error

// Option customises the dispatcher.
type Option func(*dispatcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithPublisher overrides AMQP publishing.
func WithPublisher(p Publisher) Option {
	return func(d *dispatcher) {
		if p != nil {
			d.publish = p
		}
	}
}

// WithBackoff overrides the delay between attempts.
func WithBackoff(delay time.Duration) Option {
	return func(d *dispatcher) {
		d.backoff = delay
	}
}

// NewService builds the dispatcher from cfg.Callback.
func NewService(cfg *config.Config, logger *slog.Logger, opts ...Option) Service {
	timeout := time.Duration(cfg.Callback.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.Callback.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	d := &dispatcher{
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		attempts: attempts,
		backoff:  time.Second,
		logger:   logging.NewComponentLogger(logger, "callback"),
	}
	d.publish = d.dialAndPublish
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type dispatcher struct {
	client   *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	publish  Publisher
	logger   *slog.Logger
}

// Body renders the callback payload for job.
func Body(job *jobs.Job) ([]byte, error) {
	if job.Standalone() {
		return json.Marshal(jobs.NewSingleStageView(job))
	}
	return json.Marshal(jobs.NewView(job))
}

func (d *dispatcher) Deliver(ctx context.Context, job *jobs.Job) error {
	target := strings.TrimSpace(job.Input.CallbackURL)
	if target == "" {
		return nil
	}
	body, err := Body(job)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse callback url: %w", err)
	}

	var send func(context.Context) error
	switch u.Scheme {
	case "http", "https":
		send = func(ctx context.Context) error { return d.post(ctx, target, body) }
	case "amqp", "amqps":
		amqpTarget, err := ParseAMQPTarget(target)
		if err != nil {
			return err
		}
		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Type:         "job." + string(job.Status()),
			Body:         body,
		}
		send = func(ctx context.Context) error { return d.publish(ctx, amqpTarget, msg) }
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	logger := logging.WithContext(ctx, d.logger)
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if lastErr = send(ctx); lastErr == nil {
			logger.Info("callback delivered",
				logging.String(logging.FieldEventType, "callback_delivered"),
				logging.String("scheme", u.Scheme),
				logging.Int("attempt", attempt),
			)
			return nil
		}
		logger.Debug("callback attempt failed", logging.Int("attempt", attempt), logging.Error(lastErr))
		if attempt == d.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("callback failed after %d attempts: %w", d.attempts, lastErr)
}

func (d *dispatcher) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("callback returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
