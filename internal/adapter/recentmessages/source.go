// Package recentmessages fetches a channel's recent chat history from a
// recent-messages style HTTP API.
package recentmessages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pscheid92/chatrelay/internal/adapter/metrics"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/irc"
	"github.com/pscheid92/chatrelay/internal/platform/retry"
	"github.com/pscheid92/chatrelay/internal/platform/version"
	"github.com/sony/gobreaker"
)

const (
	DefaultBaseURL = "https://recent-messages.robotty.de/api/v2/recent-messages"
	DefaultLimit   = 500

	requestTimeout   = 10 * time.Second
	maxResponseBytes = 8 << 20
	breakerName      = "recent_messages"
)

var _ domain.BackfillSource = (*Source)(nil)

type response struct {
	Messages  []string `json:"messages"`
	Error     *string  `json:"error"`
	ErrorCode *string  `json:"error_code"`
}

// StatusError is a non-200 answer from the API.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("recent-messages returned status %d", e.StatusCode)
}

type Source struct {
	baseURL string
	limit   int
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	policy  retry.Policy
	metrics *metrics.BackfillMetrics
}

type Option func(*Source)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

func WithLimit(limit int) Option {
	return func(s *Source) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Source) { s.policy = p }
}

func NewSource(baseURL string, m *metrics.BackfillMetrics, opts ...Option) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	s := &Source{
		baseURL: baseURL,
		limit:   DefaultLimit,
		client:  &http.Client{Timeout: requestTimeout},
		policy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   250 * time.Millisecond,
			MaxBackoff:       2 * time.Second,
			RateLimitBackoff: 2 * time.Second,
		},
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			m.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return s
}

// Fetch returns the channel's recent raw lines, oldest first.
func (s *Source) Fetch(ctx context.Context, channel string) ([]string, error) {
	channel = irc.NormalizeChannel(channel)
	if channel == "" {
		return nil, domain.ErrInvalidChannel
	}

	start := time.Now()
	lines, err := retry.Do(ctx, s.policy, classify, func() ([]string, error) {
		res, err := s.breaker.Execute(func() (any, error) {
			return s.get(ctx, channel)
		})
		if err != nil {
			return nil, err
		}
		return res.([]string), nil
	})
	s.metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.Fetches.WithLabelValues(resultLabel(err)).Inc()
		return nil, fmt.Errorf("failed to fetch recent messages for %s: %w", channel, err)
	}

	s.metrics.Fetches.WithLabelValues("ok").Inc()
	return lines, nil
}

// Check fails while the breaker is open, so readiness can report backfill
// as degraded. A half-open breaker passes: the next fetch decides.
func (s *Source) Check(context.Context) error {
	if st := s.breaker.State(); st == gobreaker.StateOpen {
		return fmt.Errorf("recent-messages circuit %s", st)
	}
	return nil
}

func (s *Source) get(ctx context.Context, channel string) ([]string, error) {
	u := s.baseURL + "/" + url.PathEscape(channel) + "?limit=" + strconv.Itoa(s.limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Error != nil && *body.Error != "" {
		code := ""
		if body.ErrorCode != nil {
			code = *body.ErrorCode
		}
		slog.DebugContext(ctx, "Recent messages reported an error", "channel", channel, "error", *body.Error, "error_code", code)
	}

	if body.Messages == nil {
		return []string{}, nil
	}
	return body.Messages, nil
}

func classify(err error) retry.Action {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return retry.Stop
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Stop
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return retry.After
		case statusErr.StatusCode >= 500:
			return retry.Retry
		default:
			return retry.Stop
		}
	}
	return retry.Retry
}

func isClientError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
		statusErr.StatusCode != http.StatusTooManyRequests
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case isClientError(err):
		return "client_error"
	default:
		return "error"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
