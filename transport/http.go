// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/fluxtrack/core"
	"github.com/sony/gobreaker"
)

var _ Transport = (*HTTP)(nil)

// Config holds HTTP transport configuration.
type Config struct {
	// Host is the ingestion API host, e.g. "api.mixpanel.com".
	Host string
	// Protocol is "https" or "http".
	Protocol string
	// BasePath is prepended to endpoint paths (normally empty).
	BasePath string
	// Secret enables basic-auth with the project API secret.
	Secret string
	// Geolocate asks the endpoint to derive geo properties from the caller IP.
	Geolocate bool
	// Verbose requests structured JSON responses instead of the bare "1"/"0"
	// success flag.
	Verbose bool
	// Timeout bounds a single request.
	Timeout time.Duration
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker; BreakerReset is how long it stays open.
	BreakerThreshold int
	BreakerReset     time.Duration
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		Host:             "api.mixpanel.com",
		Protocol:         "https",
		Timeout:          10 * time.Second,
		BreakerThreshold: 5,
		BreakerReset:     60 * time.Second,
	}
}

// HTTP delivers batches to the remote ingestion API. The wire envelope is the
// documented one: the batch as a JSON array, base64-encoded, sent as a
// form-encoded "data" field. A per-endpoint circuit breaker short-circuits
// sends while the endpoint is unhealthy; a rejected send is a transient
// outcome like any other network failure.
type HTTP struct {
	cfg      Config
	client   *http.Client
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewHTTP creates an HTTP transport.
func NewHTTP(cfg Config, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "https"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	// A non-positive threshold would trip the breaker on the first transient
	// failure, so zero-valued configs fall back to the default.
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultConfig().BreakerThreshold
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, path := range []string{trackPath, engagePath, groupsPath} {
		breakers[path] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        path,
			MaxRequests: 1,
			Timeout:     cfg.BreakerReset,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerThreshold)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("transport circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	return &HTTP{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		breakers: breakers,
		logger:   logger,
	}
}

// Send performs exactly one delivery attempt for the batch.
func (t *HTTP) Send(ctx context.Context, batch core.Batch) core.Outcome {
	if len(batch) == 0 {
		return core.OutcomeDelivered()
	}

	path := endpointFor(batch.Kind())
	breaker := t.breakers[path]

	result, err := breaker.Execute(func() (interface{}, error) {
		outcome := t.send(ctx, path, batch)
		if outcome.Status == core.Transient {
			// Only endpoint-health failures count against the breaker;
			// payload rejections say nothing about availability.
			return outcome, outcome.Err
		}
		return outcome, nil
	})

	if result == nil {
		// Breaker rejected the call without attempting it.
		return core.OutcomeTransient(fmt.Errorf("circuit breaker: %w", err))
	}
	return result.(core.Outcome)
}

// send builds the envelope, performs the request and classifies the response.
func (t *HTTP) send(ctx context.Context, path string, batch core.Batch) core.Outcome {
	envelope, err := encodeEnvelope(batch)
	if err != nil {
		return core.OutcomePermanent(fmt.Errorf("failed to encode batch: %w", err))
	}

	u := url.URL{
		Scheme: t.cfg.Protocol,
		Host:   t.cfg.Host,
		Path:   t.cfg.BasePath + path,
	}
	query := u.Query()
	query.Set("ip", boolFlag(t.cfg.Geolocate))
	query.Set("verbose", boolFlag(t.cfg.Verbose))
	u.RawQuery = query.Encode()

	form := url.Values{"data": {envelope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return core.OutcomePermanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "fluxtrack/1.0")
	if t.cfg.Secret != "" {
		req.SetBasicAuth(t.cfg.Secret, "")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Timeouts, connection resets, DNS failures: all retryable.
		return core.OutcomeTransient(fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	return t.classify(resp, path, len(batch))
}

// classify maps the HTTP response onto a delivery outcome.
func (t *HTTP) classify(resp *http.Response, path string, count int) core.Outcome {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return core.OutcomeTransient(fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return t.classifyAccepted(body, path, count)

	case resp.StatusCode == http.StatusTooManyRequests:
		outcome := core.OutcomeTransient(fmt.Errorf("endpoint rate limited (429)"))
		if after, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && after > 0 {
			outcome.RetryAfterSeconds = after
		}
		return outcome

	case resp.StatusCode >= 500:
		return core.OutcomeTransient(fmt.Errorf("server error: status %d", resp.StatusCode))

	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return core.OutcomePermanent(fmt.Errorf("payload too large (413)"))

	default:
		// Remaining 4xx: validation or auth failure; retrying cannot help.
		return core.OutcomePermanent(fmt.Errorf("endpoint rejected batch: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body))))
	}
}

// classifyAccepted inspects the application-level success flag carried in a
// 2xx response body: "1" means accepted, "0" means rejected. In verbose mode
// the body is {"status":1|0,"error":"..."} instead.
func (t *HTTP) classifyAccepted(body []byte, path string, count int) core.Outcome {
	if t.cfg.Verbose {
		var vr struct {
			Status int    `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(body, &vr); err != nil {
			return core.OutcomePermanent(fmt.Errorf("unexpected response body: %s", string(body)))
		}
		if vr.Status != 1 {
			return core.OutcomePermanent(fmt.Errorf("endpoint rejected batch: %s", vr.Error))
		}
	} else if strings.TrimSpace(string(body)) != "1" {
		return core.OutcomePermanent(fmt.Errorf("endpoint rejected batch: %s", strings.TrimSpace(string(body))))
	}

	t.logger.Debug("batch delivered",
		slog.String("endpoint", path),
		slog.Int("items", count))
	return core.OutcomeDelivered()
}

// encodeEnvelope serializes the batch payloads as a base64-encoded JSON array.
func encodeEnvelope(batch core.Batch) (string, error) {
	raw := make([]json.RawMessage, len(batch))
	for i, item := range batch {
		if !json.Valid(item.Payload) {
			return "", fmt.Errorf("item %s payload is not valid JSON", item.ID)
		}
		raw[i] = item.Payload
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
