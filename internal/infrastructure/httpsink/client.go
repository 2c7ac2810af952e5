package httpsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/etiennerc-wobz/payement-item-association/internal/domain/association"

	"github.com/sony/gobreaker"
)

// ErrRejected is what the breaker sees for a non-201 answer.
var ErrRejected = errors.New("association rejected by downstream")

type BreakerConfig struct {
	Enabled             bool
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

type Config struct {
	BaseURL string
	Route   string
	Timeout time.Duration
	Breaker BreakerConfig
}

// Client posts associations to the downstream service. Only 201 Created
// counts as acceptance.
type Client struct {
	http    *http.Client
	url     string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Route, "/"),
		logger: logger,
	}

	if cfg.Breaker.Enabled {
		failures := cfg.Breaker.ConsecutiveFailures
		if failures == 0 {
			failures = 5
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "downstream-association",
			MaxRequests: 1,
			Timeout:     cfg.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("downstream circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}

	return c
}

func (c *Client) URL() string {
	return c.url
}

// Submit returns (true, nil) on 201, (false, nil) on any other status and
// (false, err) on transport errors or when the breaker is open.
func (c *Client) Submit(ctx context.Context, a association.Association) (bool, error) {
	if c.breaker == nil {
		return c.post(ctx, a)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		accepted, err := c.post(ctx, a)
		if err != nil {
			return nil, err
		}
		if !accepted {
			return nil, ErrRejected
		}
		return nil, nil
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrRejected):
		return false, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false, fmt.Errorf("downstream unavailable (circuit breaker): %w", err)
	default:
		return false, err
	}
}

func (c *Client) post(ctx context.Context, a association.Association) (bool, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("marshal association: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("post association: %w", err)
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusCreated {
		c.logger.Warn("downstream did not create association",
			"transaction_id", a.ID.String(),
			"status", resp.StatusCode,
		)
		return false, nil
	}

	return true, nil
}
