// Package llm talks to hosted completion APIs. A Chain tries an ordered list
// of (provider, model) attempts and returns the first non-empty answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gluk-w/codelive/internal/logging"
	"github.com/gluk-w/codelive/internal/metrics"
)

var ErrProviderUnavailable = errors.New("all completion providers failed")

// Request is a single-turn completion with a system instruction.
type Request struct {
	System string
	Prompt string
}

type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, req Request) (string, error)
}

// Completer is what callers depend on; Chain implements it.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Attempt struct {
	Provider Provider
	Model    string
}

type Chain struct {
	attempts []Attempt
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

func NewChain(m *metrics.Metrics, attempts ...Attempt) *Chain {
	return &Chain{attempts: attempts, metrics: m, log: logging.NewLogger("llm")}
}

// NewDefaultChain tries every primary model in order, then the secondary
// provider once.
func NewDefaultChain(m *metrics.Metrics, primary Provider, primaryModels []string, secondary Provider, secondaryModel string) *Chain {
	attempts := make([]Attempt, 0, len(primaryModels)+1)
	for _, model := range primaryModels {
		attempts = append(attempts, Attempt{Provider: primary, Model: model})
	}
	if secondary != nil {
		attempts = append(attempts, Attempt{Provider: secondary, Model: secondaryModel})
	}
	return NewChain(m, attempts...)
}

// Complete returns ErrProviderUnavailable when every attempt fails, also
// wrapping ErrRateLimited when at least one provider was throttled.
func (c *Chain) Complete(ctx context.Context, req Request) (string, error) {
	limited := false
	for _, a := range c.attempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := a.Provider.Complete(ctx, a.Model, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errors.New("empty response")
		}
		c.metrics.AIAttempt(a.Provider.Name(), a.Model, err == nil)
		if err != nil {
			c.log.Warnf("%s (%s) failed: %v", a.Provider.Name(), a.Model, err)
			limited = limited || errors.Is(err, ErrRateLimited)
			continue
		}
		c.log.Debugf("completion served by %s (%s)", a.Provider.Name(), a.Model)
		return text, nil
	}
	if limited {
		return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, ErrRateLimited)
	}
	return "", ErrProviderUnavailable
}
