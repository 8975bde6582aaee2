// Package alert formats and delivers alert messages with retry and rate
// limiting.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy is the retry schedule for one delivery attempt series.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultPolicy matches the configured defaults: 4 attempts, 500ms doubling
// up to 8s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, Multiplier: 2}
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Message carries everything the fixed alert layout needs.
type Message struct {
	ChainKey    string
	ChainName   string
	TokenLabel  string
	TokenAddr   string
	Amount      string
	Symbol      string
	From        string
	To          string
	TxHash      string
	ExplorerURL string
	Interaction string
	Timestamp   time.Time
}

// Format renders the multi-line alert text.
func (m Message) Format() string {
	var b strings.Builder
	b.WriteString("🔔 Interaction + ERC20 Transfer\n")
	fmt.Fprintf(&b, "Chain: %s\n", m.ChainName)
	fmt.Fprintf(&b, "Token: %s (%s)\n", m.TokenLabel, m.TokenAddr)
	amount := m.Amount
	if m.Symbol != "" {
		amount += " " + m.Symbol
	}
	fmt.Fprintf(&b, "Amount: %s\n", amount)
	fmt.Fprintf(&b, "From: %s\n", m.From)
	fmt.Fprintf(&b, "To: %s\n", m.To)
	fmt.Fprintf(&b, "Interaction: %s\n", m.Interaction)
	fmt.Fprintf(&b, "Tx: %s\n", m.ExplorerURL)
	fmt.Fprintf(&b, "Time: %s", m.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}

// Dispatcher sends formatted alerts through a Sender, retrying with
// exponential backoff. Rate limiting happens upstream, in the pipeline,
// because a rate-limited candidate keeps its dedupe claim while a failed
// delivery releases it.
type Dispatcher struct {
	Sender Sender
	Policy Policy
	Logger *zap.Logger
}

// Dispatch delivers one alert. Exhausting the retry budget returns the last
// delivery error; the caller logs it and moves on to the next transfer.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	text := msg.Format()
	p := d.Policy.normalize()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := d.Sender.Send(ctx, text); err != nil {
			if d.Logger != nil {
				d.Logger.Warn("alert delivery attempt failed",
					zap.Int("attempt", attempt),
					zap.String("tx", msg.TxHash),
					zap.Error(err))
			}
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("deliver alert for %s: %w", msg.TxHash, err)
	}
	return nil
}
