// Package service runs the shared alert pipeline both entry points feed:
// dedupe, threshold evaluation, metadata enrichment and dispatch.
package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"chainalerts/internal/alert"
	"chainalerts/internal/chains"
	"chainalerts/internal/dedupe"
	"chainalerts/internal/evm"
	"chainalerts/internal/observability"
	"chainalerts/internal/threshold"
	"chainalerts/internal/transfer"
)

// AlertPipeline filters canonical transfer events and dispatches alerts.
// Instances are safe for concurrent use by webhook handlers and watchers.
type AlertPipeline struct {
	Registry   *chains.Registry
	Meta       evm.MetaResolver
	Dedupe     *dedupe.Store
	Thresholds *threshold.Evaluator
	Dispatcher *alert.Dispatcher

	// Limiter caps dispatch volume when set. Polling watchers each carry
	// their own; webhook pipelines leave it nil.
	Limiter *alert.RateLimiter

	// Labels overrides the display symbol per lowercased token address.
	Labels map[string]string

	Metrics   *observability.Metrics
	Logger    *zap.Logger
	DedupeTTL time.Duration

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// Process runs the pipeline over one transaction's transfers. It returns how
// many alerts were delivered. A single failed delivery never aborts the
// batch; the dedupe claim for it is released so a later retry can alert.
func (p *AlertPipeline) Process(ctx context.Context, chain chains.Chain, interaction string, at time.Time, events []transfer.Event) int {
	if len(events) == 0 {
		return 0
	}
	if p.Metrics != nil {
		p.Metrics.TransfersExtracted.Add(float64(len(events)))
	}
	if at.IsZero() {
		at = p.now()
	}

	sent := 0
	for _, ev := range events {
		symbol, decimals := p.resolveMeta(ctx, chain.Key, ev)
		amount := evm.FormatUnits(ev.Value, decimals)

		if !p.Thresholds.Passes(ev.Token, symbol, amount) {
			p.debug("transfer below threshold",
				zap.String("token", ev.Token),
				zap.String("symbol", symbol),
				zap.String("amount", amount))
			continue
		}

		key := dedupe.Key(string(chain.Key), ev.TxHash, ev.LogIndex, ev.Token, ev.To)
		if !p.Dedupe.TryClaim(ctx, key, p.ttl()) {
			if p.Metrics != nil {
				p.Metrics.AlertsDeduped.Inc()
			}
			p.debug("duplicate transfer skipped", zap.String("key", key))
			continue
		}

		if p.Limiter != nil && !p.Limiter.Allow() {
			// Intentional drop: the claim stays so the candidate is not
			// reprocessed later.
			if p.Metrics != nil {
				p.Metrics.AlertsRateLimited.Inc()
			}
			p.warn("rate limit reached, dropping alert", zap.String("key", key))
			continue
		}

		msg := alert.Message{
			ChainKey:    string(chain.Key),
			ChainName:   chain.Name,
			TokenLabel:  p.label(ev.Token, symbol),
			TokenAddr:   ev.Token,
			Amount:      amount,
			Symbol:      symbol,
			From:        ev.From,
			To:          ev.To,
			TxHash:      ev.TxHash,
			ExplorerURL: chain.ExplorerTxURL(ev.TxHash),
			Interaction: interaction,
			Timestamp:   at,
		}
		if err := p.Dispatcher.Dispatch(ctx, msg); err != nil {
			if p.Metrics != nil {
				p.Metrics.AlertsFailed.Inc()
			}
			p.Dedupe.Release(ctx, key)
			p.warn("alert delivery failed", zap.String("key", key), zap.Error(err))
			continue
		}

		sent++
		if p.Metrics != nil {
			p.Metrics.AlertsSent.WithLabelValues(string(chain.Key)).Inc()
		}
		p.info("alert sent",
			zap.String("chain", string(chain.Key)),
			zap.String("tx", ev.TxHash),
			zap.String("token", ev.Token),
			zap.String("amount", amount))
	}
	return sent
}

// resolveMeta prefers symbol/decimals already supplied by the indexing
// payload; anything missing comes from the cached RPC resolver.
func (p *AlertPipeline) resolveMeta(ctx context.Context, chain chains.Key, ev transfer.Event) (string, int) {
	if ev.Symbol != "" && ev.Decimals != nil {
		return ev.Symbol, *ev.Decimals
	}
	meta := p.Meta.Resolve(ctx, chain, ev.Token)
	symbol := ev.Symbol
	if symbol == "" {
		symbol = meta.Symbol
	}
	decimals := meta.Decimals
	if ev.Decimals != nil {
		decimals = *ev.Decimals
	}
	return symbol, decimals
}

func (p *AlertPipeline) label(token, symbol string) string {
	if l, ok := p.Labels[strings.ToLower(token)]; ok && l != "" {
		return l
	}
	return symbol
}

func (p *AlertPipeline) ttl() time.Duration {
	if p.DedupeTTL > 0 {
		return p.DedupeTTL
	}
	return 7 * 24 * time.Hour
}

func (p *AlertPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *AlertPipeline) debug(msg string, fields ...zap.Field) {
	if p.Logger != nil {
		p.Logger.Debug(msg, fields...)
	}
}

func (p *AlertPipeline) info(msg string, fields ...zap.Field) {
	if p.Logger != nil {
		p.Logger.Info(msg, fields...)
	}
}

func (p *AlertPipeline) warn(msg string, fields ...zap.Field) {
	if p.Logger != nil {
		p.Logger.Warn(msg, fields...)
	}
}
