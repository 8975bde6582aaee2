package watcher

import (
	"context"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chainalerts/internal/chains"
	"chainalerts/internal/evm"
	"chainalerts/internal/observability"
	"chainalerts/internal/service"
	"chainalerts/internal/transfer"
)

const defaultMaxBlockSpan = 2000

// InteractionWatcher polls one chain's head and alerts on ERC-20 transfers
// inside transactions addressed to the interaction contract. It is the
// active counterpart to the webhook handlers: same pipeline, but the
// candidates come from scanning new blocks instead of a provider push.
type InteractionWatcher struct {
	Chain        chains.Chain
	Interaction  string
	Readers      evm.ReaderSource
	Pipeline     *service.AlertPipeline
	MaxBlockSpan uint64
	Metrics      *observability.Metrics
	Logger       *zap.Logger

	running   atomic.Bool
	lastBlock uint64
	started   bool
}

// Tick scans blocks since the previous tick. It never re-enters: a tick
// arriving while the previous one is still in flight is skipped. The first
// tick only records the current head as the baseline.
func (w *InteractionWatcher) Tick(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.debug("previous tick still running, skipping")
		return
	}
	defer w.running.Store(false)

	reader, err := w.Readers.Reader(ctx, w.Chain.Key)
	if err != nil {
		w.warn("no rpc reader", zap.Error(err))
		return
	}

	head, err := reader.BlockNumber(ctx)
	if err != nil {
		w.rpcError()
		w.warn("head fetch failed", zap.Error(err))
		return
	}

	if !w.started {
		w.started = true
		w.lastBlock = head
		w.info("watcher started", zap.Uint64("from_block", head))
		return
	}
	if head <= w.lastBlock {
		return
	}

	from := w.lastBlock + 1
	to := head
	if span := w.maxSpan(); to-from+1 > span {
		to = from + span - 1
	}

	if err := w.scanRange(ctx, reader, from, to); err != nil {
		w.warn("scan aborted, range will be retried",
			zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
		return
	}

	// Advance only after the whole range was handled; a crash mid-range
	// re-scans it and the dedupe store swallows the repeats.
	w.lastBlock = to
	if w.Metrics != nil {
		w.Metrics.LastProcessedBlock.WithLabelValues(string(w.Chain.Key)).Set(float64(to))
	}
}

func (w *InteractionWatcher) scanRange(ctx context.Context, reader evm.Reader, from, to uint64) error {
	interaction := strings.ToLower(w.Interaction)
	for n := from; n <= to; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		block, err := reader.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			w.rpcError()
			return err
		}
		if w.Metrics != nil {
			w.Metrics.BlocksScanned.WithLabelValues(string(w.Chain.Key)).Inc()
		}
		if block == nil {
			continue
		}
		at := time.Unix(int64(block.Time()), 0)
		for _, tx := range block.Transactions() {
			if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), interaction) {
				continue
			}
			receipt, err := reader.TransactionReceipt(ctx, tx.Hash())
			if err != nil {
				w.rpcError()
				return err
			}
			events := transfer.FromReceipt(receipt)
			if len(events) == 0 {
				continue
			}
			sent := w.Pipeline.Process(ctx, w.Chain, interaction, at, events)
			w.info("interaction transaction processed",
				zap.String("tx_hash", strings.ToLower(tx.Hash().Hex())),
				zap.Uint64("block", n),
				zap.Int("transfers", len(events)),
				zap.Int("sent", sent))
		}
	}
	return nil
}

func (w *InteractionWatcher) maxSpan() uint64 {
	if w.MaxBlockSpan > 0 {
		return w.MaxBlockSpan
	}
	return defaultMaxBlockSpan
}

func (w *InteractionWatcher) rpcError() {
	if w.Metrics != nil {
		w.Metrics.RPCErrors.WithLabelValues(string(w.Chain.Key)).Inc()
	}
}

func (w *InteractionWatcher) debug(msg string, fields ...zap.Field) {
	if w.Logger != nil {
		w.Logger.Debug(msg, fields...)
	}
}

func (w *InteractionWatcher) info(msg string, fields ...zap.Field) {
	if w.Logger != nil {
		w.Logger.Info(msg, fields...)
	}
}

func (w *InteractionWatcher) warn(msg string, fields ...zap.Field) {
	if w.Logger != nil {
		w.Logger.Warn(msg, fields...)
	}
}
