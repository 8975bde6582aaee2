// Package evm wraps JSON-RPC access to the supported networks.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"chainalerts/internal/chains"
)

// Reader is the subset of the RPC client the pipelines need. Satisfied by
// *ethclient.Client.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ReaderSource hands out a Reader for a chain key.
type ReaderSource interface {
	Reader(ctx context.Context, key chains.Key) (Reader, error)
}

// Clients lazily dials one RPC client per chain and reuses it. Every call
// through the returned Reader carries a bounded timeout.
type Clients struct {
	registry *chains.Registry
	timeout  time.Duration

	mu    sync.Mutex
	conns map[chains.Key]Reader
}

func NewClients(registry *chains.Registry, timeout time.Duration) *Clients {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Clients{
		registry: registry,
		timeout:  timeout,
		conns:    make(map[chains.Key]Reader),
	}
}

func (c *Clients) Reader(ctx context.Context, key chains.Key) (Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[key]; ok {
		return conn, nil
	}

	chain, ok := c.registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("unknown chain %q", key)
	}
	if chain.RPC == "" {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %q", key)
	}

	client, err := ethclient.DialContext(ctx, chain.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", key, err)
	}

	conn := boundedReader{inner: client, timeout: c.timeout}
	c.conns[key] = conn
	return conn, nil
}

// boundedReader applies a per-call deadline so a stalled RPC endpoint cannot
// hang a webhook request or a polling tick.
type boundedReader struct {
	inner   Reader
	timeout time.Duration
}

func (r boundedReader) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r boundedReader) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.inner.BlockNumber(ctx)
}

func (r boundedReader) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.inner.BlockByNumber(ctx, number)
}

func (r boundedReader) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.inner.TransactionByHash(ctx, hash)
}

func (r boundedReader) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.inner.TransactionReceipt(ctx, txHash)
}

func (r boundedReader) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.inner.CallContract(ctx, msg, blockNumber)
}
