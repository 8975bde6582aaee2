package evm

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"chainalerts/internal/chains"
)

// Sentinels used when a metadata read fails. Partial metadata is preferable
// to a lost alert.
const (
	SymbolUnknown   = "UNKNOWN"
	NameUnknown     = "Unknown Token"
	DecimalsDefault = 18
)

const erc20ABIJSON = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]}
]`

var erc20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// TokenMeta is the display metadata for a token contract.
type TokenMeta struct {
	Symbol   string
	Name     string
	Decimals int
}

// MetaResolver resolves token display metadata.
type MetaResolver interface {
	Resolve(ctx context.Context, chain chains.Key, token string) TokenMeta
}

// MetaCache resolves ERC-20 metadata through RPC and caches the result per
// (chain, lowercased address). Entries are written once and never evicted.
// Two concurrent misses for the same key may both fetch; the second write is
// identical, so the race is harmless.
type MetaCache struct {
	Source ReaderSource
	Logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]TokenMeta
}

func NewMetaCache(source ReaderSource, logger *zap.Logger) *MetaCache {
	return &MetaCache{
		Source: source,
		Logger: logger,
		cache:  make(map[string]TokenMeta),
	}
}

// Resolve fetches symbol, name and decimals independently and in parallel.
// Any individual failure degrades to its sentinel.
func (m *MetaCache) Resolve(ctx context.Context, chain chains.Key, token string) TokenMeta {
	key := string(chain) + ":" + strings.ToLower(token)

	m.mu.RLock()
	meta, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return meta
	}

	meta = m.fetch(ctx, chain, token)

	m.mu.Lock()
	m.cache[key] = meta
	m.mu.Unlock()
	return meta
}

func (m *MetaCache) fetch(ctx context.Context, chain chains.Key, token string) TokenMeta {
	meta := TokenMeta{Symbol: SymbolUnknown, Name: NameUnknown, Decimals: DecimalsDefault}

	reader, err := m.Source.Reader(ctx, chain)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Warn("token meta: no rpc reader",
				zap.String("chain", string(chain)),
				zap.String("token", token),
				zap.Error(err))
		}
		return meta
	}

	addr := common.HexToAddress(token)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		var s string
		if err := m.call(ctx, reader, addr, "symbol", &s); err == nil && s != "" {
			meta.Symbol = s
		}
	}()
	go func() {
		defer wg.Done()
		var s string
		if err := m.call(ctx, reader, addr, "name", &s); err == nil && s != "" {
			meta.Name = s
		}
	}()
	go func() {
		defer wg.Done()
		var d uint8
		if err := m.call(ctx, reader, addr, "decimals", &d); err == nil {
			meta.Decimals = int(d)
		}
	}()
	wg.Wait()
	return meta
}

func (m *MetaCache) call(ctx context.Context, reader Reader, addr common.Address, method string, out any) error {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return err
	}
	raw, err := reader.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return err
	}
	return erc20ABI.UnpackIntoInterface(out, method, raw)
}

// FormatUnits renders a raw integer token amount as a human-readable decimal
// string using exact integer arithmetic. The fractional part is zero-padded
// to the token's decimals, then trailing zeros are stripped; a zero remainder
// yields no fractional part at all.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	if decimals <= 0 {
		return value.String()
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(value, divisor, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := frac.String()
	for len(fracStr) < decimals {
		fracStr = "0" + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	return whole.String() + "." + fracStr
}
