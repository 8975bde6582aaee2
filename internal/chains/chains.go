// Package chains maps provider-specific network identifiers onto the fixed
// set of networks this service understands.
package chains

import (
	"strconv"
	"strings"
)

// Key is the internal short identifier for a supported network. It is
// distinct from the numeric chain ID and from provider network names.
type Key string

const (
	Eth        Key = "eth"
	BSC        Key = "bsc"
	BSCTestnet Key = "bsc_testnet"
	Base       Key = "base"
	Arbitrum   Key = "arbitrum"
)

// Chain describes one supported network. Constructed once at startup and
// never mutated afterwards.
type Chain struct {
	Key        Key
	Name       string
	RPC        string
	ExplorerTx string
}

// ExplorerTxURL returns the explorer link for a transaction hash.
func (c Chain) ExplorerTxURL(txHash string) string {
	return c.ExplorerTx + txHash
}

var defs = map[Key]Chain{
	Eth:        {Key: Eth, Name: "Ethereum", ExplorerTx: "https://etherscan.io/tx/"},
	BSC:        {Key: BSC, Name: "BSC", ExplorerTx: "https://bscscan.com/tx/"},
	BSCTestnet: {Key: BSCTestnet, Name: "BSC Testnet", ExplorerTx: "https://testnet.bscscan.com/tx/"},
	Base:       {Key: Base, Name: "Base", ExplorerTx: "https://basescan.org/tx/"},
	Arbitrum:   {Key: Arbitrum, Name: "Arbitrum", ExplorerTx: "https://arbiscan.io/tx/"},
}

var chainIDs = map[uint64]Key{
	1:     Eth,
	56:    BSC,
	97:    BSCTestnet,
	8453:  Base,
	42161: Arbitrum,
}

// Registry holds the configured chains plus the allow list. The allow list
// only gates processing; Resolve stays total over all known networks.
type Registry struct {
	chains  map[Key]Chain
	allowed map[Key]bool
}

// NewRegistry builds a registry from per-chain RPC endpoints and an allow
// list of chain keys. Unknown keys in either input are ignored.
func NewRegistry(rpc map[string]string, allowed []string) *Registry {
	r := &Registry{
		chains:  make(map[Key]Chain, len(defs)),
		allowed: make(map[Key]bool, len(allowed)),
	}
	for k, c := range defs {
		if url, ok := rpc[string(k)]; ok {
			c.RPC = url
		}
		r.chains[k] = c
	}
	for _, raw := range allowed {
		k := Key(strings.ToLower(strings.TrimSpace(raw)))
		if _, ok := defs[k]; ok {
			r.allowed[k] = true
		}
	}
	return r
}

// Get returns the chain for a key.
func (r *Registry) Get(key Key) (Chain, bool) {
	c, ok := r.chains[key]
	return c, ok
}

// Allowed reports whether events for the chain should be processed. An empty
// allow list permits every resolvable chain.
func (r *Registry) Allowed(key Key) bool {
	if len(r.allowed) == 0 {
		return true
	}
	return r.allowed[key]
}

// Resolve maps a raw network identifier to a chain key. The input may be a
// decimal chain ID, a 0x-prefixed hex chain ID, or a free-text network name.
// Exact chain-ID lookup wins; free text falls back to case-insensitive
// substring matching with "test" selecting the testnet variant. Resolve is
// total: unknown input yields ok=false, never an error.
func Resolve(raw string) (Key, bool) {
	n := strings.ToLower(strings.TrimSpace(raw))
	if n == "" {
		return "", false
	}

	if id, err := parseChainID(n); err == nil {
		if k, ok := chainIDs[id]; ok {
			return k, true
		}
	}

	switch {
	case strings.Contains(n, "bsc") && strings.Contains(n, "test"):
		return BSCTestnet, true
	case strings.Contains(n, "bsc") || strings.Contains(n, "bnb"):
		return BSC, true
	case strings.Contains(n, "base"):
		return Base, true
	case strings.Contains(n, "arbitrum"):
		return Arbitrum, true
	case strings.Contains(n, "eth") && !strings.Contains(n, "test"):
		return Eth, true
	}
	return "", false
}

func parseChainID(s string) (uint64, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		return strconv.ParseUint(rest, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}
