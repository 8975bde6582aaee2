// Package transfer canonicalizes heterogeneous provider payloads and receipt
// logs into one ERC-20 transfer representation.
package transfer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is topic0 of the standard ERC-20 Transfer event.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Event is one decoded ERC-20 Transfer occurrence. Addresses are lowercase
// and the value is the exact on-chain integer. (TxHash, LogIndex) uniquely
// identifies the event within a chain.
type Event struct {
	TxHash   string
	LogIndex int
	Token    string
	From     string
	To       string
	Value    *big.Int

	// Symbol and Decimals are set when the indexing payload already
	// resolved them; otherwise metadata comes from the RPC resolver.
	Symbol   string
	Decimals *int
}
