package transfer

import (
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FromPayload extracts transfers from a provider-A payload. The structured
// entry list is tried first; raw logs are the fallback. The first strategy
// producing any records wins.
func FromPayload(p *Payload) []Event {
	if p == nil {
		return nil
	}
	if out := FromStructured(p.ERC20Transfers); len(out) > 0 {
		return out
	}

	var out []Event
	out = append(out, FromRawLogs(p.Logs, "")...)
	for _, tx := range p.Txs {
		out = append(out, FromRawLogs(tx.Logs, tx.TxHash())...)
	}
	if p.Tx != nil {
		out = append(out, FromRawLogs(p.Tx.Logs, p.Tx.TxHash())...)
	}
	return out
}

// FromStructured maps pre-decoded transfer entries into canonical events.
// Entries missing any of tx hash, token, from, to, a non-negative log index,
// or a parsable non-negative value are dropped silently.
func FromStructured(entries []StructuredTransfer) []Event {
	var out []Event
	for _, e := range entries {
		txHash := normalizeHash(e.txHash())
		token := normalizeAddress(e.token())
		from := normalizeAddress(e.from())
		to := normalizeAddress(e.to())
		if txHash == "" || token == "" || from == "" || to == "" {
			continue
		}
		idx, ok := e.logIndex()
		if !ok || idx < 0 {
			continue
		}
		value, ok := parseDecimalValue(string(e.value()))
		if !ok {
			continue
		}

		ev := Event{
			TxHash:   txHash,
			LogIndex: idx,
			Token:    token,
			From:     from,
			To:       to,
			Value:    value,
			Symbol:   strings.TrimSpace(e.symbol()),
		}
		if d, ok := e.decimals(); ok && d >= 0 {
			dec := d
			ev.Decimals = &dec
		}
		out = append(out, ev)
	}
	return out
}

// FromRawLogs decodes Transfer events out of undecoded logs. A log qualifies
// iff topic0 is the Transfer signature and exactly two indexed topics follow.
// Logs failing any structural check are dropped, never fatal to the batch.
// parentTx supplies the transaction hash when the log carries none; a log
// with no derivable hash or no log index is dropped rather than guessed,
// since a guessed index would collide in the dedupe key.
func FromRawLogs(logs []RawLog, parentTx string) []Event {
	var out []Event
	for _, l := range logs {
		if len(l.Topics) != 3 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(l.Topics[0]), TransferTopic.Hex()) {
			continue
		}
		token := normalizeAddress(l.Address)
		from := topicToAddress(l.Topics[1])
		to := topicToAddress(l.Topics[2])
		if token == "" || from == "" || to == "" {
			continue
		}
		value, ok := parseHexValue(l.Data)
		if !ok {
			continue
		}
		txHash := normalizeHash(l.txHash())
		if txHash == "" {
			txHash = normalizeHash(parentTx)
		}
		if txHash == "" {
			continue
		}
		idx, ok := l.logIndex()
		if !ok || idx < 0 {
			continue
		}

		out = append(out, Event{
			TxHash:   txHash,
			LogIndex: idx,
			Token:    token,
			From:     from,
			To:       to,
			Value:    value,
		})
	}
	return out
}

// FromReceipt extracts transfers from a fetched transaction receipt,
// preserving ascending log-index order.
func FromReceipt(receipt *types.Receipt) []Event {
	if receipt == nil {
		return nil
	}
	var out []Event
	for _, l := range receipt.Logs {
		if l == nil || len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
			continue
		}
		value := new(big.Int)
		if len(l.Data) > 0 {
			value.SetBytes(l.Data)
		}
		out = append(out, Event{
			TxHash:   strings.ToLower(l.TxHash.Hex()),
			LogIndex: int(l.Index),
			Token:    strings.ToLower(l.Address.Hex()),
			From:     strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()[12:]).Hex()),
			To:       strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()[12:]).Hex()),
			Value:    value,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogIndex < out[j].LogIndex })
	return out
}

func normalizeAddress(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 42 || !strings.HasPrefix(s, "0x") || !isHex(s[2:]) {
		return ""
	}
	return s
}

func normalizeHash(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") || len(s) < 3 || !isHex(s[2:]) {
		return ""
	}
	return s
}

// topicToAddress extracts the low 20 bytes of a 32-byte indexed topic.
func topicToAddress(topic string) string {
	t := strings.ToLower(strings.TrimSpace(topic))
	if len(t) != 66 || !strings.HasPrefix(t, "0x") || !isHex(t[2:]) {
		return ""
	}
	return "0x" + t[len(t)-40:]
}

// parseDecimalValue parses an exact non-negative integer from its decimal
// string form. Floating point is never involved.
func parseDecimalValue(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// parseHexValue parses the big-endian unsigned integer in a log data field.
func parseHexValue(s string) (*big.Int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	rest, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return nil, false
	}
	if rest == "" {
		return big.NewInt(0), true
	}
	if !isHex(rest) {
		return nil, false
	}
	v, ok := new(big.Int).SetString(rest, 16)
	if !ok {
		return nil, false
	}
	return v, true
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
