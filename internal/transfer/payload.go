package transfer

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Payload is the provider-A (indexing stream) webhook body. Providers are
// inconsistent about field names and string-vs-number encodings, so scalar
// fields use the flex types below and each record type carries an ordered
// alias list per field.
type Payload struct {
	ChainID        string               `json:"chainId"`
	Block          PayloadBlock         `json:"block"`
	Txs            []PayloadTx          `json:"txs"`
	ERC20Transfers []StructuredTransfer `json:"erc20Transfers"`
	Logs           []RawLog             `json:"logs"`

	// Single-transaction form: some payloads carry one transaction at the
	// top level instead of a txs array.
	Tx     *PayloadTx `json:"tx"`
	To     string     `json:"to"`
	Hash   string     `json:"hash"`
	TxHash string     `json:"txHash"`
}

type PayloadBlock struct {
	Number    FlexString `json:"number"`
	Timestamp FlexInt    `json:"timestamp"`
}

// PayloadTx is one transaction entry. Hash aliases tried in order: hash,
// transactionHash, transaction_hash; recipient aliases: to, toAddress,
// to_address.
type PayloadTx struct {
	Hash                 string   `json:"hash"`
	TransactionHash      string   `json:"transactionHash"`
	TransactionHashSnake string   `json:"transaction_hash"`
	From                 string   `json:"from"`
	To                   string   `json:"to"`
	ToAddress            string   `json:"toAddress"`
	ToAddressSnake       string   `json:"to_address"`
	Logs                 []RawLog `json:"logs"`
}

// TxHash returns the first populated hash alias.
func (t PayloadTx) TxHash() string {
	for _, h := range []string{t.Hash, t.TransactionHash, t.TransactionHashSnake} {
		if h != "" {
			return h
		}
	}
	return ""
}

// ToAddr returns the first populated recipient alias.
func (t PayloadTx) ToAddr() string {
	for _, a := range []string{t.To, t.ToAddress, t.ToAddressSnake} {
		if a != "" {
			return a
		}
	}
	return ""
}

// StructuredTransfer is a pre-decoded transfer entry supplied by the
// indexing provider. Aliases tried in order:
// tx hash    transactionHash, transaction_hash, txHash, hash
// token      address, tokenAddress, contract
// from       from, fromAddress
// to         to, toAddress
// value      value, amount
// log index  logIndex, log_index
// symbol     tokenSymbol, symbol
// decimals   tokenDecimals, tokenDecimal, decimals
type StructuredTransfer struct {
	TransactionHash      string     `json:"transactionHash"`
	TransactionHashSnake string     `json:"transaction_hash"`
	TxHash               string     `json:"txHash"`
	Hash                 string     `json:"hash"`
	Address              string     `json:"address"`
	TokenAddress         string     `json:"tokenAddress"`
	Contract             string     `json:"contract"`
	From                 string     `json:"from"`
	FromAddress          string     `json:"fromAddress"`
	To                   string     `json:"to"`
	ToAddress            string     `json:"toAddress"`
	Value                FlexString `json:"value"`
	Amount               FlexString `json:"amount"`
	LogIndex             FlexInt    `json:"logIndex"`
	LogIndexSnake        FlexInt    `json:"log_index"`
	TokenSymbol          string     `json:"tokenSymbol"`
	Symbol               string     `json:"symbol"`
	TokenDecimals        FlexInt    `json:"tokenDecimals"`
	TokenDecimal         FlexInt    `json:"tokenDecimal"`
	Decimals             FlexInt    `json:"decimals"`
}

func (e StructuredTransfer) txHash() string {
	for _, h := range []string{e.TransactionHash, e.TransactionHashSnake, e.TxHash, e.Hash} {
		if h != "" {
			return h
		}
	}
	return ""
}

func (e StructuredTransfer) token() string {
	for _, a := range []string{e.Address, e.TokenAddress, e.Contract} {
		if a != "" {
			return a
		}
	}
	return ""
}

func (e StructuredTransfer) from() string {
	if e.From != "" {
		return e.From
	}
	return e.FromAddress
}

func (e StructuredTransfer) to() string {
	if e.To != "" {
		return e.To
	}
	return e.ToAddress
}

func (e StructuredTransfer) value() FlexString {
	if e.Value != "" {
		return e.Value
	}
	return e.Amount
}

func (e StructuredTransfer) logIndex() (int, bool) {
	for _, f := range []FlexInt{e.LogIndex, e.LogIndexSnake} {
		if f.Set {
			return f.Value, true
		}
	}
	return 0, false
}

func (e StructuredTransfer) symbol() string {
	if e.TokenSymbol != "" {
		return e.TokenSymbol
	}
	return e.Symbol
}

func (e StructuredTransfer) decimals() (int, bool) {
	for _, f := range []FlexInt{e.TokenDecimals, e.TokenDecimal, e.Decimals} {
		if f.Set {
			return f.Value, true
		}
	}
	return 0, false
}

// RawLog is an undecoded event log. Providers disagree on where the
// transaction hash lives; the alias order tried is
// transactionHash, txHash, hash, then the enclosing transaction. The log
// index aliases are logIndex, log_index, index.
type RawLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	TransactionHash string   `json:"transactionHash"`
	TxHash          string   `json:"txHash"`
	Hash            string   `json:"hash"`
	LogIndex        *FlexInt `json:"logIndex"`
	LogIndexSnake   *FlexInt `json:"log_index"`
	Index           *FlexInt `json:"index"`
}

func (l RawLog) txHash() string {
	for _, h := range []string{l.TransactionHash, l.TxHash, l.Hash} {
		if h != "" {
			return h
		}
	}
	return ""
}

// logIndex tries logIndex, log_index, index in order. A log carrying none
// of them reports ok=false; the caller drops it rather than guessing.
func (l RawLog) logIndex() (int, bool) {
	for _, f := range []*FlexInt{l.LogIndex, l.LogIndexSnake, l.Index} {
		if f != nil && f.Set {
			return f.Value, true
		}
	}
	return 0, false
}

// FlexString accepts a JSON string or number and keeps its decimal form.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	// Numbers pass through verbatim so big integers stay exact.
	*f = FlexString(string(b))
	return nil
}

// FlexInt accepts a JSON string or number. Set distinguishes an explicit
// zero from an absent field.
type FlexInt struct {
	Value int
	Set   bool
}

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	f.Value = n
	f.Set = true
	return nil
}
