package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gin-gonic/gin"

	"chainalerts/internal/alert"
	"chainalerts/internal/chains"
	"chainalerts/internal/dedupe"
	"chainalerts/internal/evm"
	"chainalerts/internal/service"
	"chainalerts/internal/threshold"
	"chainalerts/internal/transfer"
)

const (
	testSecret  = "topsecret"
	daiToken    = "0x6b175474e89094c44da98b954eedeac495271d0f"
	interaction = "0x000310fa98e36191ec79de241d72c6ca093eafd3"
	txHash      = "0x9db33b5e25f232b121a2bcb2e94a49e6bbdc248a8da679f17e4698e3370cbbc8"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type captureSender struct {
	sent []string
}

func (c *captureSender) Send(_ context.Context, text string) error {
	c.sent = append(c.sent, text)
	return nil
}

type staticMeta struct{}

func (staticMeta) Resolve(context.Context, chains.Key, string) evm.TokenMeta {
	return evm.TokenMeta{Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18}
}

func newTestPipeline(t *testing.T, sender alert.Sender) (*service.AlertPipeline, *dedupe.Store) {
	t.Helper()
	store, err := dedupe.New("", 1000, nil)
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	eval, err := threshold.New(map[string]string{"DAI": "0.5"}, "")
	if err != nil {
		t.Fatalf("threshold: %v", err)
	}
	return &service.AlertPipeline{
		Registry:   chains.NewRegistry(nil, nil),
		Meta:       staticMeta{},
		Dedupe:     store,
		Thresholds: eval,
		Dispatcher: &alert.Dispatcher{Sender: sender, Policy: alert.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}},
		DedupeTTL:  time.Hour,
	}, store
}

func signBody(body, date string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	if date != "" {
		mac.Write([]byte(date))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func moralisBody(to string) string {
	return `{
		"chainId": "0x2105",
		"block": {"number": "123", "timestamp": 1700000000},
		"txs": [{"hash": "` + txHash + `", "from": "0x1111111111111111111111111111111111111111", "to": "` + to + `"}],
		"erc20Transfers": [{
			"transactionHash": "` + txHash + `",
			"logIndex": "5",
			"address": "` + daiToken + `",
			"from": "0x1111111111111111111111111111111111111111",
			"to": "0x2222222222222222222222222222222222222222",
			"value": "1000000000000000000",
			"tokenSymbol": "DAI",
			"tokenDecimals": 18
		}]
	}`
}

func postMoralis(r *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/moralis", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMoralisWebhookEndToEnd(t *testing.T) {
	sender := &captureSender{}
	pipeline, store := newTestPipeline(t, sender)
	h := &MoralisWebhookHandler{
		Secret:      testSecret,
		Interaction: interaction,
		Registry:    pipeline.Registry,
		Pipeline:    pipeline,
	}
	r := gin.New()
	h.Register(r)

	body := moralisBody(interaction)
	headers := map[string]string{"x-signature": signBody(body, "")}

	w := postMoralis(r, body, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "Amount: 1 DAI") {
		t.Fatalf("alert missing amount:\n%s", sender.sent[0])
	}
	if !strings.Contains(sender.sent[0], "Chain: Base") {
		t.Fatalf("alert missing chain name:\n%s", sender.sent[0])
	}

	// Redelivery of the identical payload: acknowledged, no extra alert.
	w = postMoralis(r, body, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", w.Code)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("redelivery produced %d alerts total, want 1", len(sender.sent))
	}

	// The dedupe claim used the canonical key.
	key := dedupe.Key("base", txHash, 5, daiToken, "0x2222222222222222222222222222222222222222")
	if store.TryClaim(context.Background(), key, time.Hour) {
		t.Fatalf("dedupe key %s should be claimed", key)
	}
}

func TestMoralisWebhookInvalidSignature(t *testing.T) {
	sender := &captureSender{}
	pipeline, store := newTestPipeline(t, sender)
	h := &MoralisWebhookHandler{
		Secret:      testSecret,
		Interaction: interaction,
		Registry:    pipeline.Registry,
		Pipeline:    pipeline,
	}
	r := gin.New()
	h.Register(r)

	body := moralisBody(interaction)
	w := postMoralis(r, body, map[string]string{"x-signature": "deadbeef"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("rejected payload produced alerts")
	}
	// Dedupe store untouched: the key is still claimable.
	key := dedupe.Key("base", txHash, 5, daiToken, "0x2222222222222222222222222222222222222222")
	if !store.TryClaim(context.Background(), key, time.Hour) {
		t.Fatalf("rejected payload must not touch the dedupe store")
	}
}

func TestMoralisWebhookAlternateSignatureHeader(t *testing.T) {
	sender := &captureSender{}
	pipeline, _ := newTestPipeline(t, sender)
	h := &MoralisWebhookHandler{
		Secret:      testSecret,
		Interaction: interaction,
		Registry:    pipeline.Registry,
		Pipeline:    pipeline,
	}
	r := gin.New()
	h.Register(r)

	body := moralisBody(interaction)
	w := postMoralis(r, body, map[string]string{"x-moralis-signature": "sha256=" + signBody(body, "")})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(sender.sent))
	}
}

func TestMoralisWebhookNotOurInteraction(t *testing.T) {
	sender := &captureSender{}
	pipeline, _ := newTestPipeline(t, sender)
	h := &MoralisWebhookHandler{
		Secret:      testSecret,
		Interaction: interaction,
		Registry:    pipeline.Registry,
		Pipeline:    pipeline,
	}
	r := gin.New()
	h.Register(r)

	body := moralisBody("0x9999999999999999999999999999999999999999")
	w := postMoralis(r, body, map[string]string{"x-signature": signBody(body, "")})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want benign 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no_interaction_tx") {
		t.Fatalf("expected ignored response, got %s", w.Body.String())
	}
	if len(sender.sent) != 0 {
		t.Fatalf("non-interaction tx produced alerts")
	}
}

func TestMoralisWebhookFieldAliases(t *testing.T) {
	sender := &captureSender{}
	pipeline, _ := newTestPipeline(t, sender)
	h := &MoralisWebhookHandler{
		Secret:      testSecret,
		Interaction: interaction,
		Registry:    pipeline.Registry,
		Pipeline:    pipeline,
	}
	r := gin.New()
	h.Register(r)

	// Snake- and camel-cased alternates for the tx and transfer fields.
	body := `{
		"chainId": "0x2105",
		"txs": [{"transaction_hash": "` + txHash + `", "to_address": "` + interaction + `"}],
		"erc20Transfers": [{
			"txHash": "` + txHash + `",
			"log_index": "5",
			"tokenAddress": "` + daiToken + `",
			"fromAddress": "0x1111111111111111111111111111111111111111",
			"toAddress": "0x2222222222222222222222222222222222222222",
			"amount": "1000000000000000000",
			"symbol": "DAI",
			"decimals": 18
		}]
	}`
	w := postMoralis(r, body, map[string]string{"x-signature": signBody(body, "")})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "Amount: 1 DAI") {
		t.Fatalf("alert missing amount:\n%s", sender.sent[0])
	}
}

func TestMoralisWebhookSingleTransactionForm(t *testing.T) {
	sender := &captureSender{}
	pipeline, _ := newTestPipeline(t, sender)
	h := &MoralisWebhookHandler{
		Secret:      testSecret,
		Interaction: interaction,
		Registry:    pipeline.Registry,
		Pipeline:    pipeline,
	}
	r := gin.New()
	h.Register(r)

	// One top-level tx object instead of a txs array.
	body := `{
		"chainId": "0x2105",
		"tx": {"hash": "` + txHash + `", "to": "` + interaction + `"},
		"erc20Transfers": [{
			"transactionHash": "` + txHash + `",
			"logIndex": 5,
			"address": "` + daiToken + `",
			"from": "0x1111111111111111111111111111111111111111",
			"to": "0x2222222222222222222222222222222222222222",
			"value": "1000000000000000000",
			"tokenSymbol": "DAI",
			"tokenDecimals": 18
		}]
	}`
	w := postMoralis(r, body, map[string]string{"x-signature": signBody(body, "")})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(sender.sent))
	}
}

func TestMoralisWebhookMissingSecret(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &captureSender{})
	h := &MoralisWebhookHandler{Interaction: interaction, Registry: pipeline.Registry, Pipeline: pipeline}
	r := gin.New()
	h.Register(r)

	w := postMoralis(r, "{}", map[string]string{"x-signature": "abc"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 on missing secret", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":false`) {
		t.Fatalf("error body malformed: %s", w.Body.String())
	}
}

// fakeReader serves one transaction and its receipt.
type fakeReader struct {
	tx      *types.Transaction
	receipt *types.Receipt
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) { return 0, errors.New("no") }
func (f *fakeReader) BlockByNumber(context.Context, *big.Int) (*types.Block, error) {
	return nil, errors.New("no")
}
func (f *fakeReader) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return f.tx, false, nil
}
func (f *fakeReader) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, nil
}
func (f *fakeReader) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("no")
}

type fakeSource struct{ reader evm.Reader }

func (f fakeSource) Reader(context.Context, chains.Key) (evm.Reader, error) {
	return f.reader, nil
}

func transferLog() *types.Log {
	return &types.Log{
		Address: common.HexToAddress(daiToken),
		Topics: []common.Hash{
			transfer.TransferTopic,
			common.HexToHash("0x0000000000000000000000001111111111111111111111111111111111111111"),
			common.HexToHash("0x0000000000000000000000002222222222222222222222222222222222222222"),
		},
		Data:   common.LeftPadBytes(big.NewInt(0).Exp(big.NewInt(10), big.NewInt(18), nil).Bytes(), 32),
		TxHash: common.HexToHash(txHash),
		Index:  5,
	}
}

func newTenderlyHandler(t *testing.T, sender alert.Sender, txTo common.Address) *TenderlyWebhookHandler {
	t.Helper()
	pipeline, _ := newTestPipeline(t, sender)
	tx := types.NewTx(&types.LegacyTx{To: &txTo})
	receipt := &types.Receipt{Logs: []*types.Log{transferLog()}}
	return &TenderlyWebhookHandler{
		Secret:      testSecret,
		Interaction: interaction,
		Registry:    pipeline.Registry,
		Readers:     fakeSource{reader: &fakeReader{tx: tx, receipt: receipt}},
		Pipeline:    pipeline,
	}
}

func postTenderly(r *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tenderly", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTenderlyWebhookAlertFlow(t *testing.T) {
	sender := &captureSender{}
	h := newTenderlyHandler(t, sender, common.HexToAddress(interaction))
	r := gin.New()
	h.Register(r)

	body := `{"event_type":"ALERT","alert":{"network":"8453","tx_hash":"` + txHash + `"}}`
	date := "Mon, 13 Nov 2023 10:00:00 GMT"
	w := postTenderly(r, body, map[string]string{
		"x-tenderly-signature": signBody(body, date),
		"date":                 date,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "Amount: 1 DAI") {
		t.Fatalf("alert missing amount:\n%s", sender.sent[0])
	}
}

func TestTenderlyWebhookTestEvent(t *testing.T) {
	sender := &captureSender{}
	h := newTenderlyHandler(t, sender, common.HexToAddress(interaction))
	r := gin.New()
	h.Register(r)

	body := `{"event_type":"TEST"}`
	date := "Mon, 13 Nov 2023 10:00:00 GMT"
	w := postTenderly(r, body, map[string]string{
		"x-tenderly-signature": signBody(body, date),
		"date":                 date,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("TEST event produced alerts")
	}
}

func TestTenderlyWebhookMissingDate(t *testing.T) {
	sender := &captureSender{}
	h := newTenderlyHandler(t, sender, common.HexToAddress(interaction))
	r := gin.New()
	h.Register(r)

	body := `{"event_type":"ALERT"}`
	w := postTenderly(r, body, map[string]string{
		"x-tenderly-signature": signBody(body, ""),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without date header", w.Code)
	}
}

func TestTenderlyWebhookNotOurInteraction(t *testing.T) {
	sender := &captureSender{}
	h := newTenderlyHandler(t, sender, common.HexToAddress("0x9999999999999999999999999999999999999999"))
	r := gin.New()
	h.Register(r)

	body := `{"event_type":"ALERT","network":"base","tx_hash":"` + txHash + `"}`
	date := "Mon, 13 Nov 2023 10:00:00 GMT"
	w := postTenderly(r, body, map[string]string{
		"x-tenderly-signature": signBody(body, date),
		"date":                 date,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want benign 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_interaction") {
		t.Fatalf("expected not_interaction, got %s", w.Body.String())
	}
	if len(sender.sent) != 0 {
		t.Fatalf("foreign tx produced alerts")
	}
}

func TestTenderlyWebhookGetHint(t *testing.T) {
	h := newTenderlyHandler(t, &captureSender{}, common.HexToAddress(interaction))
	r := gin.New()
	h.Register(r)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/tenderly", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "use POST") {
		t.Fatalf("GET response: %d %s", w.Code, w.Body.String())
	}
}
