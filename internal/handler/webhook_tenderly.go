package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chainalerts/internal/chains"
	"chainalerts/internal/evm"
	"chainalerts/internal/observability"
	"chainalerts/internal/service"
	"chainalerts/internal/transfer"
	"chainalerts/internal/webhook"
)

// TenderlyWebhookHandler ingests alerting-provider webhooks that reference a
// single transaction by hash. The payload carries no logs, so the receipt is
// fetched over RPC. The signature is an HMAC-SHA256 of body plus the Date
// header.
type TenderlyWebhookHandler struct {
	Secret      string
	Interaction string
	Registry    *chains.Registry
	Readers     evm.ReaderSource
	Pipeline    *service.AlertPipeline
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

func (h *TenderlyWebhookHandler) Register(r *gin.Engine) {
	// Alert providers hit the URL with GET during setup.
	r.GET("/webhooks/tenderly", func(c *gin.Context) {
		c.String(http.StatusOK, "ok - use POST here")
	})
	r.POST("/webhooks/tenderly", h.handle)
}

// tenderlyPayload covers the alert-type-dependent layouts: network and
// tx_hash may live at the top level or under alert, data, or transaction.
type tenderlyPayload struct {
	EventType   string              `json:"event_type"`
	Network     transfer.FlexString `json:"network"`
	TxHash      string              `json:"tx_hash"`
	Alert       *tenderlyRef        `json:"alert"`
	Data        *tenderlyRef        `json:"data"`
	Transaction *tenderlyTxRef      `json:"transaction"`
}

type tenderlyRef struct {
	Network transfer.FlexString `json:"network"`
	TxHash  string              `json:"tx_hash"`
}

type tenderlyTxRef struct {
	Network transfer.FlexString `json:"network"`
	Hash    string              `json:"hash"`
}

func (p *tenderlyPayload) network() string {
	if p.Alert != nil && p.Alert.Network != "" {
		return string(p.Alert.Network)
	}
	if p.Network != "" {
		return string(p.Network)
	}
	if p.Data != nil && p.Data.Network != "" {
		return string(p.Data.Network)
	}
	if p.Transaction != nil && p.Transaction.Network != "" {
		return string(p.Transaction.Network)
	}
	return ""
}

func (p *tenderlyPayload) txHash() string {
	if p.Alert != nil && p.Alert.TxHash != "" {
		return p.Alert.TxHash
	}
	if p.TxHash != "" {
		return p.TxHash
	}
	if p.Transaction != nil && p.Transaction.Hash != "" {
		return p.Transaction.Hash
	}
	if p.Data != nil && p.Data.TxHash != "" {
		return p.Data.TxHash
	}
	return ""
}

func (h *TenderlyWebhookHandler) handle(c *gin.Context) {
	h.received()
	raw, err := c.GetRawData()
	if err != nil {
		h.reject("read")
		Error(c, http.StatusInternalServerError, "failed to read body")
		return
	}

	if h.Secret == "" {
		h.reject("config")
		Error(c, http.StatusInternalServerError, "signing key not configured")
		return
	}
	sig := strings.TrimSpace(c.GetHeader("x-tenderly-signature"))
	date := strings.TrimSpace(c.GetHeader("date"))
	if !webhook.Verify(raw, sig, date, h.Secret, webhook.ModeBodyDate) {
		h.reject("signature")
		h.warn("invalid webhook signature",
			zap.Bool("signature_present", sig != ""),
			zap.Bool("date_present", date != ""),
			zap.Int("raw_len", len(raw)))
		Error(c, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload tenderlyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.reject("json")
		Error(c, http.StatusBadRequest, "bad json")
		return
	}

	switch payload.EventType {
	case "ALERT":
	case "TEST":
		h.info("test event acknowledged")
		Ok(c)
		return
	default:
		Ignored(c, "non_alert_event")
		return
	}

	network := payload.network()
	txHash := payload.txHash()
	if network == "" || txHash == "" {
		h.warn("payload missing network or tx hash",
			zap.String("network", network), zap.String("tx_hash", txHash))
		Ignored(c, "missing_fields")
		return
	}

	key, ok := chains.Resolve(network)
	if !ok {
		h.info("unsupported network", zap.String("network", network))
		Ignored(c, "unsupported_chain")
		return
	}
	chain, ok := h.Registry.Get(key)
	if !ok || !h.Registry.Allowed(key) {
		Ignored(c, "chain_not_allowed")
		return
	}

	interaction := strings.ToLower(strings.TrimSpace(h.Interaction))
	if interaction == "" {
		h.reject("config")
		Error(c, http.StatusInternalServerError, "interaction contract not configured")
		return
	}

	ctx := c.Request.Context()
	reader, err := h.Readers.Reader(ctx, key)
	if err != nil {
		Error(c, http.StatusBadGateway, "no rpc endpoint for chain")
		return
	}

	tx, _, err := reader.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		h.rpcError(key)
		Error(c, http.StatusBadGateway, "transaction fetch failed")
		return
	}
	if tx == nil || tx.To() == nil || !strings.EqualFold(tx.To().Hex(), interaction) {
		Ignored(c, "not_interaction")
		return
	}

	receipt, err := reader.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		h.rpcError(key)
		Error(c, http.StatusBadGateway, "receipt fetch failed")
		return
	}

	events := transfer.FromReceipt(receipt)
	if len(events) == 0 {
		Ignored(c, "no_transfers")
		return
	}

	sent := h.Pipeline.Process(ctx, chain, interaction, time.Time{}, events)
	h.info("alert webhook processed",
		zap.String("chain", string(key)),
		zap.String("tx_hash", txHash),
		zap.Int("transfers", len(events)),
		zap.Int("sent", sent))
	Ok(c)
}

func (h *TenderlyWebhookHandler) received() {
	if h.Metrics != nil {
		h.Metrics.WebhooksReceived.WithLabelValues("tenderly").Inc()
	}
}

func (h *TenderlyWebhookHandler) reject(reason string) {
	if h.Metrics != nil {
		h.Metrics.WebhooksRejected.WithLabelValues("tenderly", reason).Inc()
	}
}

func (h *TenderlyWebhookHandler) rpcError(key chains.Key) {
	if h.Metrics != nil {
		h.Metrics.RPCErrors.WithLabelValues(string(key)).Inc()
	}
}

func (h *TenderlyWebhookHandler) warn(msg string, fields ...zap.Field) {
	if h.Logger != nil {
		h.Logger.Warn(msg, fields...)
	}
}

func (h *TenderlyWebhookHandler) info(msg string, fields ...zap.Field) {
	if h.Logger != nil {
		h.Logger.Info(msg, fields...)
	}
}
