package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chainalerts/internal/chains"
	"chainalerts/internal/observability"
	"chainalerts/internal/service"
	"chainalerts/internal/transfer"
	"chainalerts/internal/webhook"
)

// defaultSignatureHeaders is the order tried when no override is configured.
var defaultSignatureHeaders = []string{"x-signature", "x-moralis-signature", "x-webhook-signature"}

// MoralisWebhookHandler ingests indexing-stream webhooks: a batch of
// transactions plus either pre-decoded ERC-20 transfers or raw logs. The
// signature is an HMAC-SHA256 of the raw body alone.
type MoralisWebhookHandler struct {
	Secret           string
	SignatureHeaders []string
	Interaction      string
	Registry         *chains.Registry
	Pipeline         *service.AlertPipeline
	Metrics          *observability.Metrics
	Logger           *zap.Logger
}

func (h *MoralisWebhookHandler) Register(r *gin.Engine) {
	r.POST("/webhooks/moralis", h.handle)
}

func (h *MoralisWebhookHandler) handle(c *gin.Context) {
	h.received()
	raw, err := c.GetRawData()
	if err != nil {
		h.reject("read")
		Error(c, http.StatusInternalServerError, "failed to read body")
		return
	}

	if h.Secret == "" {
		h.reject("config")
		Error(c, http.StatusInternalServerError, "webhook secret not configured")
		return
	}
	sig := h.signature(c)
	if !webhook.Verify(raw, sig, "", h.Secret, webhook.ModeBody) {
		h.reject("signature")
		h.warn("invalid webhook signature", zap.Int("raw_len", len(raw)), zap.Bool("signature_present", sig != ""))
		Error(c, http.StatusUnauthorized, "invalid signature")
		return
	}

	interaction := strings.ToLower(strings.TrimSpace(h.Interaction))
	if interaction == "" {
		h.reject("config")
		Error(c, http.StatusInternalServerError, "interaction contract not configured")
		return
	}

	var payload transfer.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.warn("unparsable webhook body", zap.Error(err))
		Ignored(c, "bad_payload")
		return
	}

	key, ok := chains.Resolve(payload.ChainID)
	if !ok {
		Ignored(c, "unsupported_chain")
		return
	}
	chain, ok := h.Registry.Get(key)
	if !ok || !h.Registry.Allowed(key) {
		Ignored(c, "chain_not_allowed")
		return
	}

	candidates := candidateTxs(&payload, interaction)
	if len(candidates) == 0 {
		Ignored(c, "no_interaction_tx")
		return
	}

	events := transfer.FromPayload(&payload)
	if len(events) == 0 {
		Ignored(c, "no_transfers")
		return
	}

	var at time.Time
	if payload.Block.Timestamp.Set {
		at = time.Unix(int64(payload.Block.Timestamp.Value), 0)
	}

	sent := 0
	for _, ev := range events {
		if _, ok := candidates[strings.ToLower(ev.TxHash)]; !ok {
			continue
		}
		sent += h.Pipeline.Process(c.Request.Context(), chain, interaction, at, []transfer.Event{ev})
	}
	h.info("webhook processed",
		zap.String("chain", string(key)),
		zap.Int("candidates", len(candidates)),
		zap.Int("transfers", len(events)),
		zap.Int("sent", sent))
	Ok(c)
}

// candidateTxs returns the lowercased hashes of transactions addressed to
// the interaction contract, covering the txs array and the
// single-transaction payload form.
func candidateTxs(p *transfer.Payload, interaction string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tx := range p.Txs {
		hash := tx.TxHash()
		if hash == "" || !strings.EqualFold(tx.ToAddr(), interaction) {
			continue
		}
		out[strings.ToLower(hash)] = struct{}{}
	}

	singleTo, singleHash := "", ""
	if p.Tx != nil {
		singleTo, singleHash = p.Tx.ToAddr(), p.Tx.TxHash()
	}
	if singleTo == "" {
		singleTo = p.To
	}
	if singleHash == "" {
		if p.Hash != "" {
			singleHash = p.Hash
		} else {
			singleHash = p.TxHash
		}
	}
	if singleHash != "" && strings.EqualFold(singleTo, interaction) {
		out[strings.ToLower(singleHash)] = struct{}{}
	}
	return out
}

func (h *MoralisWebhookHandler) signature(c *gin.Context) string {
	headers := h.SignatureHeaders
	if len(headers) == 0 {
		headers = defaultSignatureHeaders
	}
	for _, name := range headers {
		if v := strings.TrimSpace(c.GetHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

func (h *MoralisWebhookHandler) received() {
	if h.Metrics != nil {
		h.Metrics.WebhooksReceived.WithLabelValues("moralis").Inc()
	}
}

func (h *MoralisWebhookHandler) reject(reason string) {
	if h.Metrics != nil {
		h.Metrics.WebhooksRejected.WithLabelValues("moralis", reason).Inc()
	}
}

func (h *MoralisWebhookHandler) warn(msg string, fields ...zap.Field) {
	if h.Logger != nil {
		h.Logger.Warn(msg, fields...)
	}
}

func (h *MoralisWebhookHandler) info(msg string, fields ...zap.Field) {
	if h.Logger != nil {
		h.Logger.Info(msg, fields...)
	}
}
