package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type webhookResponse struct {
	OK      bool   `json:"ok"`
	Ignored bool   `json:"ignored,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

func Ok(c *gin.Context) {
	c.JSON(http.StatusOK, webhookResponse{OK: true})
}

// Ignored acknowledges a payload the pipeline deliberately skips. Inbound
// noise must never be answered with an error status, or the sender will
// retry-storm us.
func Ignored(c *gin.Context, reason string) {
	c.JSON(http.StatusOK, webhookResponse{OK: true, Ignored: true, Reason: reason})
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, webhookResponse{OK: false, Error: message})
}
