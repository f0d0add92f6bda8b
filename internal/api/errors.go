// Package api exposes the ledger over HTTP with gin.
//
// Handlers follow one shape: parse the request, call the ledger or the
// verification engine, and map typed errors to status codes in writeError.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/canonical"
	"github.com/jmerrifield20/chainledger/internal/ledger"
)

// statusFor maps a ledger or verification error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, canonical.ErrMalformedContent):
		return http.StatusUnprocessableEntity
	case ledger.IsStorage(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": ...}. Server-side failures are logged
// and their detail hidden from the client.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		logger.Error(op, zap.Error(err))
		msg = "ledger storage unavailable"
	case http.StatusInternalServerError:
		logger.Error(op, zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
