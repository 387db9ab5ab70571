package httpapi

import (
	"errors"
	"net/http"

	"fee-engine/internal/fees"
	"fee-engine/internal/ledger"
	"fee-engine/internal/pricing"
	"fee-engine/internal/promo"
	"fee-engine/internal/reconciliation"
	"fee-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: more specific sentinels first.
var errorMappings = []errorMapping{
	{pricing.ErrNoApplicableConfiguration, http.StatusUnprocessableEntity, "no_applicable_configuration"},
	{pricing.ErrInvalidConfiguration, http.StatusUnprocessableEntity, "invalid_configuration"},
	{pricing.ErrConfigurationConflict, http.StatusConflict, "configuration_conflict"},
	{pricing.ErrNotFound, http.StatusNotFound, "configuration_not_found"},
	{pricing.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},

	{fees.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{fees.ErrNotFound, http.StatusNotFound, "calculation_not_found"},

	{promo.ErrInvalidPromotion, http.StatusBadRequest, "invalid_promotion"},
	{promo.ErrDuplicateCode, http.StatusConflict, "duplicate_promo_code"},
	{promo.ErrNotFound, http.StatusNotFound, "promotion_not_found"},

	{ledger.ErrInvalidArgument, http.StatusBadRequest, "invalid_ledger_entry"},

	{reconciliation.ErrLedgerUnavailable, http.StatusServiceUnavailable, "ledger_unavailable"},
	{reconciliation.ErrRunInProgress, http.StatusConflict, "reconciliation_in_progress"},
	{reconciliation.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
	{reconciliation.ErrNotFound, http.StatusNotFound, "reconciliation_not_found"},
	{reconciliation.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
}

// writeError maps engine errors to HTTP responses. Unknown errors are logged and
// reported as 500 without internals.
func writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.AbortWithStatusJSON(m.status, gin.H{"error": m.code, "message": err.Error()})
			return
		}
	}
	logger.From(c.Request.Context(), nil).Error("request failed", "err", err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}
