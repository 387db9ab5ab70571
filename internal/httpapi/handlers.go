package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fee-engine/internal/audit"
	"fee-engine/internal/auth"
	"fee-engine/internal/fees"
	"fee-engine/internal/ledger"
	"fee-engine/internal/pricing"
	"fee-engine/internal/promo"
	"fee-engine/internal/rbac"
	"fee-engine/internal/reconciliation"

	"github.com/gin-gonic/gin"
)

// PromotionStore is the authoring side of the promotion catalog.
type PromotionStore interface {
	CreatePromotion(ctx context.Context, p promo.PromotionalFee) (promo.PromotionalFee, error)
	GetPromotion(ctx context.Context, code string) (promo.PromotionalFee, bool, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Fees           *fees.Calculator
	Configurations *pricing.Service
	Resolver       *pricing.Resolver
	Promotions     PromotionStore
	Ledger         *ledger.Service
	Reconciliation *reconciliation.Runner

	// Ready reports storage health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
}

func actorFrom(c *gin.Context) audit.Actor {
	id, _ := auth.FromContext(c.Request.Context())
	return audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

// requireClient aborts with 403 unless the caller may act on clientID.
func requireClient(c *gin.Context, clientID string) bool {
	id, err := auth.FromContext(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return false
	}
	if !rbac.CanAccessClient(id, clientID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Fees ---

func (h Handlers) Calculate(c *gin.Context) {
	var req fees.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !requireClient(c, req.ClientID) {
		return
	}
	entry, err := h.Fees.Calculate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type bulkRequest struct {
	Requests []fees.Request `json:"requests"`
}

const maxBulk = 1000

func (h Handlers) CalculateBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if len(req.Requests) == 0 || len(req.Requests) > maxBulk {
		badRequest(c, "requests must hold between 1 and "+strconv.Itoa(maxBulk)+" items")
		return
	}
	for _, r := range req.Requests {
		if !requireClient(c, r.ClientID) {
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": h.Fees.CalculateBulk(c.Request.Context(), req.Requests)})
}

func (h Handlers) RecordCorrection(c *gin.Context) {
	var req fees.CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.TransactionID != "" && req.FeeType.Valid() {
		// The target log decides the client; scoped callers may only correct their own.
		target, err := h.Fees.Lookup(c.Request.Context(), req.TransactionID, req.FeeType)
		if err != nil {
			writeError(c, err)
			return
		}
		if !requireClient(c, target.ClientID) {
			return
		}
	}
	entry, err := h.Fees.RecordManualCorrection(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// --- Configurations ---

func configID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h Handlers) CreateConfiguration(c *gin.Context) {
	var cfg pricing.FeeConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.Configurations.Create(c.Request.Context(), actorFrom(c), cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) GetConfiguration(c *gin.Context) {
	id, ok := configID(c)
	if !ok {
		return
	}
	out, err := h.Configurations.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ApproveConfiguration(c *gin.Context) {
	id, ok := configID(c)
	if !ok {
		return
	}
	out, err := h.Configurations.Approve(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) RejectConfiguration(c *gin.Context) {
	id, ok := configID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	out, err := h.Configurations.Reject(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DeactivateConfiguration(c *gin.Context) {
	id, ok := configID(c)
	if !ok {
		return
	}
	out, err := h.Configurations.Deactivate(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ResolveConfiguration shows which configuration a calculation would use.
func (h Handlers) ResolveConfiguration(c *gin.Context) {
	clientID := c.Query("client_id")
	if !requireClient(c, clientID) {
		return
	}
	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "at must be RFC3339")
			return
		}
		at = t
	}
	res, err := h.Resolver.Resolve(c.Request.Context(), clientID, pricing.FeeType(c.Query("fee_type")), at)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Promotions ---

func (h Handlers) CreatePromotion(c *gin.Context) {
	var p promo.PromotionalFee
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	now := time.Now().UTC()
	p.UsedCount = 0
	p.CreatedAt, p.UpdatedAt = now, now
	out, err := h.Promotions.CreatePromotion(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h Handlers) GetPromotion(c *gin.Context) {
	p, found, err := h.Promotions.GetPromotion(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, promo.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Ledger ---

func (h Handlers) PostLedgerEntry(c *gin.Context) {
	var req ledger.PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if !requireClient(c, req.ClientID) {
		return
	}
	entry, created, err := h.Ledger.Post(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, entry)
}

// --- Reconciliation ---

func (h Handlers) RunReconciliation(c *gin.Context) {
	rec, err := h.Reconciliation.Run(c.Request.Context(), c.Param("period"), c.Param("client_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// scopedClient returns the client a client-scoped caller is bound to.
// ok is false for callers that may see every client.
func scopedClient(c *gin.Context) (clientID string, ok bool) {
	id, err := auth.FromContext(c.Request.Context())
	if err != nil || rbac.IsAdmin(id.Role) || id.ClientID == "" {
		return "", false
	}
	return id.ClientID, true
}

func (h Handlers) RunAllReconciliations(c *gin.Context) {
	if _, scoped := scopedClient(c); scoped {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "client-scoped callers must run their own client"})
		return
	}
	outcomes, err := h.Reconciliation.RunAll(c.Request.Context(), c.Param("period"))
	if err != nil {
		writeError(c, err)
		return
	}
	type result struct {
		ClientID string `json:"client_id"`
		Status   string `json:"status,omitempty"`
		Error    string `json:"error,omitempty"`
	}
	out := make([]result, 0, len(outcomes))
	for _, o := range outcomes {
		r := result{ClientID: o.ClientID, Status: string(o.Reconciliation.Status)}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"period": c.Param("period"), "results": out})
}

func (h Handlers) GetReconciliation(c *gin.Context) {
	rec, err := h.Reconciliation.Get(c.Request.Context(), c.Param("period"), c.Param("client_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListReconciliations(c *gin.Context) {
	recs, err := h.Reconciliation.List(c.Request.Context(), c.Param("period"))
	if err != nil {
		writeError(c, err)
		return
	}
	if clientID, scoped := scopedClient(c); scoped {
		own := recs[:0]
		for _, r := range recs {
			if r.ClientID == clientID {
				own = append(own, r)
			}
		}
		recs = own
	}
	c.JSON(http.StatusOK, gin.H{"reconciliations": recs})
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

func (h Handlers) ResolveReconciliation(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	rec, err := h.Reconciliation.Resolve(c.Request.Context(), c.Param("period"), c.Param("client_id"), actorFrom(c), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
