package httpapi

import (
	"fee-engine/internal/metrics"
	"fee-engine/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register wires HTTP routes to handlers.
// Keep this free of business logic. Handlers delegate to internal modules.
func Register(r *gin.Engine, h Handlers, m *metrics.Metrics, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Health)
	if m != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	v1.Use(authMW)

	feesGroup := v1.Group("/fees")
	{
		calc := rbac.RequireAnyRole(rbac.RoleService, rbac.RoleOperator)
		feesGroup.POST("/calculate", calc, h.Calculate)
		feesGroup.POST("/calculate/bulk", calc, h.CalculateBulk)
		feesGroup.POST("/corrections", rbac.RequireAnyRole(rbac.RoleFinance), h.RecordCorrection)
	}

	configs := v1.Group("/configurations")
	{
		authors := rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleFinance)
		configs.POST("", authors, h.CreateConfiguration)
		configs.GET("/resolve", rbac.RequireAnyRole(rbac.RoleService, rbac.RoleOperator, rbac.RoleFinance), h.ResolveConfiguration)
		configs.GET("/:id", authors, h.GetConfiguration)
		configs.POST("/:id/approve", rbac.RequireAnyRole(rbac.RoleFinance), h.ApproveConfiguration)
		configs.POST("/:id/reject", rbac.RequireAnyRole(rbac.RoleFinance), h.RejectConfiguration)
		configs.POST("/:id/deactivate", authors, h.DeactivateConfiguration)
	}

	promos := v1.Group("/promotions")
	promos.Use(rbac.RequireAnyRole(rbac.RoleOperator))
	{
		promos.POST("", h.CreatePromotion)
		promos.GET("/:code", h.GetPromotion)
	}

	v1.POST("/ledger/entries", rbac.RequireAnyRole(rbac.RoleService), h.PostLedgerEntry)

	// Reconciliation: finance by default; the hidden reconciler role may only run.
	recon := v1.Group("/reconciliations/:period")
	{
		runners := rbac.RequireAnyRole(rbac.RoleFinance, rbac.RoleReconciler)
		finance := rbac.RequireAnyRole(rbac.RoleFinance)
		recon.GET("", finance, h.ListReconciliations)
		recon.POST("/run", runners, h.RunAllReconciliations)
		scoped := rbac.RequireClientParam("client_id")
		recon.GET("/:client_id", finance, scoped, h.GetReconciliation)
		recon.POST("/:client_id/run", runners, scoped, h.RunReconciliation)
		recon.POST("/:client_id/resolve", finance, scoped, h.ResolveReconciliation)
	}
}
