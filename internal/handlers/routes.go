package handlers

import (
	"citysnap-backend/internal/config"
	"citysnap-backend/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Routes struct {
	Reports   *ReportsHandler
	DamageMap *DamageMapHandler
	Admin     *AdminHandler
	DB        Pinger
	Registry  *prometheus.Registry
	// PhotoDir and MaskDir are served only when set (local media backend).
	PhotoDir string
	MaskDir  string
}

func RegisterRoutes(router *gin.Engine, cfg *config.Config, r Routes) {
	// Health check (no auth)
	router.GET("/health", HealthHandler(r.DB))

	if r.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})))
	}
	if r.PhotoDir != "" {
		router.Static("/media/photos", r.PhotoDir)
	}
	if r.MaskDir != "" {
		router.Static("/media/masks", r.MaskDir)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	// Reports
	api.POST("/reports", r.Reports.Submit)
	api.GET("/reports/mine", r.Reports.Mine)
	api.GET("/reports/map", r.DamageMap.Locations)
	api.GET("/reports/:report_id", r.Reports.Get)
	api.DELETE("/reports/:report_id", r.Reports.Delete)
	api.POST("/reports/:report_id/analyze", r.Reports.Analyze)

	// Management
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/reports", r.Admin.ListReports)
	admin.GET("/reports/export", r.Admin.ExportReports)
	admin.DELETE("/reports/:report_id", r.Reports.AdminDelete)
	admin.PUT("/reports/:report_id/status", r.Admin.UpdateStatus)
	admin.POST("/maintenance", r.Admin.AddMaintenance)
	admin.GET("/maintenance", r.Admin.ListMaintenance)
}
