package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"citysnap-backend/internal/database"
	"citysnap-backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminHandler serves the management routes. Every route sits behind
// middleware.RequireAdmin.
type AdminHandler struct {
	store database.Store
}

func NewAdminHandler(store database.Store) *AdminHandler {
	return &AdminHandler{store: store}
}

// ListReports godoc
// @Summary     List all reports with their current maintenance status
// @Tags        admin
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.ReportListResponse
// @Failure     403 {object} models.ErrorResponse
// @Router      /admin/reports [get]
func (h *AdminHandler) ListReports(c *gin.Context) {
	reports, err := h.store.ListReports(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to list reports")
		return
	}

	resp := models.ReportListResponse{Reports: make([]models.ReportResponse, 0, len(reports))}
	for i := range reports {
		resp.Reports = append(resp.Reports, models.NewReportWithStatusResponse(&reports[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateStatus godoc
// @Summary     Set is_normal and repair_status of a report
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       report_id path int                              true "Report ID"
// @Param       request   body models.UpdateReportStatusRequest true "Both values must be 0 or 1"
// @Success     200 {object} map[string]string
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /admin/reports/{report_id}/status [put]
func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}

	var req models.UpdateReportStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	if !isFlag(*req.IsNormal) || !isFlag(*req.RepairStatus) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid status value",
			Message: "is_normal and repair_status must be 0 or 1",
		})
		return
	}

	if err := h.store.UpdateReportStatuses(c.Request.Context(), reportID, *req.IsNormal, *req.RepairStatus); err != nil {
		respondError(c, err, "failed to update report status")
		return
	}

	log.Printf("[admin] report %d: is_normal=%d repair_status=%d", reportID, *req.IsNormal, *req.RepairStatus)
	c.JSON(http.StatusOK, gin.H{"message": "report status updated successfully"})
}

func isFlag(v int) bool {
	return v == 0 || v == 1
}

// AddMaintenance godoc
// @Summary     Add a maintenance status entry to a report
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.AddMaintenanceRequest true "Maintenance entry"
// @Success     200 {object} models.MaintenanceResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /admin/maintenance [post]
func (h *AdminHandler) AddMaintenance(c *gin.Context) {
	var req models.AddMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	if strings.TrimSpace(req.CurrentStatus) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "current_status is required"})
		return
	}

	entry, err := h.store.AddMaintenanceEntry(c.Request.Context(), &models.NewMaintenanceEntry{
		ReportID:          req.ReportID,
		CurrentStatus:     strings.TrimSpace(req.CurrentStatus),
		DamageInfoDetails: req.DamageInfoDetails,
		FacilityType:      req.FacilityType,
		ManagerNickname:   req.ManagerNickname,
		ManagerComments:   req.ManagerComments,
	})
	if err != nil {
		respondError(c, err, "failed to add maintenance entry")
		return
	}

	c.JSON(http.StatusOK, models.NewMaintenanceResponse(entry))
}

// ListMaintenance godoc
// @Summary     List every maintenance status entry, newest first
// @Tags        admin
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.MaintenanceListResponse
// @Router      /admin/maintenance [get]
func (h *AdminHandler) ListMaintenance(c *gin.Context) {
	entries, err := h.store.ListMaintenanceEntries(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to list maintenance entries")
		return
	}

	resp := models.MaintenanceListResponse{Statuses: make([]models.MaintenanceResponse, 0, len(entries))}
	for i := range entries {
		resp.Statuses = append(resp.Statuses, models.NewMaintenanceResponse(&entries[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// ExportReports godoc
// @Summary     Download all reports as an Excel workbook
// @Tags        admin
// @Produce     application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security    Bearer
// @Success     200 {file} file
// @Router      /admin/reports/export [get]
func (h *AdminHandler) ExportReports(c *gin.Context) {
	reports, err := h.store.ListReports(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to list reports")
		return
	}

	f, err := buildReportWorkbook(reports)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to build workbook", Message: err.Error()})
		return
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to write workbook", Message: err.Error()})
		return
	}

	filename := fmt.Sprintf("reports_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

const reportSheet = "Reports"

var reportColumns = []struct {
	header string
	width  float64
}{
	{"Report ID", 10},
	{"User", 16},
	{"Report Date", 20},
	{"Location", 30},
	{"Latitude", 12},
	{"Longitude", 12},
	{"Details", 40},
	{"Photo", 36},
	{"AI Status", 24},
	{"Caption (KO)", 40},
	{"Is Normal", 10},
	{"Repair Status", 12},
	{"Maintenance Status", 18},
	{"Manager", 16},
	{"Last Updated", 20},
}

func buildReportWorkbook(reports []models.ReportWithStatus) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		f.Close()
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	for i, col := range reportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		name, _ := excelize.ColumnNumberToName(i + 1)
		f.SetCellValue(reportSheet, cell, col.header)
		f.SetColWidth(reportSheet, name, name, col.width)
	}
	last, _ := excelize.CoordinatesToCellName(len(reportColumns), 1)
	f.SetCellStyle(reportSheet, "A1", last, headerStyle)

	for i := range reports {
		resp := models.NewReportWithStatusResponse(&reports[i])
		row := []any{
			resp.ReportID,
			resp.UserID,
			resp.ReportDate,
			resp.LocationDescription,
			deref(resp.Latitude),
			deref(resp.Longitude),
			resp.Details,
			resp.PhotoURL,
			deref(resp.AIStatus),
			deref(resp.CaptionKO),
			resp.IsNormal,
			resp.RepairStatus,
		}
		if m := resp.Maintenance; m != nil {
			row = append(row, m.CurrentStatus, deref(m.ManagerNickname), m.LastUpdatedDate)
		}

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := f.SetPanes(reportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// deref turns a nil pointer into an empty cell.
func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
