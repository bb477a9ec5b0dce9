package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"

	"citysnap-backend/internal/analysis"
	"citysnap-backend/internal/apperrors"
	"citysnap-backend/internal/database"
	"citysnap-backend/internal/events"
	"citysnap-backend/internal/ingest"
	"citysnap-backend/internal/media"
	"citysnap-backend/internal/metrics"
	"citysnap-backend/internal/middleware"
	"citysnap-backend/internal/models"
	"citysnap-backend/internal/services"
	"github.com/gin-gonic/gin"
)

const maxPhotoBytes = 20 << 20

type JobDispatcher interface {
	Dispatch(job analysis.Job) error
	InFlight(reportID int64) int
}

type ReportsHandler struct {
	ingest     *ingest.Service
	store      database.Store
	photos     media.Store
	masks      media.Store
	dispatcher JobDispatcher
	bus        *events.Bus
	metrics    *metrics.PipelineMetrics
}

func NewReportsHandler(
	ingestService *ingest.Service,
	store database.Store,
	photos, masks media.Store,
	dispatcher JobDispatcher,
	bus *events.Bus,
	m *metrics.PipelineMetrics,
) *ReportsHandler {
	return &ReportsHandler{
		ingest:     ingestService,
		store:      store,
		photos:     photos,
		masks:      masks,
		dispatcher: dispatcher,
		bus:        bus,
		metrics:    m,
	}
}

// Submit godoc
// @Summary     Submit a damage report
// @Description Stores the photo and the report, then queues AI analysis. Poll
// @Description GET /reports/{report_id} to follow ai_status.
// @Tags        reports
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       photo                formData file   true  "Photo of the damaged facility"
// @Param       location_description formData string false "Where the facility is"
// @Param       latitude             formData number false "Latitude"
// @Param       longitude            formData number false "Longitude"
// @Param       details              formData string false "Free-text details"
// @Param       report_date          formData string false "2006-01-02 15:04:05, RFC 3339 or 2006-01-02"
// @Success     200 {object} models.SubmitReportResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /reports [post]
func (h *ReportsHandler) Submit(c *gin.Context) {
	userID := middleware.UserID(c)

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "photo is required",
			Kind:    string(apperrors.KindValidation),
			Message: err.Error(),
		})
		return
	}
	if fileHeader.Size > maxPhotoBytes {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "photo is too large",
			Kind:  string(apperrors.KindValidation),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to open photo", Message: err.Error()})
		return
	}
	photo, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read photo", Message: err.Error()})
		return
	}

	result, err := h.ingest.Submit(c.Request.Context(), ingest.Input{
		Photo:               photo,
		PhotoFilename:       fileHeader.Filename,
		LocationDescription: c.PostForm("location_description"),
		Latitude:            c.PostForm("latitude"),
		Longitude:           c.PostForm("longitude"),
		UserID:              userID,
		Details:             c.PostForm("details"),
		ReportDate:          c.PostForm("report_date"),
	})
	if err != nil {
		h.metrics.RecordSubmission(string(apperrors.KindOf(err)))
		log.Printf("[reports] submission by %s failed: %v", userID, err)
		respondError(c, err, "failed to submit report")
		return
	}
	h.metrics.RecordSubmission("ok")

	queued := h.enqueue(analysis.Job{
		ReportID:     result.ReportID,
		ImageLocator: h.photos.Locate(result.PhotoFilename),
		DisplayName:  analysis.DefaultDisplayName,
		UserID:       userID,
	})

	h.bus.Publish(events.Event{Type: events.ReportCreated, ReportID: result.ReportID, UserID: userID})

	c.JSON(http.StatusOK, models.SubmitReportResponse{
		Result:   "success",
		ReportID: result.ReportID,
		PhotoURL: result.PhotoFilename,
		NewScore: result.NewScore,
		Queued:   queued,
	})
}

// enqueue hands job to the dispatcher. The report is already committed, so a
// scheduling failure only leaves ai_status unset.
func (h *ReportsHandler) enqueue(job analysis.Job) bool {
	if err := h.dispatcher.Dispatch(job); err != nil {
		log.Printf("[reports] report %d: analysis not scheduled: %v", job.ReportID, err)
		return false
	}
	return true
}

// Get godoc
// @Summary     Get a report
// @Tags        reports
// @Produce     json
// @Security    Bearer
// @Param       report_id path int true "Report ID"
// @Success     200 {object} models.ReportResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /reports/{report_id} [get]
func (h *ReportsHandler) Get(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}

	report, err := h.store.GetReport(c.Request.Context(), reportID)
	if err != nil {
		respondError(c, err, "report not found")
		return
	}

	c.JSON(http.StatusOK, models.NewReportResponse(report))
}

// Mine godoc
// @Summary     List the caller's reports with their current maintenance status
// @Tags        reports
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.ReportListResponse
// @Router      /reports/mine [get]
func (h *ReportsHandler) Mine(c *gin.Context) {
	reports, err := h.store.ListUserReports(c.Request.Context(), middleware.UserID(c))
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

// Delete godoc
// @Summary     Delete one of the caller's reports
// @Description Removes the report and its maintenance history, then its photo and mask.
// @Tags        reports
// @Produce     json
// @Security    Bearer
// @Param       report_id path int true "Report ID"
// @Success     200 {object} map[string]string
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /reports/{report_id} [delete]
func (h *ReportsHandler) Delete(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}

	report, err := h.store.GetReport(c.Request.Context(), reportID)
	if err != nil {
		respondError(c, err, "report not found")
		return
	}
	if report.UserID != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "only the submitter can delete a report"})
		return
	}
	h.removeReport(c, report)
}

// AdminDelete godoc
// @Summary     Delete any report
// @Description Same cascade as the owner delete, without the ownership check.
// @Tags        admin
// @Produce     json
// @Security    Bearer
// @Param       report_id path int true "Report ID"
// @Success     200 {object} map[string]string
// @Failure     404 {object} models.ErrorResponse
// @Router      /admin/reports/{report_id} [delete]
func (h *ReportsHandler) AdminDelete(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}

	report, err := h.store.GetReport(c.Request.Context(), reportID)
	if err != nil {
		respondError(c, err, "report not found")
		return
	}
	log.Printf("[reports] report %d of %s deleted by admin %s", reportID, report.UserID, middleware.UserID(c))
	h.removeReport(c, report)
}

// removeReport deletes the row and its maintenance history, then the photo
// and mask. Media cleanup failures are logged only.
func (h *ReportsHandler) removeReport(c *gin.Context, report *models.Report) {
	ctx := c.Request.Context()
	reportID := report.ReportID

	if err := h.store.DeleteReport(ctx, reportID); err != nil {
		respondError(c, err, "failed to delete report")
		return
	}

	if err := h.photos.Delete(ctx, report.PhotoURL); err != nil {
		log.Printf("[reports] report %d: failed to delete photo %s: %v", reportID, report.PhotoURL, err)
	}
	if report.MaskURL.Valid && report.MaskURL.String != "" {
		if err := h.masks.Delete(ctx, report.MaskURL.String); err != nil {
			log.Printf("[reports] report %d: failed to delete mask %s: %v", reportID, report.MaskURL.String, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "report deleted successfully"})
}

// Analyze godoc
// @Summary     Re-run AI analysis for a report
// @Description Owners may re-run analysis on the stored photo. Admins may also
// @Description point it at another image with src.
// @Tags        reports
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       report_id path int                   true  "Report ID"
// @Param       request   body models.AnalyzeRequest false "Optional source override"
// @Success     202 {object} models.AnalyzeResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     503 {object} models.ErrorResponse
// @Router      /reports/{report_id}/analyze [post]
func (h *ReportsHandler) Analyze(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}

	var req models.AnalyzeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
			return
		}
	}

	report, err := h.store.GetReport(c.Request.Context(), reportID)
	if err != nil {
		respondError(c, err, "report not found")
		return
	}

	isAdmin := middleware.IsAdmin(c)
	if report.UserID != middleware.UserID(c) && !isAdmin {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "not allowed to analyze this report"})
		return
	}
	if req.Source != "" && !isAdmin {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "only admins may override the image source"})
		return
	}
	if req.Source != "" && !isRemoteURL(req.Source) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "src must be an http or https URL",
			Kind:  string(apperrors.KindValidation),
		})
		return
	}

	job := analysis.Job{
		ReportID:     reportID,
		ImageLocator: req.Source,
		DisplayName:  req.DisplayName,
		UserID:       report.UserID,
	}
	if job.ImageLocator == "" {
		job.ImageLocator = h.photos.Locate(report.PhotoURL)
	}

	if err := h.dispatcher.Dispatch(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrDispatcherClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, models.ErrorResponse{Error: "analysis not scheduled", Message: err.Error()})
		return
	}

	resp := models.AnalyzeResponse{ReportID: reportID, InFlight: h.dispatcher.InFlight(reportID)}
	if report.AIStatus.Valid {
		resp.AIStatus = report.AIStatus.String
	}
	c.JSON(http.StatusAccepted, resp)
}

// isRemoteURL accepts absolute http(s) URLs only, so a source override can
// never point the worker at a file on this host.
func isRemoteURL(src string) bool {
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
