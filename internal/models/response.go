package models

import (
	"database/sql"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type SubmitReportResponse struct {
	Result   string `json:"result"`
	ReportID int64  `json:"report_id"`
	PhotoURL string `json:"photo_url"`
	NewScore int    `json:"new_score"`
	// Queued is false when the analysis could not be scheduled.
	Queued bool `json:"ai_queued"`
}

type ReportResponse struct {
	ReportID            int64                `json:"report_id"`
	UserID              string               `json:"user_id"`
	PhotoURL            string               `json:"photo_url"`
	LocationDescription string               `json:"location_description"`
	Latitude            *float64             `json:"latitude"`
	Longitude           *float64             `json:"longitude"`
	ReportDate          string               `json:"report_date"`
	Details             string               `json:"details"`
	IsNormal            int                  `json:"is_normal"`
	RepairStatus        int                  `json:"repair_status"`
	AIStatus            *string              `json:"ai_status"`
	CaptionEN           *string              `json:"caption_en"`
	CaptionKO           *string              `json:"caption_ko"`
	MaskURL             *string              `json:"mask_url"`
	Maintenance         *MaintenanceResponse `json:"maintenance,omitempty"`
}

type MaintenanceResponse struct {
	StatusID          int64   `json:"status_id"`
	ReportID          int64   `json:"report_id"`
	CurrentStatus     string  `json:"current_status"`
	DamageInfoDetails *string `json:"damage_info_details"`
	FacilityType      *string `json:"facility_type"`
	ManagerNickname   *string `json:"manager_nickname"`
	ManagerComments   *string `json:"manager_comments"`
	LastUpdatedDate   string  `json:"last_updated_date"`
}

type ReportListResponse struct {
	Reports []ReportResponse `json:"reports"`
}

type MaintenanceListResponse struct {
	Statuses []MaintenanceResponse `json:"statuses"`
}

type AnalyzeResponse struct {
	ReportID int64  `json:"report_id"`
	AIStatus string `json:"ai_status"`

	// InFlight counts queued or running analyses for the report, this one included.
	InFlight int `json:"in_flight"`
}

func NewReportResponse(r *Report) ReportResponse {
	return ReportResponse{
		ReportID:            r.ReportID,
		UserID:              r.UserID,
		PhotoURL:            r.PhotoURL,
		LocationDescription: r.LocationDescription,
		Latitude:            nullFloat(r.Latitude),
		Longitude:           nullFloat(r.Longitude),
		ReportDate:          formatTime(r.ReportDate),
		Details:             r.Details,
		IsNormal:            r.IsNormal,
		RepairStatus:        r.RepairStatus,
		AIStatus:            nullString(r.AIStatus),
		CaptionEN:           nullString(r.CaptionEN),
		CaptionKO:           nullString(r.CaptionKO),
		MaskURL:             nullString(r.MaskURL),
	}
}

func NewReportWithStatusResponse(r *ReportWithStatus) ReportResponse {
	resp := NewReportResponse(&r.Report)
	if r.Maintenance != nil {
		m := NewMaintenanceResponse(r.Maintenance)
		resp.Maintenance = &m
	}
	return resp
}

func NewMaintenanceResponse(m *MaintenanceEntry) MaintenanceResponse {
	return MaintenanceResponse{
		StatusID:          m.StatusID,
		ReportID:          m.ReportID,
		CurrentStatus:     m.CurrentStatus,
		DamageInfoDetails: nullString(m.DamageInfoDetails),
		FacilityType:      nullString(m.FacilityType),
		ManagerNickname:   nullString(m.ManagerNickname),
		ManagerComments:   nullString(m.ManagerComments),
		LastUpdatedDate:   formatTime(m.LastUpdatedDate),
	}
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}
