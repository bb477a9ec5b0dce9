package models

import (
	"database/sql"
	"time"
)

// is_normal values
const (
	Damaged = 0
	Normal  = 1
)

// repair_status values
const (
	RepairPending   = 0
	RepairCompleted = 1
)

// InitialMaintenanceStatus is the workflow label every new report starts with.
const InitialMaintenanceStatus = "접수"

type Report struct {
	ReportID            int64
	UserID              string
	PhotoURL            string
	LocationDescription string
	Latitude            sql.NullFloat64
	Longitude           sql.NullFloat64
	ReportDate          time.Time
	Details             string
	IsNormal            int
	RepairStatus        int
	AIStatus            sql.NullString
	CaptionEN           sql.NullString
	CaptionKO           sql.NullString
	MaskURL             sql.NullString
}

type MaintenanceEntry struct {
	StatusID          int64
	ReportID          int64
	CurrentStatus     string
	DamageInfoDetails sql.NullString
	FacilityType      sql.NullString
	ManagerNickname   sql.NullString
	ManagerComments   sql.NullString
	LastUpdatedDate   time.Time
}

// ReportWithStatus is a report joined with its (optional) maintenance entry.
type ReportWithStatus struct {
	Report
	Maintenance *MaintenanceEntry
}

// NewReport carries the validated fields written at ingestion time.
type NewReport struct {
	UserID              string
	PhotoURL            string
	LocationDescription string
	Latitude            *float64
	Longitude           *float64
	ReportDate          time.Time
	Details             string
}

// CreatedReport is what the store hands back after the ingestion transaction commits.
type CreatedReport struct {
	ReportID int64
	NewScore int
}

// AIResult is the set of AI-derived columns written in one update.
type AIResult struct {
	Status      string
	CaptionEN   *string
	CaptionKO   *string
	MaskURL     *string
	ForceNormal bool
}

// NewMaintenanceEntry is a management-status row added by a manager.
type NewMaintenanceEntry struct {
	ReportID          int64
	CurrentStatus     string
	DamageInfoDetails *string
	FacilityType      *string
	ManagerNickname   *string
	ManagerComments   *string
}

// ReportLocation is the subset of a report drawn on the damage map.
type ReportLocation struct {
	ReportID            int64
	UserID              string
	Latitude            float64
	Longitude           float64
	LocationDescription string
	Details             string
	PhotoURL            string
	ReportDate          time.Time
	RepairStatus        int
	AIStatus            sql.NullString
}
