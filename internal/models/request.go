package models

type UpdateReportStatusRequest struct {
	IsNormal     *int `json:"is_normal" binding:"required" example:"0"`
	RepairStatus *int `json:"repair_status" binding:"required" example:"1"`
}

type AddMaintenanceRequest struct {
	ReportID          int64   `json:"report_id" binding:"required"`
	CurrentStatus     string  `json:"current_status" binding:"required" example:"수리중"`
	DamageInfoDetails *string `json:"damage_info_details,omitempty"`
	FacilityType      *string `json:"facility_type,omitempty"`
	ManagerNickname   *string `json:"manager_nickname,omitempty"`
	ManagerComments   *string `json:"manager_comments,omitempty"`
}

type AnalyzeRequest struct {
	// Optional override of the image locator; defaults to the stored photo.
	Source      string `json:"src,omitempty"`
	DisplayName string `json:"name,omitempty"`
}
