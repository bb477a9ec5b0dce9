package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"citysnap-backend/internal/models"
)

// Store is the full persistence surface used by the HTTP layer and bootstrap.
// Pipeline components depend on narrower interfaces declared where they are used.
type Store interface {
	CreateReport(ctx context.Context, r *models.NewReport) (*models.CreatedReport, error)
	GetReport(ctx context.Context, reportID int64) (*models.Report, error)
	ListReports(ctx context.Context) ([]models.ReportWithStatus, error)
	ListUserReports(ctx context.Context, userID string) ([]models.ReportWithStatus, error)
	ListReportLocations(ctx context.Context) ([]models.ReportLocation, error)
	UpdateAIStatus(ctx context.Context, reportID int64, status string) error
	UpdateAIResults(ctx context.Context, reportID int64, result models.AIResult) error
	UpdateReportStatuses(ctx context.Context, reportID int64, isNormal, repairStatus int) error
	DeleteReport(ctx context.Context, reportID int64) error
	AddMaintenanceEntry(ctx context.Context, e *models.NewMaintenanceEntry) (*models.MaintenanceEntry, error)
	ListMaintenanceEntries(ctx context.Context) ([]models.MaintenanceEntry, error)
	AdminPushTokens(ctx context.Context) ([]string, error)
	UserPushToken(ctx context.Context, userID string) (string, error)
	NearbyPushTokens(ctx context.Context, reportID int64, radiusMeters float64) ([]string, error)
	Close() error
}

type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB exposes the pool for the migrator.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateReport inserts the report, its initial maintenance entry and the
// submitter's score increment in a single transaction.
func (s *PostgresStore) CreateReport(ctx context.Context, r *models.NewReport) (*models.CreatedReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin report transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var reportID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO reports (
			user_id, photo_url, location_description, latitude, longitude,
			report_date, details, is_normal, repair_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING report_id
	`, r.UserID, r.PhotoURL, r.LocationDescription, r.Latitude, r.Longitude,
		r.ReportDate, r.Details, models.Damaged, models.RepairPending,
	).Scan(&reportID)
	if err != nil {
		return nil, classify("insert report", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO maintenance_status (
			report_id, current_status, damage_info_details, facility_type,
			manager_nickname, manager_comments, last_updated_date
		) VALUES ($1, $2, NULL, NULL, NULL, NULL, NOW())
	`, reportID, models.InitialMaintenanceStatus); err != nil {
		return nil, classify("insert maintenance status", err)
	}

	var newScore int
	err = tx.QueryRowContext(ctx, `
		UPDATE users
		SET score = COALESCE(score, 0) + 1
		WHERE user_id = $1
		RETURNING score
	`, r.UserID).Scan(&newScore)
	if err == sql.ErrNoRows {
		return nil, classify("increment user score", fmt.Errorf("%w: %s", ErrUserNotFound, r.UserID))
	}
	if err != nil {
		return nil, classify("increment user score", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit report transaction", err)
	}

	return &models.CreatedReport{ReportID: reportID, NewScore: newScore}, nil
}

const reportColumns = `
	r.report_id, r.user_id, r.photo_url, r.location_description, r.latitude, r.longitude,
	r.report_date, r.details, r.is_normal, r.repair_status, r.ai_status,
	r.caption_en, r.caption_ko, r.mask_url`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner, extra ...any) (*models.Report, error) {
	var r models.Report
	dest := []any{
		&r.ReportID, &r.UserID, &r.PhotoURL, &r.LocationDescription, &r.Latitude, &r.Longitude,
		&r.ReportDate, &r.Details, &r.IsNormal, &r.RepairStatus, &r.AIStatus,
		&r.CaptionEN, &r.CaptionKO, &r.MaskURL,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID int64) (*models.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports r WHERE r.report_id = $1`, reportID)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, classify("get report", fmt.Errorf("%w: %d", ErrReportNotFound, reportID))
	}
	if err != nil {
		return nil, classify("get report", err)
	}
	return r, nil
}

// latestMaintenance joins each report with its most recent maintenance entry.
const latestMaintenance = `
	LEFT JOIN LATERAL (
		SELECT status_id, current_status, damage_info_details, facility_type,
		       manager_nickname, manager_comments, last_updated_date
		FROM maintenance_status ms
		WHERE ms.report_id = r.report_id
		ORDER BY ms.last_updated_date DESC, ms.status_id DESC
		LIMIT 1
	) m ON TRUE`

const maintenanceColumns = `
	m.status_id, m.current_status, m.damage_info_details, m.facility_type,
	m.manager_nickname, m.manager_comments, m.last_updated_date`

func (s *PostgresStore) ListReports(ctx context.Context) ([]models.ReportWithStatus, error) {
	return s.listReports(ctx, "list reports", `
		SELECT `+reportColumns+`, `+maintenanceColumns+`
		FROM reports r`+latestMaintenance+`
		ORDER BY r.report_date DESC, r.report_id DESC
	`)
}

func (s *PostgresStore) ListUserReports(ctx context.Context, userID string) ([]models.ReportWithStatus, error) {
	return s.listReports(ctx, "list user reports", `
		SELECT `+reportColumns+`, `+maintenanceColumns+`
		FROM reports r`+latestMaintenance+`
		WHERE r.user_id = $1
		ORDER BY r.report_date DESC, r.report_id DESC
	`, userID)
}

func (s *PostgresStore) listReports(ctx context.Context, op, query string, args ...any) ([]models.ReportWithStatus, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	reports := make([]models.ReportWithStatus, 0)
	for rows.Next() {
		var (
			statusID      sql.NullInt64
			currentStatus sql.NullString
			m             models.MaintenanceEntry
			lastUpdated   sql.NullTime
		)
		r, err := scanReport(rows,
			&statusID, &currentStatus, &m.DamageInfoDetails, &m.FacilityType,
			&m.ManagerNickname, &m.ManagerComments, &lastUpdated,
		)
		if err != nil {
			return nil, classify(op, fmt.Errorf("failed to scan report: %w", err))
		}

		item := models.ReportWithStatus{Report: *r}
		if statusID.Valid {
			m.StatusID = statusID.Int64
			m.ReportID = r.ReportID
			m.CurrentStatus = currentStatus.String
			m.LastUpdatedDate = lastUpdated.Time
			item.Maintenance = &m
		}
		reports = append(reports, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	return reports, nil
}

func (s *PostgresStore) ListReportLocations(ctx context.Context) ([]models.ReportLocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, user_id, latitude, longitude, location_description,
		       details, photo_url, report_date, repair_status, ai_status
		FROM reports
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY report_date DESC
	`)
	if err != nil {
		return nil, classify("list report locations", err)
	}
	defer rows.Close()

	locations := make([]models.ReportLocation, 0)
	for rows.Next() {
		var l models.ReportLocation
		if err := rows.Scan(
			&l.ReportID, &l.UserID, &l.Latitude, &l.Longitude, &l.LocationDescription,
			&l.Details, &l.PhotoURL, &l.ReportDate, &l.RepairStatus, &l.AIStatus,
		); err != nil {
			return nil, classify("list report locations", fmt.Errorf("failed to scan location: %w", err))
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list report locations", err)
	}

	return locations, nil
}

func (s *PostgresStore) UpdateAIStatus(ctx context.Context, reportID int64, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reports SET ai_status = $1 WHERE report_id = $2
	`, status, reportID)
	return s.expectRow("update ai status", reportID, res, err)
}

// UpdateAIResults writes all AI-derived columns, and the is_normal flip when
// requested, in one statement.
func (s *PostgresStore) UpdateAIResults(ctx context.Context, reportID int64, result models.AIResult) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET ai_status = $1,
		    caption_en = $2,
		    caption_ko = $3,
		    mask_url = $4,
		    is_normal = CASE WHEN $5 THEN $6 ELSE is_normal END
		WHERE report_id = $7
	`, result.Status, result.CaptionEN, result.CaptionKO, result.MaskURL,
		result.ForceNormal, models.Normal, reportID)
	return s.expectRow("update ai results", reportID, res, err)
}

func (s *PostgresStore) UpdateReportStatuses(ctx context.Context, reportID int64, isNormal, repairStatus int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reports SET is_normal = $1, repair_status = $2 WHERE report_id = $3
	`, isNormal, repairStatus, reportID)
	return s.expectRow("update report statuses", reportID, res, err)
}

// DeleteReport removes the report; maintenance entries go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteReport(ctx context.Context, reportID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE report_id = $1`, reportID)
	return s.expectRow("delete report", reportID, res, err)
}

func (s *PostgresStore) expectRow(op string, reportID int64, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return classify(op, fmt.Errorf("%w: %d", ErrReportNotFound, reportID))
	}
	return nil
}

func (s *PostgresStore) AddMaintenanceEntry(ctx context.Context, e *models.NewMaintenanceEntry) (*models.MaintenanceEntry, error) {
	var m models.MaintenanceEntry
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO maintenance_status (
			report_id, current_status, damage_info_details, facility_type,
			manager_nickname, manager_comments, last_updated_date
		)
		SELECT $1, $2, $3, $4, $5, $6, NOW()
		WHERE EXISTS (SELECT 1 FROM reports WHERE report_id = $1)
		RETURNING status_id, report_id, current_status, damage_info_details, facility_type,
		          manager_nickname, manager_comments, last_updated_date
	`, e.ReportID, e.CurrentStatus, e.DamageInfoDetails, e.FacilityType,
		e.ManagerNickname, e.ManagerComments,
	).Scan(
		&m.StatusID, &m.ReportID, &m.CurrentStatus, &m.DamageInfoDetails, &m.FacilityType,
		&m.ManagerNickname, &m.ManagerComments, &m.LastUpdatedDate,
	)
	if err == sql.ErrNoRows {
		return nil, classify("add maintenance entry", fmt.Errorf("%w: %d", ErrReportNotFound, e.ReportID))
	}
	if err != nil {
		return nil, classify("add maintenance entry", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMaintenanceEntries(ctx context.Context) ([]models.MaintenanceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status_id, report_id, current_status, damage_info_details, facility_type,
		       manager_nickname, manager_comments, last_updated_date
		FROM maintenance_status
		ORDER BY status_id DESC
	`)
	if err != nil {
		return nil, classify("list maintenance entries", err)
	}
	defer rows.Close()

	entries := make([]models.MaintenanceEntry, 0)
	for rows.Next() {
		var m models.MaintenanceEntry
		if err := rows.Scan(
			&m.StatusID, &m.ReportID, &m.CurrentStatus, &m.DamageInfoDetails, &m.FacilityType,
			&m.ManagerNickname, &m.ManagerComments, &m.LastUpdatedDate,
		); err != nil {
			return nil, classify("list maintenance entries", fmt.Errorf("failed to scan entry: %w", err))
		}
		entries = append(entries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list maintenance entries", err)
	}

	return entries, nil
}

func (s *PostgresStore) AdminPushTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT push_token FROM users
		WHERE is_admin = 1 AND push_token IS NOT NULL AND push_token <> ''
	`)
	if err != nil {
		return nil, classify("list admin push tokens", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, classify("list admin push tokens", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list admin push tokens", err)
	}
	return tokens, nil
}

func (s *PostgresStore) UserPushToken(ctx context.Context, userID string) (string, error) {
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT push_token FROM users WHERE user_id = $1`, userID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", classify("get user push token", fmt.Errorf("%w: %s", ErrUserNotFound, userID))
	}
	if err != nil {
		return "", classify("get user push token", err)
	}
	return token.String, nil
}
