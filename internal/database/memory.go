package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"citysnap-backend/internal/models"
)

// MemoryUser is a row of the users collaborator table held by MemoryStore.
type MemoryUser struct {
	UserID    string
	Score     *int
	PushToken string
	IsAdmin   bool
}

// MemoryStore is an in-process Store used by tests and by the server when no
// DATABASE_URL is configured. It keeps the same transactional guarantees as
// PostgresStore for a single process.
type MemoryStore struct {
	mu           sync.RWMutex
	now          func() time.Time
	users        map[string]*MemoryUser
	reports      map[int64]*models.Report
	maintenance  []models.MaintenanceEntry
	nextReportID int64
	nextStatusID int64

	// FailCreate, when set, makes CreateReport fail after validation.
	FailCreate error
	// AutoCreateUsers registers unknown submitters instead of failing, for
	// running the server without a users table.
	AutoCreateUsers bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		users:        make(map[string]*MemoryUser),
		reports:      make(map[int64]*models.Report),
		nextReportID: 1,
		nextStatusID: 1,
	}
}

func (s *MemoryStore) AddUser(u MemoryUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = &u
}

// UserScore returns the stored score, or nil when the score column is NULL.
func (s *MemoryStore) UserScore(userID string) (*int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	if u.Score == nil {
		return nil, true
	}
	v := *u.Score
	return &v, true
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateReport(_ context.Context, r *models.NewReport) (*models.CreatedReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreate != nil {
		return nil, classify("insert report", s.FailCreate)
	}

	u, ok := s.users[r.UserID]
	if !ok && s.AutoCreateUsers {
		u = &MemoryUser{UserID: r.UserID}
		s.users[r.UserID] = u
	} else if !ok {
		return nil, classify("increment user score", fmt.Errorf("%w: %s", ErrUserNotFound, r.UserID))
	}

	id := s.nextReportID
	s.nextReportID++

	report := &models.Report{
		ReportID:            id,
		UserID:              r.UserID,
		PhotoURL:            r.PhotoURL,
		LocationDescription: r.LocationDescription,
		ReportDate:          r.ReportDate,
		Details:             r.Details,
		IsNormal:            models.Damaged,
		RepairStatus:        models.RepairPending,
	}
	if r.Latitude != nil {
		report.Latitude = sql.NullFloat64{Float64: *r.Latitude, Valid: true}
	}
	if r.Longitude != nil {
		report.Longitude = sql.NullFloat64{Float64: *r.Longitude, Valid: true}
	}
	s.reports[id] = report

	s.maintenance = append(s.maintenance, models.MaintenanceEntry{
		StatusID:        s.nextStatusID,
		ReportID:        id,
		CurrentStatus:   models.InitialMaintenanceStatus,
		LastUpdatedDate: s.now(),
	})
	s.nextStatusID++

	score := 1
	if u.Score != nil {
		score = *u.Score + 1
	}
	u.Score = &score

	return &models.CreatedReport{ReportID: id, NewScore: score}, nil
}

func (s *MemoryStore) GetReport(_ context.Context, reportID int64) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[reportID]
	if !ok {
		return nil, classify("get report", fmt.Errorf("%w: %d", ErrReportNotFound, reportID))
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListReports(_ context.Context) ([]models.ReportWithStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.withStatus(func(*models.Report) bool { return true }), nil
}

func (s *MemoryStore) ListUserReports(_ context.Context, userID string) ([]models.ReportWithStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.withStatus(func(r *models.Report) bool { return r.UserID == userID }), nil
}

// withStatus must be called with mu held.
func (s *MemoryStore) withStatus(keep func(*models.Report) bool) []models.ReportWithStatus {
	latest := make(map[int64]models.MaintenanceEntry)
	for _, m := range s.maintenance {
		cur, ok := latest[m.ReportID]
		if !ok || !m.LastUpdatedDate.Before(cur.LastUpdatedDate) {
			latest[m.ReportID] = m
		}
	}

	out := make([]models.ReportWithStatus, 0, len(s.reports))
	for _, r := range s.reports {
		if !keep(r) {
			continue
		}
		item := models.ReportWithStatus{Report: *r}
		if m, ok := latest[r.ReportID]; ok {
			item.Maintenance = &m
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReportDate.Equal(out[j].ReportDate) {
			return out[i].ReportDate.After(out[j].ReportDate)
		}
		return out[i].ReportID > out[j].ReportID
	})
	return out
}

func (s *MemoryStore) ListReportLocations(_ context.Context) ([]models.ReportLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ReportLocation, 0)
	for _, r := range s.reports {
		if !r.Latitude.Valid || !r.Longitude.Valid {
			continue
		}
		out = append(out, models.ReportLocation{
			ReportID:            r.ReportID,
			UserID:              r.UserID,
			Latitude:            r.Latitude.Float64,
			Longitude:           r.Longitude.Float64,
			LocationDescription: r.LocationDescription,
			Details:             r.Details,
			PhotoURL:            r.PhotoURL,
			ReportDate:          r.ReportDate,
			RepairStatus:        r.RepairStatus,
			AIStatus:            r.AIStatus,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportDate.After(out[j].ReportDate) })
	return out, nil
}

func (s *MemoryStore) UpdateAIStatus(_ context.Context, reportID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[reportID]
	if !ok {
		return classify("update ai status", fmt.Errorf("%w: %d", ErrReportNotFound, reportID))
	}
	r.AIStatus = sql.NullString{String: status, Valid: true}
	return nil
}

func (s *MemoryStore) UpdateAIResults(_ context.Context, reportID int64, result models.AIResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[reportID]
	if !ok {
		return classify("update ai results", fmt.Errorf("%w: %d", ErrReportNotFound, reportID))
	}
	r.AIStatus = sql.NullString{String: result.Status, Valid: true}
	r.CaptionEN = toNullString(result.CaptionEN)
	r.CaptionKO = toNullString(result.CaptionKO)
	r.MaskURL = toNullString(result.MaskURL)
	if result.ForceNormal {
		r.IsNormal = models.Normal
	}
	return nil
}

func (s *MemoryStore) UpdateReportStatuses(_ context.Context, reportID int64, isNormal, repairStatus int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[reportID]
	if !ok {
		return classify("update report statuses", fmt.Errorf("%w: %d", ErrReportNotFound, reportID))
	}
	r.IsNormal = isNormal
	r.RepairStatus = repairStatus
	return nil
}

func (s *MemoryStore) DeleteReport(_ context.Context, reportID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[reportID]; !ok {
		return classify("delete report", fmt.Errorf("%w: %d", ErrReportNotFound, reportID))
	}

	kept := s.maintenance[:0]
	for _, m := range s.maintenance {
		if m.ReportID != reportID {
			kept = append(kept, m)
		}
	}
	s.maintenance = kept
	delete(s.reports, reportID)
	return nil
}

func (s *MemoryStore) AddMaintenanceEntry(_ context.Context, e *models.NewMaintenanceEntry) (*models.MaintenanceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[e.ReportID]; !ok {
		return nil, classify("add maintenance entry", fmt.Errorf("%w: %d", ErrReportNotFound, e.ReportID))
	}

	m := models.MaintenanceEntry{
		StatusID:          s.nextStatusID,
		ReportID:          e.ReportID,
		CurrentStatus:     e.CurrentStatus,
		DamageInfoDetails: toNullString(e.DamageInfoDetails),
		FacilityType:      toNullString(e.FacilityType),
		ManagerNickname:   toNullString(e.ManagerNickname),
		ManagerComments:   toNullString(e.ManagerComments),
		LastUpdatedDate:   s.now(),
	}
	s.nextStatusID++
	s.maintenance = append(s.maintenance, m)
	return &m, nil
}

func (s *MemoryStore) ListMaintenanceEntries(_ context.Context) ([]models.MaintenanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MaintenanceEntry, len(s.maintenance))
	copy(out, s.maintenance)
	sort.Slice(out, func(i, j int) bool { return out[i].StatusID > out[j].StatusID })
	return out, nil
}

func (s *MemoryStore) AdminPushTokens(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]string, 0)
	for _, u := range s.users {
		if u.IsAdmin && u.PushToken != "" {
			tokens = append(tokens, u.PushToken)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (s *MemoryStore) UserPushToken(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return "", classify("get user push token", fmt.Errorf("%w: %s", ErrUserNotFound, userID))
	}
	return u.PushToken, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
