// Package ingest records a new damage report: photo first, then the report,
// its initial maintenance entry and the submitter's score in one transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"citysnap-backend/internal/apperrors"
	"citysnap-backend/internal/media"
	"citysnap-backend/internal/models"
)

const reportDateLayout = "2006-01-02 15:04:05"

var (
	ErrInvalidDate       = errors.New("invalid report date")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrEmptyPhoto        = errors.New("photo is empty")
	ErrMissingSubmitter  = errors.New("submitter is required")
)

type ReportCreator interface {
	CreateReport(ctx context.Context, r *models.NewReport) (*models.CreatedReport, error)
}

type PhotoStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Delete(ctx context.Context, name string) error
}

// Input is a submission as received from the client. Date and coordinates
// arrive as raw form values and are validated here.
type Input struct {
	Photo               []byte
	PhotoFilename       string
	LocationDescription string
	Latitude            string
	Longitude           string
	UserID              string
	Details             string
	ReportDate          string
}

type Result struct {
	ReportID      int64
	PhotoFilename string
	NewScore      int
}

type Service struct {
	store  ReportCreator
	photos PhotoStore
	now    func() time.Time
}

func NewService(store ReportCreator, photos PhotoStore) *Service {
	return &Service{store: store, photos: photos, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit validates in, writes the photo and then the report transaction. If
// the transaction fails the photo is removed again on a best-effort basis.
func (s *Service) Submit(ctx context.Context, in Input) (*Result, error) {
	now := s.now()

	newReport, err := s.validate(in, now)
	if err != nil {
		return nil, err
	}

	filename := media.PhotoName(in.PhotoFilename, now)
	stored, err := s.photos.Save(ctx, filename, in.Photo)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindStorage {
			err = apperrors.Storage("save photo", err)
		}
		return nil, err
	}
	newReport.PhotoURL = stored

	created, err := s.store.CreateReport(ctx, newReport)
	if err != nil {
		if delErr := s.photos.Delete(context.WithoutCancel(ctx), stored); delErr != nil {
			log.Printf("[ingest] failed to remove orphaned photo %s: %v", stored, delErr)
		}
		return nil, apperrors.Persistence("record report", err)
	}

	log.Printf("[ingest] report %d recorded for user %s (photo %s, score %d)",
		created.ReportID, in.UserID, stored, created.NewScore)

	return &Result{
		ReportID:      created.ReportID,
		PhotoFilename: stored,
		NewScore:      created.NewScore,
	}, nil
}

func (s *Service) validate(in Input, now time.Time) (*models.NewReport, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, apperrors.Validation("validate report", ErrMissingSubmitter)
	}

	reportDate, err := ParseReportDate(in.ReportDate, now)
	if err != nil {
		return nil, apperrors.Validation("validate report", err)
	}

	lat, err := parseCoordinate("latitude", in.Latitude, 90)
	if err != nil {
		return nil, apperrors.Validation("validate report", err)
	}
	lng, err := parseCoordinate("longitude", in.Longitude, 180)
	if err != nil {
		return nil, apperrors.Validation("validate report", err)
	}

	if len(in.Photo) == 0 {
		return nil, apperrors.Validation("validate report", ErrEmptyPhoto)
	}

	return &models.NewReport{
		UserID:              in.UserID,
		LocationDescription: in.LocationDescription,
		Latitude:            lat,
		Longitude:           lng,
		ReportDate:          reportDate,
		Details:             in.Details,
	}, nil
}

// ParseReportDate accepts "2006-01-02 15:04:05", RFC 3339, or a bare date,
// which takes its time of day from now. An empty value means now.
func ParseReportDate(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now, nil
	}
	if t, err := time.ParseInLocation(reportDateLayout, value, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if d, err := time.ParseInLocation(time.DateOnly, value, now.Location()); err == nil {
		return time.Date(d.Year(), d.Month(), d.Day(),
			now.Hour(), now.Minute(), now.Second(), 0, now.Location()), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

func parseCoordinate(field, value string, limit float64) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidCoordinate, field, value)
	}
	if math.IsNaN(v) || v < -limit || v > limit {
		return nil, fmt.Errorf("%w: %s %v out of range", ErrInvalidCoordinate, field, v)
	}
	return &v, nil
}
