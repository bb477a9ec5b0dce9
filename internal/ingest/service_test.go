package ingest_test

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"citysnap-backend/internal/apperrors"
	"citysnap-backend/internal/database"
	"citysnap-backend/internal/ingest"
	"citysnap-backend/internal/media"
	"citysnap-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 5, 6, 14, 30, 15, 0, time.UTC)

func validInput() ingest.Input {
	return ingest.Input{
		Photo:               []byte("jpeg-bytes"),
		PhotoFilename:       "bench.jpg",
		LocationDescription: "Hangang Park",
		Latitude:            "37.52",
		Longitude:           "126.93",
		UserID:              "u1",
		Details:             "seat broken",
		ReportDate:          "2025-05-06 09:00:00",
	}
}

func newService(t *testing.T) (*ingest.Service, *database.MemoryStore, *media.LocalStore) {
	t.Helper()
	store := database.NewMemoryStore()
	store.AddUser(database.MemoryUser{UserID: "u1"})
	photos, err := media.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := ingest.NewService(store, photos).WithClock(func() time.Time { return fixedNow })
	return svc, store, photos
}

func photoCount(t *testing.T, photos *media.LocalStore) int {
	t.Helper()
	entries, err := os.ReadDir(photos.Dir())
	require.NoError(t, err)
	return len(entries)
}

func TestSubmit_RecordsReport(t *testing.T) {
	svc, store, photos := newService(t)
	ctx := context.Background()

	res, err := svc.Submit(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewScore)
	assert.Regexp(t, regexp.MustCompile(`^bench_20250506143015_[0-9a-f]{8}\.jpg$`), res.PhotoFilename)

	data, err := photos.Read(ctx, res.PhotoFilename)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	r, err := store.GetReport(ctx, res.ReportID)
	require.NoError(t, err)
	assert.Equal(t, res.PhotoFilename, r.PhotoURL)
	assert.Equal(t, time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC), r.ReportDate)
	assert.InDelta(t, 37.52, r.Latitude.Float64, 1e-9)
	assert.False(t, r.AIStatus.Valid)
	assert.Equal(t, models.Damaged, r.IsNormal)
	assert.Equal(t, models.RepairPending, r.RepairStatus)

	list, err := store.ListUserReports(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Maintenance)
	assert.Equal(t, models.InitialMaintenanceStatus, list[0].Maintenance.CurrentStatus)

	res2, err := svc.Submit(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, 2, res2.NewScore)
	assert.NotEqual(t, res.PhotoFilename, res2.PhotoFilename)
}

func TestSubmit_InvalidDateWritesNothing(t *testing.T) {
	svc, store, photos := newService(t)
	in := validInput()
	in.ReportDate = "06/05/2025"

	_, err := svc.Submit(context.Background(), in)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.ErrorIs(t, err, ingest.ErrInvalidDate)

	reports, _ := store.ListReports(context.Background())
	assert.Empty(t, reports)
	assert.Zero(t, photoCount(t, photos))
}

func TestSubmit_InvalidCoordinates(t *testing.T) {
	for name, mutate := range map[string]func(*ingest.Input){
		"latitude out of range": func(in *ingest.Input) { in.Latitude = "91" },
		"longitude not number":  func(in *ingest.Input) { in.Longitude = "east" },
		"latitude NaN":          func(in *ingest.Input) { in.Latitude = "NaN" },
	} {
		t.Run(name, func(t *testing.T) {
			svc, _, photos := newService(t)
			in := validInput()
			mutate(&in)

			_, err := svc.Submit(context.Background(), in)
			assert.ErrorIs(t, err, ingest.ErrInvalidCoordinate)
			assert.True(t, apperrors.Is(err, apperrors.KindValidation))
			assert.Zero(t, photoCount(t, photos))
		})
	}
}

func TestSubmit_MissingCoordinatesAreNull(t *testing.T) {
	svc, store, _ := newService(t)
	in := validInput()
	in.Latitude, in.Longitude = "", ""

	res, err := svc.Submit(context.Background(), in)
	require.NoError(t, err)

	r, err := store.GetReport(context.Background(), res.ReportID)
	require.NoError(t, err)
	assert.False(t, r.Latitude.Valid)
	assert.False(t, r.Longitude.Valid)
}

func TestSubmit_PersistenceFailureRemovesPhoto(t *testing.T) {
	svc, store, photos := newService(t)
	store.FailCreate = errors.New("connection refused")

	_, err := svc.Submit(context.Background(), validInput())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))

	reports, _ := store.ListReports(context.Background())
	assert.Empty(t, reports)
	assert.Zero(t, photoCount(t, photos))
}

func TestSubmit_UnknownSubmitterIsPersistenceFailure(t *testing.T) {
	svc, _, photos := newService(t)
	in := validInput()
	in.UserID = "ghost"

	_, err := svc.Submit(context.Background(), in)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
	assert.ErrorIs(t, err, database.ErrUserNotFound)
	assert.Zero(t, photoCount(t, photos))
}

type failingPhotos struct {
	saves int
}

func (f *failingPhotos) Save(context.Context, string, []byte) (string, error) {
	f.saves++
	return "", errors.New("disk full")
}

func (f *failingPhotos) Delete(context.Context, string) error { return nil }

type countingCreator struct {
	calls int
}

func (c *countingCreator) CreateReport(context.Context, *models.NewReport) (*models.CreatedReport, error) {
	c.calls++
	return &models.CreatedReport{ReportID: 1, NewScore: 1}, nil
}

func TestSubmit_StorageFailureSkipsDatabase(t *testing.T) {
	photos := &failingPhotos{}
	creator := &countingCreator{}
	svc := ingest.NewService(creator, photos)

	_, err := svc.Submit(context.Background(), validInput())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindStorage))
	assert.Equal(t, 1, photos.saves)
	assert.Zero(t, creator.calls)
}

func TestParseReportDate(t *testing.T) {
	got, err := ingest.ParseReportDate("2025-01-02", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 14, 30, 15, 0, time.UTC), got)

	got, err = ingest.ParseReportDate("2025-01-02T03:04:05Z", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), got)

	got, err = ingest.ParseReportDate("", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, got)

	_, err = ingest.ParseReportDate("2025-13-45", fixedNow)
	assert.ErrorIs(t, err, ingest.ErrInvalidDate)
}
