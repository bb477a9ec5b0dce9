package database_test

import (
	"context"
	"testing"
	"time"

	"citysnap-backend/internal/apperrors"
	"citysnap-backend/internal/database"
	"citysnap-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReport(userID string) *models.NewReport {
	lat, lng := 37.5665, 126.9780
	return &models.NewReport{
		UserID:              userID,
		PhotoURL:            "bench_20250101120000_ab12cd34.jpg",
		LocationDescription: "Seoul Plaza",
		Latitude:            &lat,
		Longitude:           &lng,
		ReportDate:          time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Details:             "broken slat",
	}
}

func TestMemoryStore_CreateReport(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	store.AddUser(database.MemoryUser{UserID: "u1"})

	created, err := store.CreateReport(ctx, newReport("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ReportID)
	assert.Equal(t, 1, created.NewScore, "NULL score counts as zero")

	r, err := store.GetReport(ctx, created.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.Damaged, r.IsNormal)
	assert.Equal(t, models.RepairPending, r.RepairStatus)
	assert.False(t, r.AIStatus.Valid)

	list, err := store.ListUserReports(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Maintenance)
	assert.Equal(t, models.InitialMaintenanceStatus, list[0].Maintenance.CurrentStatus)
	assert.False(t, list[0].Maintenance.FacilityType.Valid)

	second, err := store.CreateReport(ctx, newReport("u1"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.NewScore)
}

func TestMemoryStore_CreateReportUnknownUserWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()

	_, err := store.CreateReport(ctx, newReport("ghost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrUserNotFound)

	reports, err := store.ListReports(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)

	entries, err := store.ListMaintenanceEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore_AutoCreateUsers(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	store.AutoCreateUsers = true

	created, err := store.CreateReport(ctx, newReport("walk-in"))
	require.NoError(t, err)
	assert.Equal(t, 1, created.NewScore)

	score, ok := store.UserScore("walk-in")
	require.True(t, ok)
	require.NotNil(t, score)
	assert.Equal(t, 1, *score)
}

func TestMemoryStore_UpdateAIResults(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	store.AddUser(database.MemoryUser{UserID: "u1"})
	created, err := store.CreateReport(ctx, newReport("u1"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateAIStatus(ctx, created.ReportID, "processing"))

	mask := "m.png"
	require.NoError(t, store.UpdateAIResults(ctx, created.ReportID, models.AIResult{
		Status:      "벤치 정상",
		MaskURL:     &mask,
		ForceNormal: true,
	}))

	r, err := store.GetReport(ctx, created.ReportID)
	require.NoError(t, err)
	assert.Equal(t, "벤치 정상", r.AIStatus.String)
	assert.Equal(t, "m.png", r.MaskURL.String)
	assert.False(t, r.CaptionEN.Valid)
	assert.Equal(t, models.Normal, r.IsNormal)

	// A later result without the flip leaves is_normal alone.
	require.NoError(t, store.UpdateAIResults(ctx, created.ReportID, models.AIResult{Status: "벤치 파손"}))
	r, err = store.GetReport(ctx, created.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.Normal, r.IsNormal)
	assert.False(t, r.MaskURL.Valid)
}

func TestMemoryStore_DeleteReportCascades(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	store.AddUser(database.MemoryUser{UserID: "u1"})
	created, err := store.CreateReport(ctx, newReport("u1"))
	require.NoError(t, err)

	_, err = store.AddMaintenanceEntry(ctx, &models.NewMaintenanceEntry{
		ReportID:      created.ReportID,
		CurrentStatus: "수리중",
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteReport(ctx, created.ReportID))

	_, err = store.GetReport(ctx, created.ReportID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	entries, err := store.ListMaintenanceEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = store.UpdateAIStatus(ctx, created.ReportID, "processing")
	assert.ErrorIs(t, err, database.ErrReportNotFound)
}

func TestMemoryStore_MaintenanceForMissingReport(t *testing.T) {
	store := database.NewMemoryStore()
	_, err := store.AddMaintenanceEntry(context.Background(), &models.NewMaintenanceEntry{
		ReportID:      99,
		CurrentStatus: "수리중",
	})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestMemoryStore_PushTokensAndLocations(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	store.AddUser(database.MemoryUser{UserID: "admin", IsAdmin: true, PushToken: "ExponentPushToken[a]"})
	store.AddUser(database.MemoryUser{UserID: "admin2", IsAdmin: true})
	store.AddUser(database.MemoryUser{UserID: "u1", PushToken: "ExponentPushToken[u]"})

	tokens, err := store.AdminPushTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ExponentPushToken[a]"}, tokens)

	token, err := store.UserPushToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ExponentPushToken[u]", token)

	_, err = store.CreateReport(ctx, newReport("u1"))
	require.NoError(t, err)
	noCoords := newReport("u1")
	noCoords.Latitude, noCoords.Longitude = nil, nil
	_, err = store.CreateReport(ctx, noCoords)
	require.NoError(t, err)

	locations, err := store.ListReportLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.InDelta(t, 37.5665, locations[0].Latitude, 1e-9)
}

func TestMemoryStore_NearbyPushTokens(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	store.AddUser(database.MemoryUser{UserID: "u1", PushToken: "ExponentPushToken[self]"})
	store.AddUser(database.MemoryUser{UserID: "near", PushToken: "ExponentPushToken[near]"})
	store.AddUser(database.MemoryUser{UserID: "silent"})
	store.AddUser(database.MemoryUser{UserID: "busan", PushToken: "ExponentPushToken[busan]"})

	origin, err := store.CreateReport(ctx, newReport("u1"))
	require.NoError(t, err)

	// Two reports by the same neighbor still yield one token.
	for i := 0; i < 2; i++ {
		nearby := newReport("near")
		lat := 37.5670
		nearby.Latitude = &lat
		_, err = store.CreateReport(ctx, nearby)
		require.NoError(t, err)
	}
	_, err = store.CreateReport(ctx, newReport("silent"))
	require.NoError(t, err)
	far := newReport("busan")
	lat, lng := 35.1796, 129.0756
	far.Latitude, far.Longitude = &lat, &lng
	_, err = store.CreateReport(ctx, far)
	require.NoError(t, err)

	tokens, err := store.NearbyPushTokens(ctx, origin.ReportID, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"ExponentPushToken[near]"}, tokens)

	tokens, err = store.NearbyPushTokens(ctx, origin.ReportID, 0)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	_, err = store.NearbyPushTokens(ctx, 999, 1000)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestMemoryStore_NearbyPushTokensWithoutCoordinates(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	store.AddUser(database.MemoryUser{UserID: "u1"})
	store.AddUser(database.MemoryUser{UserID: "near", PushToken: "ExponentPushToken[near]"})

	_, err := store.CreateReport(ctx, newReport("near"))
	require.NoError(t, err)
	noCoords := newReport("u1")
	noCoords.Latitude, noCoords.Longitude = nil, nil
	origin, err := store.CreateReport(ctx, noCoords)
	require.NoError(t, err)

	tokens, err := store.NearbyPushTokens(ctx, origin.ReportID, 1000)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
