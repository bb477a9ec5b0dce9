package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"citysnap-backend/internal/database"
	"citysnap-backend/internal/events"
	"citysnap-backend/internal/metrics"
	"citysnap-backend/internal/models"
	"citysnap-backend/internal/notify"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pushURL = "https://exp.host/--/api/v2/push/send"

func okResponder(t *testing.T, received *[][]notify.Message, mu *sync.Mutex) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		var msgs []notify.Message
		if err := json.NewDecoder(req.Body).Decode(&msgs); err != nil {
			return nil, err
		}
		mu.Lock()
		*received = append(*received, msgs)
		mu.Unlock()

		tickets := make([]map[string]string, len(msgs))
		for i := range msgs {
			tickets[i] = map[string]string{"status": "ok", "id": fmt.Sprintf("ticket-%d", i)}
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"data": tickets})
	}
}

func newExpo(transport http.RoundTripper) *notify.ExpoClient {
	return notify.NewExpoClient(pushURL, &http.Client{Transport: transport})
}

func TestExpoClient_SendChunks(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var received [][]notify.Message
	var mu sync.Mutex
	transport.RegisterResponder(http.MethodPost, pushURL, okResponder(t, &received, &mu))

	msgs := make([]notify.Message, 250)
	for i := range msgs {
		msgs[i] = notify.Message{To: fmt.Sprintf("ExponentPushToken[%d]", i), Title: "t", Body: "b"}
	}

	tickets, err := newExpo(transport).Send(context.Background(), msgs)
	require.NoError(t, err)
	assert.Len(t, tickets, 250)
	require.Len(t, received, 3)
	assert.Len(t, received[0], 100)
	assert.Len(t, received[1], 100)
	assert.Len(t, received[2], 50)
	assert.Equal(t, "ExponentPushToken[200]", received[2][0].To)
}

func TestExpoClient_ErrorStatus(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, pushURL,
		httpmock.NewStringResponder(http.StatusTooManyRequests, "slow down"))

	_, err := newExpo(transport).Send(context.Background(), []notify.Message{{To: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestExpoClient_RejectedTicket(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, pushURL, httpmock.NewStringResponder(http.StatusOK,
		`{"data":[{"status":"error","message":"\"x\" is not a registered push notification recipient","details":{"error":"DeviceNotRegistered"}}]}`))

	tickets, err := newExpo(transport).Send(context.Background(), []notify.Message{{To: "x"}})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "error", tickets[0].Status)
	assert.Equal(t, "DeviceNotRegistered", tickets[0].Details["error"])
}

func seededStore() *database.MemoryStore {
	store := database.NewMemoryStore()
	store.AddUser(database.MemoryUser{UserID: "admin1", IsAdmin: true, PushToken: "ExponentPushToken[admin1]"})
	store.AddUser(database.MemoryUser{UserID: "admin2", IsAdmin: true})
	store.AddUser(database.MemoryUser{UserID: "citizen", PushToken: "ExponentPushToken[citizen]"})
	return store
}

func TestNotifier_NotifyAdmins(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var received [][]notify.Message
	var mu sync.Mutex
	transport.RegisterResponder(http.MethodPost, pushURL, okResponder(t, &received, &mu))

	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	require.NoError(t, err)

	n := notify.NewNotifier(newExpo(transport), seededStore(), time.Minute, m, nil)
	err = n.NotifyAdmins(context.Background(), events.Event{Type: events.ReportCreated, ReportID: 7, UserID: "citizen"})
	require.NoError(t, err)

	require.Len(t, received, 1)
	require.Len(t, received[0], 1)
	msg := received[0][0]
	assert.Equal(t, "ExponentPushToken[admin1]", msg.To)
	assert.Equal(t, "[신규 신고 등록 알림]", msg.Title)
	assert.Equal(t, "사용자 'citizen'님이 새로운 파손 내용을 등록하셨습니다.", msg.Body)
	assert.Equal(t, "high", msg.Priority)
	assert.Equal(t, "default", msg.Sound)
	assert.EqualValues(t, 7, msg.Data["report_id"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushSent.WithLabelValues("ok")))
}

type countingTokens struct {
	*database.MemoryStore
	mu    sync.Mutex
	calls int
}

func (c *countingTokens) AdminPushTokens(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.MemoryStore.AdminPushTokens(ctx)
}

func TestNotifier_CachesAdminTokens(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, pushURL,
		httpmock.NewStringResponder(http.StatusOK, `{"data":[{"status":"ok","id":"1"}]}`))

	tokens := &countingTokens{MemoryStore: seededStore()}
	n := notify.NewNotifier(newExpo(transport), tokens, time.Minute, nil, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, n.NotifyAdmins(context.Background(), events.Event{ReportID: int64(i), UserID: "citizen"}))
	}
	assert.Equal(t, 1, tokens.calls)
	assert.Equal(t, 3, transport.GetTotalCallCount())
}

func TestNotifier_NoAdminTokensSkipsSend(t *testing.T) {
	transport := httpmock.NewMockTransport()
	n := notify.NewNotifier(newExpo(transport), database.NewMemoryStore(), time.Minute, nil, nil)

	require.NoError(t, n.NotifyAdmins(context.Background(), events.Event{ReportID: 1, UserID: "u"}))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestNotifier_NotifyOwner(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var received [][]notify.Message
	var mu sync.Mutex
	transport.RegisterResponder(http.MethodPost, pushURL, okResponder(t, &received, &mu))

	n := notify.NewNotifier(newExpo(transport), seededStore(), time.Minute, nil, nil)

	require.NoError(t, n.NotifyOwner(context.Background(),
		events.Event{Type: events.AnalysisCompleted, ReportID: 3, UserID: "citizen", AIStatus: "벤치 파손"}))
	require.NoError(t, n.NotifyOwner(context.Background(),
		events.Event{Type: events.AnalysisFailed, ReportID: 4, UserID: "citizen", AIStatus: "failed:timeout"}))

	require.Len(t, received, 2)
	assert.Equal(t, "ExponentPushToken[citizen]", received[0][0].To)
	assert.Contains(t, received[0][0].Body, "벤치 파손")
	assert.Contains(t, received[1][0].Body, "실패")
}

func TestNotifier_NotifyOwnerSkipsUnfinishedStatus(t *testing.T) {
	transport := httpmock.NewMockTransport()
	n := notify.NewNotifier(newExpo(transport), seededStore(), time.Minute, nil, nil)

	for _, status := range []string{"", "processing"} {
		require.NoError(t, n.NotifyOwner(context.Background(),
			events.Event{Type: events.AnalysisCompleted, ReportID: 3, UserID: "citizen", AIStatus: status}))
	}
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestNotifier_NotifyOwnerUnknownUser(t *testing.T) {
	transport := httpmock.NewMockTransport()
	n := notify.NewNotifier(newExpo(transport), seededStore(), time.Minute, nil, nil)

	err := n.NotifyOwner(context.Background(), events.Event{ReportID: 1, UserID: "ghost", AIStatus: "벤치 파손"})
	assert.True(t, errors.Is(err, database.ErrUserNotFound))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestNotifier_SendFailureCounted(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, pushURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(registry)
	require.NoError(t, err)

	n := notify.NewNotifier(newExpo(transport), seededStore(), time.Minute, m, nil)
	err = n.NotifyAdmins(context.Background(), events.Event{ReportID: 1, UserID: "citizen"})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PushSent.WithLabelValues("error")))
}

func TestNotifier_Subscribe(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var received [][]notify.Message
	var mu sync.Mutex
	transport.RegisterResponder(http.MethodPost, pushURL, okResponder(t, &received, &mu))

	bus := events.NewBus()
	n := notify.NewNotifier(newExpo(transport), seededStore(), time.Minute, nil, nil)
	n.Subscribe(bus, false)

	bus.Publish(events.Event{Type: events.ReportCreated, ReportID: 1, UserID: "citizen"})
	bus.Publish(events.Event{Type: events.AnalysisCompleted, ReportID: 1, UserID: "citizen", AIStatus: "벤치 정상"})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "[신규 신고 등록 알림]", received[0][0].Title)
}

// neighborhoodStore has a report by citizen at Seoul Plaza, one by a
// neighbor a few blocks away and one by a user in Busan.
func neighborhoodStore(t *testing.T) (*database.MemoryStore, int64) {
	t.Helper()
	store := seededStore()
	store.AddUser(database.MemoryUser{UserID: "neighbor", PushToken: "ExponentPushToken[neighbor]"})
	store.AddUser(database.MemoryUser{UserID: "busan", PushToken: "ExponentPushToken[busan]"})

	report := func(userID string, lat, lng float64) int64 {
		created, err := store.CreateReport(context.Background(), &models.NewReport{
			UserID:     userID,
			PhotoURL:   userID + ".jpg",
			Latitude:   &lat,
			Longitude:  &lng,
			ReportDate: time.Now(),
		})
		require.NoError(t, err)
		return created.ReportID
	}
	report("neighbor", 37.5690, 126.9770)
	report("busan", 35.1796, 129.0756)
	return store, report("citizen", 37.5665, 126.9780)
}

func TestNotifier_NotifyNearby(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var received [][]notify.Message
	var mu sync.Mutex
	transport.RegisterResponder(http.MethodPost, pushURL, okResponder(t, &received, &mu))

	store, reportID := neighborhoodStore(t)
	n := notify.NewNotifier(newExpo(transport), store, time.Minute, nil, nil).WithNearbyRadius(1000)

	require.NoError(t, n.NotifyNearby(context.Background(),
		events.Event{Type: events.ReportCreated, ReportID: reportID, UserID: "citizen"}))

	require.Len(t, received, 1)
	require.Len(t, received[0], 1)
	msg := received[0][0]
	assert.Equal(t, "ExponentPushToken[neighbor]", msg.To)
	assert.Equal(t, "[새로운 파손 공공기물 발견]", msg.Title)
	assert.Equal(t, "근처에 새로운 파손된 공공기물이 신고되었습니다.", msg.Body)
	assert.EqualValues(t, reportID, msg.Data["report_id"])
}

func TestNotifier_NotifyNearbyDisabled(t *testing.T) {
	transport := httpmock.NewMockTransport()
	store, reportID := neighborhoodStore(t)
	n := notify.NewNotifier(newExpo(transport), store, time.Minute, nil, nil)

	require.NoError(t, n.NotifyNearby(context.Background(), events.Event{ReportID: reportID, UserID: "citizen"}))
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestNotifier_SubscribeSendsAdminAndNearbyPushes(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var received [][]notify.Message
	var mu sync.Mutex
	transport.RegisterResponder(http.MethodPost, pushURL, okResponder(t, &received, &mu))

	store, reportID := neighborhoodStore(t)
	bus := events.NewBus()
	notify.NewNotifier(newExpo(transport), store, time.Minute, nil, nil).WithNearbyRadius(1000).Subscribe(bus, false)

	bus.Publish(events.Event{Type: events.ReportCreated, ReportID: reportID, UserID: "citizen"})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	recipients := map[string]string{}
	for _, batch := range received {
		for _, msg := range batch {
			recipients[msg.To] = msg.Title
		}
	}
	assert.Equal(t, map[string]string{
		"ExponentPushToken[admin1]":   "[신규 신고 등록 알림]",
		"ExponentPushToken[neighbor]": "[새로운 파손 공공기물 발견]",
	}, recipients)
}
