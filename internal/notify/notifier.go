package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"citysnap-backend/internal/analysis"
	"citysnap-backend/internal/events"
	"citysnap-backend/internal/metrics"
	"citysnap-backend/internal/telemetry"
	"github.com/patrickmn/go-cache"
)

const (
	newReportTitle  = "[신규 신고 등록 알림]"
	nearbyTitle     = "[새로운 파손 공공기물 발견]"
	nearbyBody      = "근처에 새로운 파손된 공공기물이 신고되었습니다."
	analysisTitle   = "[AI 분석 완료]"
	adminTokensKey  = "admin_tokens"
	userTokenKeyFmt = "user:%s"
	sendTimeout     = 15 * time.Second
)

type Sender interface {
	Send(ctx context.Context, msgs []Message) ([]Ticket, error)
}

type TokenSource interface {
	AdminPushTokens(ctx context.Context) ([]string, error)
	UserPushToken(ctx context.Context, userID string) (string, error)
	NearbyPushTokens(ctx context.Context, reportID int64, radiusMeters float64) ([]string, error)
}

// Notifier turns report events into push messages. Token lookups are cached
// so a burst of reports does not hit the users table for every message.
type Notifier struct {
	sender   Sender
	tokens   TokenSource
	cache    *cache.Cache
	metrics  *metrics.PipelineMetrics
	reporter *telemetry.Reporter

	// nearbyRadius is in meters; zero turns neighbor pushes off.
	nearbyRadius float64
}

func NewNotifier(sender Sender, tokens TokenSource, tokenTTL time.Duration, m *metrics.PipelineMetrics, r *telemetry.Reporter) *Notifier {
	return &Notifier{
		sender:   sender,
		tokens:   tokens,
		cache:    cache.New(tokenTTL, 2*tokenTTL),
		metrics:  m,
		reporter: r,
	}
}

// WithNearbyRadius enables pushes to users who reported within meters of a
// new report.
func (n *Notifier) WithNearbyRadius(meters float64) *Notifier {
	n.nearbyRadius = meters
	return n
}

// Subscribe wires the notifier to bus. Owners are only told about finished
// analyses when notifyOwners is set.
func (n *Notifier) Subscribe(bus *events.Bus, notifyOwners bool) {
	bus.Subscribe(events.ReportCreated, n.handle)
	if n.nearbyRadius > 0 {
		bus.Subscribe(events.ReportCreated, n.handleNearby)
	}
	if notifyOwners {
		bus.SubscribeMultiple([]events.Type{events.AnalysisCompleted, events.AnalysisFailed}, n.handle)
	}
}

func (n *Notifier) handle(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var err error
	switch e.Type {
	case events.ReportCreated:
		err = n.NotifyAdmins(ctx, e)
	case events.AnalysisCompleted, events.AnalysisFailed:
		err = n.NotifyOwner(ctx, e)
	}
	n.logFailure(e, err)
}

func (n *Notifier) handleNearby(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	n.logFailure(e, n.NotifyNearby(ctx, e))
}

func (n *Notifier) logFailure(e events.Event, err error) {
	if err != nil {
		log.Printf("[notify] %s for report %d: %v", e.Type, e.ReportID, err)
		n.reporter.CaptureError(err, "notify", map[string]string{"event": string(e.Type)})
	}
}

// NotifyAdmins tells every admin with a push token about a new report.
func (n *Notifier) NotifyAdmins(ctx context.Context, e events.Event) error {
	tokens, err := n.adminTokens(ctx)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	msgs := make([]Message, 0, len(tokens))
	for _, token := range tokens {
		msgs = append(msgs, Message{
			To:        token,
			Title:     newReportTitle,
			Body:      fmt.Sprintf("사용자 '%s'님이 새로운 파손 내용을 등록하셨습니다.", e.UserID),
			Data:      map[string]any{"report_id": e.ReportID},
			Sound:     "default",
			ChannelID: "default",
			Priority:  "high",
		})
	}
	return n.send(ctx, msgs)
}

// NotifyNearby tells users who reported close to the new report's location.
// The submitter is never included.
func (n *Notifier) NotifyNearby(ctx context.Context, e events.Event) error {
	if n.nearbyRadius <= 0 {
		return nil
	}
	tokens, err := n.tokens.NearbyPushTokens(ctx, e.ReportID, n.nearbyRadius)
	if err != nil {
		return fmt.Errorf("failed to load nearby push tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	msgs := make([]Message, 0, len(tokens))
	for _, token := range tokens {
		msgs = append(msgs, Message{
			To:        token,
			Title:     nearbyTitle,
			Body:      nearbyBody,
			Data:      map[string]any{"report_id": e.ReportID},
			Sound:     "default",
			ChannelID: "default",
		})
	}
	return n.send(ctx, msgs)
}

// NotifyOwner tells the submitter how the analysis of their report ended.
func (n *Notifier) NotifyOwner(ctx context.Context, e events.Event) error {
	if e.UserID == "" || !analysis.IsTerminal(e.AIStatus) {
		return nil
	}
	token, err := n.userToken(ctx, e.UserID)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	body := fmt.Sprintf("신고 #%d 분석 결과: %s", e.ReportID, e.AIStatus)
	if analysis.IsFailed(e.AIStatus) {
		body = fmt.Sprintf("신고 #%d 의 AI 분석에 실패했습니다.", e.ReportID)
	}

	return n.send(ctx, []Message{{
		To:        token,
		Title:     analysisTitle,
		Body:      body,
		Data:      map[string]any{"report_id": e.ReportID, "ai_status": e.AIStatus},
		Sound:     "default",
		ChannelID: "default",
	}})
}

func (n *Notifier) send(ctx context.Context, msgs []Message) error {
	tickets, err := n.sender.Send(ctx, msgs)
	if err != nil {
		n.metrics.RecordPush("error")
		return err
	}
	for _, t := range tickets {
		if t.Status == "ok" {
			n.metrics.RecordPush("ok")
			continue
		}
		n.metrics.RecordPush("rejected")
		log.Printf("[notify] push rejected: %s %v", t.Message, t.Details)
	}
	return nil
}

func (n *Notifier) adminTokens(ctx context.Context) ([]string, error) {
	if v, ok := n.cache.Get(adminTokensKey); ok {
		return v.([]string), nil
	}
	tokens, err := n.tokens.AdminPushTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load admin push tokens: %w", err)
	}
	n.cache.SetDefault(adminTokensKey, tokens)
	return tokens, nil
}

func (n *Notifier) userToken(ctx context.Context, userID string) (string, error) {
	key := fmt.Sprintf(userTokenKeyFmt, userID)
	if v, ok := n.cache.Get(key); ok {
		return v.(string), nil
	}
	token, err := n.tokens.UserPushToken(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load push token for %s: %w", userID, err)
	}
	n.cache.SetDefault(key, token)
	return token, nil
}
