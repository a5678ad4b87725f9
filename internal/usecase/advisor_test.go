package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"farm-advisory-agent/internal/domain"
	"farm-advisory-agent/internal/fallback"
	"farm-advisory-agent/internal/session"
	"farm-advisory-agent/internal/snapshot"
)

var advisorNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

type mockRefresher struct {
	snap  domain.TelemetrySnapshot
	err   error
	calls int
}

func (m *mockRefresher) Refresh(_ context.Context, _ string) (domain.TelemetrySnapshot, error) {
	m.calls++
	return m.snap, m.err
}

type mockGateway struct {
	answer   string
	err      error
	status   domain.ProviderStatus
	askCalls int
	captured []domain.PromptMessage
}

func (m *mockGateway) Ask(_ context.Context, messages []domain.PromptMessage) (string, error) {
	m.askCalls++
	m.captured = messages
	return m.answer, m.err
}

func (m *mockGateway) Status() domain.ProviderStatus {
	return m.status
}

type mockTurns struct {
	err      error
	userID   string
	farmID   string
	question string
	answer   string
	source   string
	calls    int
}

func (m *mockTurns) SaveTurn(_ context.Context, userID, farmID, question, answer, source string) error {
	m.calls++
	m.userID, m.farmID = userID, farmID
	m.question, m.answer, m.source = question, answer, source
	return m.err
}

func available() domain.ProviderStatus {
	return domain.ProviderStatus{Configured: true}
}

func farmSnapshot() domain.TelemetrySnapshot {
	return domain.TelemetrySnapshot{
		FarmID:   "farm-1",
		FarmName: "Green Acres",
		Location: "Nakuru",
		Sensors: []domain.SensorReading{
			{ID: "ph-1", Name: "Soil pH probe", Type: "pH", Value: 6.8, Unit: "pH", ObservedAt: advisorNow.Add(-time.Hour)},
		},
		TakenAt: advisorNow,
	}
}

func newTestAdvisor(t *testing.T, r SnapshotRefresher, g Gateway, turns TurnWriter, opts ...session.Option) *Advisor {
	t.Helper()
	sessions, err := session.NewStore("You are a farm advisor.", opts...)
	require.NoError(t, err)

	seq := 0
	adv, err := NewAdvisor(r, g, fallback.NewComposer(), sessions, turns, slog.Default(),
		WithClock(func() time.Time { return advisorNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("msg-%d", seq)
		}),
	)
	require.NoError(t, err)
	return adv
}

func TestNewAdvisor_ValidatesDependencies(t *testing.T) {
	sessions, err := session.NewStore("persona")
	require.NoError(t, err)
	g := &mockGateway{status: available()}
	r := &mockRefresher{}

	_, err = NewAdvisor(nil, g, fallback.NewComposer(), sessions, nil, nil)
	require.Error(t, err)
	_, err = NewAdvisor(r, nil, fallback.NewComposer(), sessions, nil, nil)
	require.Error(t, err)
	_, err = NewAdvisor(r, g, nil, sessions, nil, nil)
	require.Error(t, err)
	_, err = NewAdvisor(r, g, fallback.NewComposer(), nil, nil, nil)
	require.Error(t, err)
}

func TestConverse_ProviderAnswer(t *testing.T) {
	g := &mockGateway{answer: "Your pH looks fine.", status: available()}
	turns := &mockTurns{}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, turns)

	msg := adv.Converse(context.Background(), "u1", "farm-1", "how is my pH?")
	require.Equal(t, domain.RoleAssistant, msg.Role)
	require.Equal(t, "Your pH looks fine.", msg.Content)
	require.Nil(t, msg.Metadata) // provider replies carry no fallback metadata
	require.Equal(t, 1, g.askCalls)

	require.Equal(t, 1, turns.calls)
	require.Equal(t, "provider", turns.source)
	require.Equal(t, "how is my pH?", turns.question)
}

func TestConverse_PromptContainsSystemAndContext(t *testing.T) {
	g := &mockGateway{answer: "ok", status: available()}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, nil)

	adv.Converse(context.Background(), "u1", "farm-1", "hello")
	require.NotEmpty(t, g.captured)
	require.Equal(t, "system", g.captured[0].Role)
	require.Contains(t, g.captured[0].Content, "You are a farm advisor.")
	require.Contains(t, g.captured[0].Content, "Green Acres")
	require.Equal(t, "user", g.captured[len(g.captured)-1].Role)
	require.Equal(t, "hello", g.captured[len(g.captured)-1].Content)
}

func TestConverse_GatewayFailureFallsBack(t *testing.T) {
	g := &mockGateway{err: errors.New("boom"), status: available()}
	turns := &mockTurns{}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, turns)

	msg := adv.Converse(context.Background(), "u1", "farm-1", "how is my farm doing?")
	require.Equal(t, domain.RoleAssistant, msg.Role)
	require.NotEmpty(t, msg.Content)
	require.Contains(t, msg.Content, "Green Acres")
	require.NotNil(t, msg.Metadata)
	require.Equal(t, "fallback", turns.source)
}

func TestConverse_UnconfiguredSkipsGatewayCall(t *testing.T) {
	g := &mockGateway{status: domain.ProviderStatus{Configured: false}}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, nil)

	msg := adv.Converse(context.Background(), "u1", "farm-1", "how do I improve my soil?")
	require.Equal(t, 0, g.askCalls)
	require.NotEmpty(t, msg.Content)
}

func TestConverse_QuotaExceededSkipsGatewayCall(t *testing.T) {
	g := &mockGateway{status: domain.ProviderStatus{Configured: true, QuotaExceeded: true}}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, nil)

	msg := adv.Converse(context.Background(), "u1", "farm-1", "any advice on irrigation?")
	require.Equal(t, 0, g.askCalls)
	require.NotEmpty(t, msg.Content)
}

func TestConverse_CancelledContextStillAnswers(t *testing.T) {
	g := &mockGateway{err: context.Canceled, status: available()}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg := adv.Converse(ctx, "u1", "farm-1", "how is my farm doing?")
	require.Equal(t, domain.RoleAssistant, msg.Role)
	require.NotEmpty(t, msg.Content)
}

func TestConverse_FarmNotFoundReturnsApology(t *testing.T) {
	adv := newTestAdvisor(t, &mockRefresher{err: snapshot.ErrFarmNotFound}, &mockGateway{status: available()}, nil)

	msg := adv.Converse(context.Background(), "u1", "missing", "hello?")
	require.Equal(t, domain.RoleAssistant, msg.Role)
	require.Contains(t, msg.Content, "couldn't find any data for this farm")
}

func TestConverse_TransientTelemetryFailureStillAnswers(t *testing.T) {
	r := &mockRefresher{err: errors.New("dynamodb timeout")}
	adv := newTestAdvisor(t, r, &mockGateway{status: domain.ProviderStatus{}}, nil)

	msg := adv.Converse(context.Background(), "u1", "farm-1", "what about pests?")
	require.Equal(t, domain.RoleAssistant, msg.Role)
	require.NotEmpty(t, msg.Content)
}

func TestConverse_EmptyInput(t *testing.T) {
	g := &mockGateway{status: available()}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, nil)

	msg := adv.Converse(context.Background(), "u1", "farm-1", "   ")
	require.Equal(t, 0, g.askCalls)
	require.Contains(t, msg.Content, "didn't catch a question")
}

func TestConverse_SessionWindowBounded(t *testing.T) {
	g := &mockGateway{answer: "ok", status: available()}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, nil, session.WithWindow(4))

	for i := 0; i < 6; i++ {
		adv.Converse(context.Background(), "u1", "farm-1", fmt.Sprintf("question %d", i))
	}

	// The gateway saw the pinned system message plus at most the window of
	// non-system messages.
	require.Equal(t, "system", g.captured[0].Role)
	require.LessOrEqual(t, len(g.captured), 5)
	require.Equal(t, "question 5", g.captured[len(g.captured)-1].Content)
}

func TestConverse_PersistenceFailureIsSwallowed(t *testing.T) {
	g := &mockGateway{answer: "ok", status: available()}
	turns := &mockTurns{err: errors.New("write throttled")}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, g, turns)

	msg := adv.Converse(context.Background(), "u1", "farm-1", "hello")
	require.Equal(t, "ok", msg.Content)
	require.Equal(t, 1, turns.calls)
}

func TestSuggestions_DefaultViewFiltersToActionable(t *testing.T) {
	snap := farmSnapshot()
	snap.Sensors = append(snap.Sensors, domain.SensorReading{
		ID: "m-1", Name: "Moisture sensor", Type: "soil moisture", Value: 12, Unit: "%",
		ObservedAt: advisorNow.Add(-time.Hour),
	})
	adv := newTestAdvisor(t, &mockRefresher{snap: snap}, &mockGateway{status: available()}, nil)

	shown, err := adv.Suggestions(context.Background(), "farm-1", false)
	require.NoError(t, err)
	require.Len(t, shown, 1)
	require.Equal(t, "moisture-low-m-1", shown[0].ID)

	all, err := adv.Suggestions(context.Background(), "farm-1", true)
	require.NoError(t, err)
	require.Len(t, all, 2) // ph-good + moisture-low
}

func TestSuggestions_Errors(t *testing.T) {
	adv := newTestAdvisor(t, &mockRefresher{err: snapshot.ErrFarmNotFound}, &mockGateway{status: available()}, nil)

	_, err := adv.Suggestions(context.Background(), "", false)
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)

	_, err = adv.Suggestions(context.Background(), "missing", false)
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorNotFound, ucErr.Code)

	adv = newTestAdvisor(t, &mockRefresher{err: errors.New("timeout")}, &mockGateway{status: available()}, nil)
	_, err = adv.Suggestions(context.Background(), "farm-1", false)
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInternal, ucErr.Code)
}

func TestProviderStatus_PassesThrough(t *testing.T) {
	st := domain.ProviderStatus{Configured: true, QuotaExceeded: true}
	adv := newTestAdvisor(t, &mockRefresher{snap: farmSnapshot()}, &mockGateway{status: st}, nil)
	require.Equal(t, st, adv.ProviderStatus())
}
