// Package usecase hosts the advisory orchestrator: the façade that
// assembles telemetry context, consults the provider gateway, falls back to
// the deterministic responder on any failure, and records the exchange.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"farm-advisory-agent/internal/domain"
	"farm-advisory-agent/internal/fallback"
	"farm-advisory-agent/internal/session"
	"farm-advisory-agent/internal/snapshot"
	"farm-advisory-agent/internal/suggest"
)

// SnapshotRefresher produces a fresh telemetry snapshot for a farm.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, farmID string) (domain.TelemetrySnapshot, error)
}

// Gateway is the provider gateway consumed by the orchestrator.
type Gateway interface {
	Ask(ctx context.Context, messages []domain.PromptMessage) (string, error)
	Status() domain.ProviderStatus
}

// Responder is the deterministic fallback consumed when the gateway cannot
// answer.
type Responder interface {
	Respond(message string, snap *domain.TelemetrySnapshot, history []domain.ChatMessage) fallback.Reply
}

// TurnWriter persists completed exchanges to the hosted data platform.
type TurnWriter interface {
	SaveTurn(ctx context.Context, userID, farmID, question, answer, source string) error
}

// Advisor ties the advisory engine together. All collaborators are injected;
// there is no package-level state.
type Advisor struct {
	snapshots SnapshotRefresher
	gateway   Gateway
	fallback  Responder
	sessions  *session.Store
	turns     TurnWriter
	log       *slog.Logger
	now       func() time.Time
	newID     func() string
}

// AdvisorOption configures an Advisor.
type AdvisorOption func(*Advisor)

// WithClock overrides the wall clock for tests.
func WithClock(now func() time.Time) AdvisorOption {
	return func(a *Advisor) { a.now = now }
}

// WithIDGenerator overrides message id generation for tests.
func WithIDGenerator(gen func() string) AdvisorOption {
	return func(a *Advisor) { a.newID = gen }
}

// NewAdvisor wires the orchestrator. turns may be nil when conversation
// persistence is not wanted; everything else is required.
func NewAdvisor(
	snapshots SnapshotRefresher,
	gateway Gateway,
	responder Responder,
	sessions *session.Store,
	turns TurnWriter,
	log *slog.Logger,
	opts ...AdvisorOption,
) (*Advisor, error) {
	if snapshots == nil {
		return nil, errors.New("usecase: snapshot refresher must not be nil")
	}
	if gateway == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	if responder == nil {
		return nil, errors.New("usecase: fallback responder must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Advisor{
		snapshots: snapshots,
		gateway:   gateway,
		fallback:  responder,
		sessions:  sessions,
		turns:     turns,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Converse handles one user turn and always returns a well-formed assistant
// message; it never returns an error. Gateway failures of every kind route
// the identical inputs to the deterministic fallback.
func (a *Advisor) Converse(ctx context.Context, userID, farmID, text string) domain.ChatMessage {
	text = strings.TrimSpace(text)
	sess := a.sessions.Get(userID, farmID)

	if text == "" {
		return a.appendAssistant(ctx, sess, userID, farmID, "", fallback.Reply{
			Content:  "I didn't catch a question there. Ask me anything about your farm, soil, crops, or the weather.",
			Metadata: domain.MessageMetadata{Confidence: 1},
		}, "fallback")
	}

	var snapPtr *domain.TelemetrySnapshot
	snap, err := a.snapshots.Refresh(ctx, farmID)
	switch {
	case err == nil:
		sess.SetSnapshot(&snap)
		snapPtr = &snap
	case errors.Is(err, snapshot.ErrFarmNotFound):
		// Total subsystem failure still yields a well-formed reply.
		a.appendUser(sess, text)
		return a.appendAssistant(ctx, sess, userID, farmID, text, fallback.Reply{
			Content:  "I'm sorry, I couldn't find any data for this farm. Please check that the farm is still registered, then ask me again.",
			Metadata: domain.MessageMetadata{Confidence: 1},
		}, "fallback")
	default:
		// Transient telemetry failure: answer anyway with the last
		// snapshot this session saw, which may be nil.
		a.log.Warn("telemetry refresh failed", "farmId", farmID, "err", err)
		snapPtr = sess.Snapshot()
	}

	// History before this turn feeds the fallback's follow-up heuristic.
	prior := sess.History()
	a.appendUser(sess, text)

	if st := a.gateway.Status(); st.Configured && !st.QuotaExceeded {
		answer, err := a.gateway.Ask(ctx, buildPromptMessages(sess.Window(), snapPtr))
		if err == nil {
			return a.appendAssistant(ctx, sess, userID, farmID, text, fallback.Reply{Content: answer}, "provider")
		}
		a.log.Warn("provider call failed, using fallback", "farmId", farmID, "err", err)
	}

	reply := a.fallback.Respond(text, snapPtr, prior)
	return a.appendAssistant(ctx, sess, userID, farmID, text, reply, "fallback")
}

// Suggestions evaluates the current snapshot for a farm. When includeAll is
// false only critical and warning items are returned, matching the default
// display policy.
func (a *Advisor) Suggestions(ctx context.Context, farmID string, includeAll bool) ([]domain.Suggestion, error) {
	if strings.TrimSpace(farmID) == "" {
		return nil, newError(ErrorInvalidInput, "empty_farm_id", nil)
	}
	snap, err := a.snapshots.Refresh(ctx, farmID)
	if err != nil {
		if errors.Is(err, snapshot.ErrFarmNotFound) {
			return nil, newError(ErrorNotFound, "farm_not_found", err)
		}
		return nil, newError(ErrorInternal, "telemetry_fetch_error", err)
	}
	list := suggest.Evaluate(snap, a.now())
	if includeAll {
		return list, nil
	}
	return suggest.Actionable(list), nil
}

// ProviderStatus reports the gateway's availability for UI indicators.
func (a *Advisor) ProviderStatus() domain.ProviderStatus {
	return a.gateway.Status()
}

func (a *Advisor) appendUser(sess *session.Session, text string) {
	_ = sess.Append(domain.ChatMessage{
		ID:        a.newID(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: a.now().UTC(),
	})
}

func (a *Advisor) appendAssistant(ctx context.Context, sess *session.Session, userID, farmID, question string, reply fallback.Reply, source string) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:        a.newID(),
		Role:      domain.RoleAssistant,
		Content:   reply.Content,
		Timestamp: a.now().UTC(),
	}
	if reply.Metadata.Confidence > 0 || len(reply.Metadata.SuggestedActions) > 0 || len(reply.Metadata.RelatedSensorIDs) > 0 {
		meta := reply.Metadata
		msg.Metadata = &meta
	}
	_ = sess.Append(msg)

	if a.turns != nil && question != "" {
		if err := a.turns.SaveTurn(ctx, userID, farmID, question, msg.Content, source); err != nil {
			a.log.Warn("failed to persist conversation turn", "farmId", farmID, "err", err)
		}
	}
	return msg
}
