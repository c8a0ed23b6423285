package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger-pipeline/internal/catalog"
	"github.com/capitalize-ai/messenger-pipeline/internal/funnel"
	"github.com/capitalize-ai/messenger-pipeline/internal/leads"
	"github.com/capitalize-ai/messenger-pipeline/internal/model"
	"github.com/capitalize-ai/messenger-pipeline/internal/store"
	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
	"github.com/capitalize-ai/messenger-pipeline/pkg/metrics"
)

// SessionRepository persists conversation sessions.
type SessionRepository interface {
	Get(ctx context.Context, tenantID, senderID string) (*model.Session, error)
	GetOrCreate(ctx context.Context, tenantID, senderID, traceID string, ttl time.Duration) (*model.Session, bool, error)
	// SetFenced writes sess only while fence names the current lock holder.
	SetFenced(ctx context.Context, sess *model.Session, ttl time.Duration, fence store.Fence) error
	Delete(ctx context.Context, tenantID, senderID string) error
}

// SenderLocker serializes turns of one customer.
type SenderLocker interface {
	Acquire(ctx context.Context, tenantID, senderID string) (*store.Lock, error)
}

// AIAssistant answers messages the funnel cannot handle.
type AIAssistant interface {
	AskAI(ctx context.Context, question, summary string) (string, bool)
}

// Outbound delivers replies to the messaging platform.
type Outbound interface {
	SendText(ctx context.Context, token, recipientID, text string) error
	SendTypingIndicator(ctx context.Context, token, recipientID string) error
}

// Reply is the outcome of one processed turn.
type Reply struct {
	Text      string
	Step      model.Step
	Completed bool
	// AIUsed is set when the AI fallback produced the text; AIOK is false
	// when it failed and the apology was used instead.
	AIUsed bool
	AIOK   bool
	// Replayed is set when the turn was already processed and the stored reply was reused.
	Replayed bool
}

// ConversationConfig tunes the engine.
type ConversationConfig struct {
	SessionTTL  time.Duration
	SendTimeout time.Duration
	LeadTimeout time.Duration
}

// ConversationService runs the funnel for one customer turn at a time.
type ConversationService struct {
	sessions SessionRepository
	locker   SenderLocker
	resolver *TenantResolver
	catalog  *catalog.Catalog
	ai       AIAssistant
	outbound Outbound
	leads    leads.Sink
	cfg      ConversationConfig
	tracer   trace.Tracer
	logger   *logger.Logger
	now      func() time.Time
}

// ConversationDeps groups the collaborators of the engine.
type ConversationDeps struct {
	Sessions SessionRepository
	Locker   SenderLocker
	Resolver *TenantResolver
	Catalog  *catalog.Catalog
	AI       AIAssistant
	Outbound Outbound
	Leads    leads.Sink
}

// NewConversationService creates the engine.
func NewConversationService(deps ConversationDeps, cfg ConversationConfig, log *logger.Logger) *ConversationService {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.LeadTimeout <= 0 {
		cfg.LeadTimeout = 5 * time.Second
	}
	cat := deps.Catalog
	if cat == nil {
		cat = catalog.Empty("")
	}
	return &ConversationService{
		sessions: deps.Sessions,
		locker:   deps.Locker,
		resolver: deps.Resolver,
		catalog:  cat,
		ai:       deps.AI,
		outbound: deps.Outbound,
		leads:    deps.Leads,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/capitalize-ai/messenger-pipeline/internal/service"),
		logger:   log.Named("conversation"),
		now:      time.Now,
	}
}

// HandleJob processes a queued event and delivers the reply. A returned
// error is transient and the job should be retried.
func (s *ConversationService) HandleJob(ctx context.Context, job *model.Job) error {
	ev := job.Payload.Event
	tenantID := job.Payload.TenantID

	ctx, span := s.tracer.Start(ctx, "conversation.handle_job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.attempt", job.Attempt),
		attribute.String("tenant.id", tenantID),
		attribute.String("channel.id", ev.ChannelID),
	))
	defer span.End()

	log := s.logger.WithContext(job.ID, tenantID, ev.SenderID)

	token := ""
	if s.resolver != nil {
		token = s.resolver.PageToken(ctx, ev.ChannelID)
	}
	s.sendTyping(ctx, token, ev.SenderID, log)

	reply, err := s.turn(ctx, tenantID, ev.SenderID, ev.Text, ev.EventID, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.String("funnel.step", string(reply.Step)),
		attribute.Bool("turn.replayed", reply.Replayed),
	)

	s.send(ctx, token, ev.SenderID, reply.Text, log)
	return nil
}

// HandleTurn advances the conversation of senderID by one message and
// persists the session before returning. It does not deliver the reply.
func (s *ConversationService) HandleTurn(ctx context.Context, tenantID, senderID, text string) (Reply, error) {
	return s.turn(ctx, tenantID, senderID, text, "", s.logger.WithContext("", tenantID, senderID))
}

func (s *ConversationService) turn(ctx context.Context, tenantID, senderID, text, eventID string, log *logger.Logger) (Reply, error) {
	lock, err := s.locker.Acquire(ctx, tenantID, senderID)
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			metrics.LockContention.Inc()
		}
		return Reply{}, fmt.Errorf("failed to lock sender: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("failed to release sender lock", zap.Error(err))
		}
	}()
	// work stops as soon as another worker takes the sender over
	ctx = lock.Context()

	sess, created, err := s.sessions.GetOrCreate(ctx, tenantID, senderID, traceIDFrom(ctx), s.cfg.SessionTTL)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to load session: %w", err)
	}
	if created {
		log.Debug("session created", zap.String("trace_id", sess.TraceID))
	}

	if eventID != "" && sess.LastEventID == eventID && sess.LastReply != "" {
		log.Info("event already processed, replaying reply", zap.String("event_id", eventID))
		return Reply{Text: sess.LastReply, Step: sess.CurrentStep(), Replayed: true}, nil
	}

	tenant := s.catalog.Tenant(tenantID)
	fields := funnel.ExtractOrderFields(text)
	out := funnel.Advance(sess, text, fields, tenant.Name)

	if out.Advanced() && out.To == model.StepName {
		if p := tenant.FindProduct(sess.Field(model.FieldService)); p != nil {
			sess.Capture(model.FieldProduct, p.Name)
		}
	}

	reply := Reply{Text: out.Reply, Step: out.To, Completed: out.Completed}
	switch {
	case out.Completed:
		product := tenant.FindProduct(sess.Field(model.FieldService))
		shipping := tenant.ShippingCost(sess.Field(model.FieldCity))
		reply.Text = funnel.RenderOrderSheet(tenant, sess, product, shipping) + "\n\n" + funnel.ConfirmationFooter
		s.saveLead(ctx, model.LeadFromSession(sess, s.now()), log)
	case out.NeedsAI:
		reply.AIUsed = true
		reply.Text, reply.AIOK = s.askAI(ctx, text, sess.Summary())
	}

	sess.LastEventID = eventID
	sess.LastReply = reply.Text
	sess.Turns++

	if err := s.sessions.SetFenced(ctx, sess, s.cfg.SessionTTL, lock.Fence()); err != nil {
		if errors.Is(err, store.ErrLockLost) {
			log.Warn("sender lock lost before save, turn discarded", zap.String("event_id", eventID))
		}
		return Reply{}, fmt.Errorf("failed to save session: %w", err)
	}

	if out.Advanced() {
		metrics.FunnelTransitions.WithLabelValues(tenantID, string(out.From), string(out.To)).Inc()
		log.Info("funnel advanced", zap.String("from", string(out.From)), zap.String("to", string(out.To)))
	}

	return reply, nil
}

func (s *ConversationService) askAI(ctx context.Context, question, summary string) (string, bool) {
	if s.ai == nil {
		return funnel.Apology, false
	}
	answer, ok := s.ai.AskAI(ctx, question, summary)
	if !ok {
		return funnel.Apology, false
	}
	return answer, true
}

func (s *ConversationService) saveLead(ctx context.Context, lead model.Lead, log *logger.Logger) {
	if s.leads == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LeadTimeout)
	defer cancel()

	if err := s.leads.SaveLead(ctx, lead); err != nil {
		metrics.LeadsTotal.WithLabelValues(lead.TenantID, "error").Inc()
		log.Error("failed to save lead", zap.Error(err))
		return
	}
	metrics.LeadsTotal.WithLabelValues(lead.TenantID, "saved").Inc()
}

func (s *ConversationService) sendTyping(ctx context.Context, token, recipientID string, log *logger.Logger) {
	if s.outbound == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	if err := s.outbound.SendTypingIndicator(ctx, token, recipientID); err != nil {
		metrics.OutboundTotal.WithLabelValues("typing", "error").Inc()
		log.Debug("typing indicator failed", zap.Error(err))
		return
	}
	metrics.OutboundTotal.WithLabelValues("typing", "ok").Inc()
}

func (s *ConversationService) send(ctx context.Context, token, recipientID, text string, log *logger.Logger) {
	if s.outbound == nil || text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	if err := s.outbound.SendText(ctx, token, recipientID, text); err != nil {
		metrics.OutboundTotal.WithLabelValues("text", "error").Inc()
		log.Error("failed to send reply", zap.Error(err))
		return
	}
	metrics.OutboundTotal.WithLabelValues("text", "ok").Inc()
}

// Session returns the stored session of a customer, or nil.
func (s *ConversationService) Session(ctx context.Context, tenantID, senderID string) (*model.Session, error) {
	return s.sessions.Get(ctx, tenantID, senderID)
}

// ResetSession clears a customer's session while holding the sender lock.
func (s *ConversationService) ResetSession(ctx context.Context, tenantID, senderID string) error {
	lock, err := s.locker.Acquire(ctx, tenantID, senderID)
	if err != nil {
		return fmt.Errorf("failed to lock sender: %w", err)
	}
	defer func() { _ = lock.Release() }()

	return s.sessions.Delete(lock.Context(), tenantID, senderID)
}

// traceIDFrom returns the trace id of the active span, or a random id when
// tracing is disabled.
func traceIDFrom(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}
