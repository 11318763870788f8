// Package intake implements the mailbox polling pass: fetch, classify,
// verify, decode and persist command messages, deleting each one after
// processing.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gcode-mirror/foe-project/internal/identity"
	"github.com/gcode-mirror/foe-project/internal/mailbox"
	"github.com/gcode-mirror/foe-project/internal/metrics"
	"github.com/gcode-mirror/foe-project/internal/model"
	"github.com/gcode-mirror/foe-project/internal/mq"
	"github.com/gcode-mirror/foe-project/internal/payload"
	"github.com/gcode-mirror/foe-project/internal/subject"
)

// RequestStore persists request rows. Each insert commits independently.
type RequestStore interface {
	InsertRequest(ctx context.Context, req *model.Request) error
}

// FeedStore persists catalog feed records.
type FeedStore interface {
	InsertCatalogFeed(ctx context.Context, feed *model.CatalogFeed) error
}

// Verifier checks a sender's claimed identity. ErrNotVerified failures are
// message-local; any other error is infrastructure and aborts the pass.
type Verifier interface {
	Verify(ctx context.Context, fromEmail, claimedUserID string) (*model.User, error)
}

// EventPublisher notifies fulfillment workers of persisted requests.
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// DupGuard suppresses re-sent command mails. Implementations must fail
// open.
type DupGuard interface {
	AcquireOnce(ctx context.Context, kind, requestID string) bool
	// Release gives a key back when the message it was taken for stays
	// in the mailbox, so the retry is not mistaken for a duplicate.
	Release(ctx context.Context, kind, requestID string)
}

// fetchError marks mailbox read failures so pass-failure accounting can
// tell them apart from storage failures.
type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// Service runs intake passes. One Service instance is driven by a single
// scheduler; passes never overlap.
type Service struct {
	dialer         mailbox.Dialer
	verifier       Verifier
	requests       RequestStore
	feeds          FeedStore
	publisher      EventPublisher
	dupGuard       DupGuard
	processorEmail string
	logger         *zap.Logger
	now            func() time.Time
}

func NewService(
	dialer mailbox.Dialer,
	verifier Verifier,
	requests RequestStore,
	feeds FeedStore,
	processorEmail string,
	logger *zap.Logger,
) *Service {
	return &Service{
		dialer:         dialer,
		verifier:       verifier,
		requests:       requests,
		feeds:          feeds,
		processorEmail: processorEmail,
		logger:         logger.Named("intake"),
		now:            time.Now,
	}
}

// WithPublisher enables best-effort request.received events.
func (s *Service) WithPublisher(p EventPublisher) *Service {
	s.publisher = p
	return s
}

// WithDupGuard enables duplicate suppression of re-sent request ids.
func (s *Service) WithDupGuard(g DupGuard) *Service {
	s.dupGuard = g
	return s
}

// Run executes one pass: connect, iterate messages newest to oldest,
// delete each processed message, disconnect. Connection and storage
// failures abort the pass; everything else is message-local.
func (s *Service) Run(ctx context.Context) (*PassReport, error) {
	started := s.now()

	box, err := s.dialer.Dial(ctx)
	if err != nil {
		metrics.IncrementPassFailure("connect")
		return nil, fmt.Errorf("mailbox unavailable: %w", err)
	}
	defer func() {
		if err := box.Quit(); err != nil {
			s.logger.Warn("mailbox disconnect failed", zap.Error(err))
		}
	}()

	count, err := box.Count()
	if err != nil {
		metrics.IncrementPassFailure("connect")
		return nil, fmt.Errorf("mailbox stat: %w", err)
	}

	report := &PassReport{StartedAt: started, MessageCount: count}
	s.logger.Info("pass started", zap.Int("messages", count))

	for id := count; id >= 1; id-- {
		res, err := s.processMessage(ctx, box, id)
		if err != nil {
			// Pass-fatal: the message stays in the mailbox and is
			// retried next pass instead of being silently lost.
			stage := "store"
			var fe *fetchError
			if errors.As(err, &fe) {
				stage = "fetch"
			}
			metrics.IncrementPassFailure(stage)
			metrics.IncrementMessage("failed")
			s.logger.Error("pass aborted, message retained for retry",
				zap.Int("message", id),
				zap.Error(err),
			)
			return nil, err
		}

		if err := box.Delete(id); err != nil {
			metrics.IncrementPassFailure("connect")
			return nil, fmt.Errorf("delete message %d: %w", id, err)
		}

		metrics.IncrementMessage(res.Outcome.String())
		report.Results = append(report.Results, res)
	}

	report.Duration = s.now().Sub(started)
	metrics.RecordPass(report.Duration)
	s.logger.Info("pass completed",
		zap.Int("messages", count),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// processMessage takes one message to a terminal outcome. A returned
// error means the failure escaped the per-message boundary (storage or
// directory infrastructure) and the pass must abort.
func (s *Service) processMessage(ctx context.Context, box mailbox.Mailbox, id int) (MessageResult, error) {
	res := MessageResult{Index: id}

	env, err := box.FetchEnvelope(id)
	if err != nil {
		return res, &fetchError{fmt.Errorf("fetch message %d: %w", id, err)}
	}

	cmd := subject.Parse(env.Subject)
	res.Kind = cmd.Kind

	if cmd.Kind == model.KindUnrecognized {
		s.logger.Info("non-command message",
			zap.String("from", env.From),
			zap.String("subject", env.Subject),
		)
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	// Registration is exactly the request an unregistered sender makes,
	// so it alone skips verification.
	var user *model.User
	if cmd.Kind != model.KindRegistration {
		u, ok, err := s.verify(ctx, env, cmd)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Outcome = OutcomeRejected
			return res, nil
		}
		user = u
	}

	// The key is taken only after verification, so an unverified sender
	// cannot burn a request id a legitimate client still needs.
	if s.dupGuard != nil && !s.dupGuard.AcquireOnce(ctx, cmd.Kind.String(), cmd.RequestID) {
		s.logger.Info("duplicate request dropped",
			zap.String("kind", cmd.Kind.String()),
			zap.String("request_id", cmd.RequestID),
			zap.String("from", env.From),
		)
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	res, err = s.route(ctx, box, env, user, cmd, res)
	if err != nil && s.dupGuard != nil {
		// The message stays in the mailbox; give the retry its key back
		// so the next pass does not drop it as a duplicate.
		s.dupGuard.Release(ctx, cmd.Kind.String(), cmd.RequestID)
	}
	return res, err
}

func (s *Service) route(ctx context.Context, box mailbox.Mailbox, env *model.Envelope, user *model.User, cmd subject.Command, res MessageResult) (MessageResult, error) {
	switch cmd.Kind {
	case model.KindRegistration:
		return s.routeRegistration(ctx, env, cmd, res)
	case model.KindCatalog:
		return s.routeCatalog(ctx, env, user, cmd, res)
	case model.KindContent:
		return s.routeContent(ctx, box, env, user, cmd, res)
	case model.KindFeed:
		return s.routeFeed(ctx, box, env, user, cmd, res)
	default:
		res.Outcome = OutcomeIgnored
		return res, nil
	}
}

// routeRegistration persists a registration request. An unregistered
// sender is exactly who registration serves, so identity is not checked.
func (s *Service) routeRegistration(ctx context.Context, env *model.Envelope, cmd subject.Command, res MessageResult) (MessageResult, error) {
	req := s.newRequest(model.KindRegistration, env.From, cmd.RequestID, "")
	if err := s.persist(ctx, req); err != nil {
		return res, err
	}
	s.logger.Info("registration request received", zap.String("from", env.From))
	res.Outcome = OutcomePersisted
	res.Rows = 1
	return res, nil
}

func (s *Service) routeCatalog(ctx context.Context, env *model.Envelope, user *model.User, cmd subject.Command, res MessageResult) (MessageResult, error) {
	req := s.newRequest(model.KindCatalog, user.Email, cmd.RequestID, "")
	if err := s.persist(ctx, req); err != nil {
		return res, err
	}
	s.logger.Info("catalog request received", zap.String("from", env.From))
	res.Outcome = OutcomePersisted
	res.Rows = 1
	return res, nil
}

// routeContent persists one row per requested catalog code. The encoded
// list always ends with a comma, so the trailing empty token is dropped.
func (s *Service) routeContent(ctx context.Context, box mailbox.Mailbox, env *model.Envelope, user *model.User, cmd subject.Command, res MessageResult) (MessageResult, error) {
	text, ok, err := s.decodeBody(ctx, box, env, res.Index)
	if err != nil || !ok {
		res.Outcome = OutcomeMalformed
		return res, err
	}

	tokens := strings.Split(strings.TrimSpace(text), ",")
	codes := tokens[:len(tokens)-1]
	if len(codes) == 0 {
		s.logger.Warn("content request with no catalog codes", zap.String("from", env.From))
		res.Outcome = OutcomeMalformed
		return res, nil
	}

	for _, code := range codes {
		req := s.newRequest(model.KindContent, user.Email, cmd.RequestID, code)
		if err := s.persist(ctx, req); err != nil {
			return res, err
		}
		res.Rows++
	}
	s.logger.Info("content request received",
		zap.String("from", env.From),
		zap.Int("catalogs", len(codes)),
	)
	res.Outcome = OutcomePersisted
	return res, nil
}

// routeFeed registers the submitted feed in the catalog, then persists
// the request row.
func (s *Service) routeFeed(ctx context.Context, box mailbox.Mailbox, env *model.Envelope, user *model.User, cmd subject.Command, res MessageResult) (MessageResult, error) {
	text, ok, err := s.decodeBody(ctx, box, env, res.Index)
	if err != nil || !ok {
		res.Outcome = OutcomeMalformed
		return res, err
	}

	fields := strings.Split(strings.TrimSpace(text), ",")
	if len(fields) < 2 {
		s.logger.Warn("feed request missing name or location", zap.String("from", env.From))
		res.Outcome = OutcomeMalformed
		return res, nil
	}

	feed := &model.CatalogFeed{
		Code:        fields[0],
		Name:        fields[0],
		ContentType: "RSS",
		Description: fields[0],
		Location:    fields[1],
	}
	if err := s.feeds.InsertCatalogFeed(ctx, feed); err != nil {
		return res, err
	}

	req := s.newRequest(model.KindFeed, user.Email, cmd.RequestID, "")
	if err := s.persist(ctx, req); err != nil {
		return res, err
	}
	s.logger.Info("feed request received",
		zap.String("from", env.From),
		zap.String("feed", feed.Code),
	)
	res.Outcome = OutcomePersisted
	res.Rows = 1
	return res, nil
}

// verify resolves the sender. ok=false with nil error is a message-local
// rejection; a non-nil error is pass-fatal directory infrastructure.
func (s *Service) verify(ctx context.Context, env *model.Envelope, cmd subject.Command) (*model.User, bool, error) {
	user, err := s.verifier.Verify(ctx, env.From, cmd.UserID)
	if errors.Is(err, identity.ErrNotVerified) {
		s.logger.Warn("request from unverified sender",
			zap.String("kind", cmd.Kind.String()),
			zap.String("from", env.From),
		)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// decodeBody fetches the full message and decodes its payload. ok=false
// with nil error is a message-local malformed payload.
func (s *Service) decodeBody(ctx context.Context, box mailbox.Mailbox, env *model.Envelope, id int) (string, bool, error) {
	msg, err := box.FetchMessage(id)
	if err != nil {
		return "", false, &fetchError{fmt.Errorf("fetch message %d body: %w", id, err)}
	}

	text, err := payload.Decode(msg.Body)
	if err != nil {
		// Keep the raw body in the log; it is the only way to diagnose a
		// client producing garbage.
		var decodeErr *payload.DecodeError
		raw := msg.Body
		step := "unknown"
		if errors.As(err, &decodeErr) {
			raw = decodeErr.Raw
			step = decodeErr.Step
		}
		s.logger.Warn("malformed request payload",
			zap.String("from", env.From),
			zap.String("step", step),
			zap.String("raw_body", raw),
			zap.Error(err),
		)
		return "", false, nil
	}
	return text, true, nil
}

func (s *Service) newRequest(kind model.RequestKind, userEmail, requestID, message string) *model.Request {
	return &model.Request{
		Type:           kind,
		UserEmail:      userEmail,
		RequestID:      requestID,
		ProcessorEmail: s.processorEmail,
		Message:        message,
		ReceivedAt:     s.now(),
		Status:         model.StatusPending,
	}
}

// persist writes one request row and emits the best-effort fulfillment
// event. Store errors propagate and abort the pass.
func (s *Service) persist(ctx context.Context, req *model.Request) error {
	if err := s.requests.InsertRequest(ctx, req); err != nil {
		return err
	}
	metrics.IncrementRequest(req.Type.String())

	if s.publisher != nil {
		code, _ := req.Type.Code()
		event := mq.RequestReceivedPayload{
			RequestType:    code,
			RequestID:      req.RequestID,
			UserEmail:      req.UserEmail,
			ProcessorEmail: req.ProcessorEmail,
			ReceivedAt:     req.ReceivedAt,
		}
		if err := s.publisher.Publish(mq.RoutingKeyRequestReceived, event); err != nil {
			// The Pending row is the durable handoff; the event is only a
			// wake-up for fulfillment workers.
			s.logger.Warn("request.received publish failed",
				zap.String("request_id", req.RequestID),
				zap.Error(err),
			)
		}
	}
	return nil
}
