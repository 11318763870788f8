package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gcode-mirror/foe-project/internal/identity"
	"github.com/gcode-mirror/foe-project/internal/mailbox"
	"github.com/gcode-mirror/foe-project/internal/metrics"
	"github.com/gcode-mirror/foe-project/internal/model"
	"github.com/gcode-mirror/foe-project/internal/payload"
)

const processorEmail = "p@proc.com"

type fakeMailbox struct {
	messages map[int]*model.MailMessage
	deleted  []int
	fetched  []int // envelope fetch order
	full     []int // full fetch order

	statErr   error
	fetchErr  error
	deleteErr error
}

func (m *fakeMailbox) Count() (int, error) {
	if m.statErr != nil {
		return 0, m.statErr
	}
	max := 0
	for id := range m.messages {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (m *fakeMailbox) FetchEnvelope(id int) (*model.Envelope, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("no such message %d", id)
	}
	m.fetched = append(m.fetched, id)
	env := msg.Envelope
	return &env, nil
}

func (m *fakeMailbox) FetchMessage(id int) (*model.MailMessage, error) {
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("no such message %d", id)
	}
	m.full = append(m.full, id)
	return msg, nil
}

func (m *fakeMailbox) Delete(id int) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *fakeMailbox) Quit() error { return nil }

type fakeDialer struct {
	box     *fakeMailbox
	dialErr error
}

func (d *fakeDialer) Dial(context.Context) (mailbox.Mailbox, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.box, nil
}

type fakeDirectory struct {
	users map[string]*model.User
	err   error
}

func (d *fakeDirectory) FindByEmail(_ context.Context, email string) (*model.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.users[email], nil
}

type fakeRequestStore struct {
	rows []model.Request
	err  error
}

func (s *fakeRequestStore) InsertRequest(_ context.Context, req *model.Request) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, *req)
	return nil
}

type fakeFeedStore struct {
	feeds []model.CatalogFeed
	err   error
}

func (s *fakeFeedStore) InsertCatalogFeed(_ context.Context, feed *model.CatalogFeed) error {
	if s.err != nil {
		return s.err
	}
	s.feeds = append(s.feeds, *feed)
	return nil
}

type publishedEvent struct {
	routingKey string
	payload    any
}

type fakePublisher struct {
	events []publishedEvent
	err    error
}

func (p *fakePublisher) Publish(routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{routingKey, payload})
	return nil
}

type fakeDupGuard struct {
	seen map[string]bool
}

func (g *fakeDupGuard) AcquireOnce(_ context.Context, kind, requestID string) bool {
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	key := kind + ":" + requestID
	if g.seen[key] {
		return false
	}
	g.seen[key] = true
	return true
}

func (g *fakeDupGuard) Release(_ context.Context, kind, requestID string) {
	delete(g.seen, kind+":"+requestID)
}

func registeredUsers() *fakeDirectory {
	return &fakeDirectory{users: map[string]*model.User{
		"alice@example.com": {UserID: "user-42", Email: "alice@example.com", ProcessorEmail: processorEmail},
	}}
}

type harness struct {
	box      *fakeMailbox
	requests *fakeRequestStore
	feeds    *fakeFeedStore
	service  *Service
}

func newHarness(dir *fakeDirectory, messages map[int]*model.MailMessage) *harness {
	box := &fakeMailbox{messages: messages}
	requests := &fakeRequestStore{}
	feeds := &fakeFeedStore{}
	verifier := identity.NewVerifier(dir, processorEmail, zap.NewNop())
	svc := NewService(&fakeDialer{box: box}, verifier, requests, feeds, processorEmail, zap.NewNop())
	return &harness{box: box, requests: requests, feeds: feeds, service: svc}
}

func message(subject, from, body string) *model.MailMessage {
	return &model.MailMessage{
		Envelope: model.Envelope{Subject: subject, From: from},
		Body:     body,
	}
}

func encode(t *testing.T, text string) string {
	t.Helper()
	encoded, err := payload.Encode(text)
	require.NoError(t, err)
	return encoded
}

func TestCatalogRequestEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-001 by user-42", "alice@example.com", ""),
	})
	publisher := &fakePublisher{}
	h.service.WithPublisher(publisher)

	fixed := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	h.service.now = func() time.Time { return fixed }

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.requests.rows, 1)
	row := h.requests.rows[0]
	assert.Equal(t, model.KindCatalog, row.Type)
	assert.Equal(t, "req-001", row.RequestID)
	assert.Equal(t, "alice@example.com", row.UserEmail)
	assert.Equal(t, processorEmail, row.ProcessorEmail)
	assert.Equal(t, model.StatusPending, row.Status)
	assert.Equal(t, fixed, row.ReceivedAt)
	assert.Empty(t, row.Message)

	assert.Equal(t, []int{1}, h.box.deleted)
	assert.Empty(t, h.box.full, "catalog requests carry no body and must not be fully fetched")

	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomePersisted, report.Results[0].Outcome)
	assert.Equal(t, 1, report.Results[0].Rows)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "request.received", publisher.events[0].routingKey)
}

func TestNonCommandMessagesAreIgnoredAndDeleted(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("Re: your order has shipped", "spam@example.com", ""),
		2: message("CATALOG req-1 by", "alice@example.com", ""), // 3 tokens
		3: message("SUBSCRIBE r by u", "alice@example.com", ""), // unknown keyword
	})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.requests.rows)
	assert.ElementsMatch(t, []int{1, 2, 3}, h.box.deleted)
	for _, res := range report.Results {
		assert.Equal(t, OutcomeIgnored, res.Outcome)
		assert.Equal(t, model.KindUnrecognized, res.Kind)
	}
}

func TestUnverifiedSendersAreRejected(t *testing.T) {
	t.Parallel()

	body := encode(t, "a,b,")
	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "mallory@example.com", ""),    // unknown sender
		2: message("CONTENT req-2 by user-999", "alice@example.com", body),   // user id mismatch
		3: message("FEED req-3 by user-42", "unknown@example.com", body),     // unknown sender
	})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.requests.rows)
	assert.Empty(t, h.feeds.feeds)
	assert.ElementsMatch(t, []int{1, 2, 3}, h.box.deleted)
	for _, res := range report.Results {
		assert.Equal(t, OutcomeRejected, res.Outcome)
	}
	assert.Empty(t, h.box.full, "rejected messages must not be fully fetched")
}

func TestContentRequestPersistsOneRowPerCatalogCode(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CONTENT req-007 by user-42", "alice@example.com", encode(t, "a,b,c,")),
	})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.requests.rows, 3)
	var codes []string
	for _, row := range h.requests.rows {
		assert.Equal(t, model.KindContent, row.Type)
		assert.Equal(t, "req-007", row.RequestID)
		codes = append(codes, row.Message)
	}
	assert.Equal(t, []string{"a", "b", "c"}, codes)

	require.Len(t, report.Results, 1)
	assert.Equal(t, OutcomePersisted, report.Results[0].Outcome)
	assert.Equal(t, 3, report.Results[0].Rows)
	assert.Equal(t, []int{1}, h.box.deleted)
}

func TestContentRequestWithEmptyListPersistsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CONTENT req-9 by user-42", "alice@example.com", encode(t, "")),
	})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.requests.rows)
	assert.Equal(t, OutcomeMalformed, report.Results[0].Outcome)
	assert.Equal(t, []int{1}, h.box.deleted)
}

func TestFeedRequestRegistersCatalogFeed(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("FEED fr-1 by user-42", "alice@example.com", encode(t, "myfeed,http://x/feed,")),
	})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.feeds.feeds, 1)
	feed := h.feeds.feeds[0]
	assert.Equal(t, "myfeed", feed.Code)
	assert.Equal(t, "myfeed", feed.Name)
	assert.Equal(t, "RSS", feed.ContentType)
	assert.Equal(t, "http://x/feed", feed.Location)

	require.Len(t, h.requests.rows, 1)
	assert.Equal(t, model.KindFeed, h.requests.rows[0].Type)
	assert.Empty(t, h.requests.rows[0].Message)

	assert.Equal(t, OutcomePersisted, report.Results[0].Outcome)
}

func TestMalformedPayloadIsLocalToOneMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-ok by user-42", "alice@example.com", ""),
		2: message("CONTENT req-bad by user-42", "alice@example.com", "not*base64"),
	})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	// Newest first: the malformed message is hit before the good one and
	// must not stop the pass.
	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Results[0].Index)
	assert.Equal(t, OutcomeMalformed, report.Results[0].Outcome)
	assert.Equal(t, 1, report.Results[1].Index)
	assert.Equal(t, OutcomePersisted, report.Results[1].Outcome)

	require.Len(t, h.requests.rows, 1)
	assert.Equal(t, "req-ok", h.requests.rows[0].RequestID)
	assert.Equal(t, []int{2, 1}, h.box.deleted)
}

func TestRegistrationSkipsVerification(t *testing.T) {
	t.Parallel()

	// Empty directory: nobody is registered, yet registration persists.
	h := newHarness(&fakeDirectory{}, map[int]*model.MailMessage{
		1: message("Register req-8f2 by Newbie", "newcomer@example.com", ""),
	})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.requests.rows, 1)
	row := h.requests.rows[0]
	assert.Equal(t, model.KindRegistration, row.Type)
	assert.Equal(t, "newcomer@example.com", row.UserEmail)
	assert.Equal(t, OutcomePersisted, report.Results[0].Outcome)
}

func TestMessagesProcessedNewestToOldest(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "alice@example.com", ""),
		2: message("CATALOG req-2 by user-42", "alice@example.com", ""),
		3: message("CATALOG req-3 by user-42", "alice@example.com", ""),
	})

	_, err := h.service.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{3, 2, 1}, h.box.fetched)
	assert.Equal(t, []int{3, 2, 1}, h.box.deleted)
	assert.Equal(t, []string{"req-3", "req-2", "req-1"},
		[]string{h.requests.rows[0].RequestID, h.requests.rows[1].RequestID, h.requests.rows[2].RequestID})
}

func TestStoreFailureAbortsPassAndRetainsMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "alice@example.com", ""),
	})
	storeErr := errors.New("insert failed")
	h.requests.err = storeErr

	_, err := h.service.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Empty(t, h.box.deleted, "message must stay in the mailbox for retry")
}

func TestDirectoryInfrastructureFailureAbortsPass(t *testing.T) {
	t.Parallel()

	dir := registeredUsers()
	dir.err = errors.New("db down")
	h := newHarness(dir, map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "alice@example.com", ""),
	})

	_, err := h.service.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.box.deleted)
}

func TestConnectionFailureIsPassFatal(t *testing.T) {
	t.Parallel()

	verifier := identity.NewVerifier(registeredUsers(), processorEmail, zap.NewNop())
	svc := NewService(
		&fakeDialer{dialErr: errors.New("connection refused")},
		verifier,
		&fakeRequestStore{},
		&fakeFeedStore{},
		processorEmail,
		zap.NewNop(),
	)

	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox unavailable")
}

func TestDuplicateRequestsAreDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "alice@example.com", ""),
		2: message("CATALOG req-1 by user-42", "alice@example.com", ""),
	})
	h.service.WithDupGuard(&fakeDupGuard{})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.requests.rows, 1)
	assert.Equal(t, OutcomePersisted, report.Results[0].Outcome)
	assert.Equal(t, OutcomeDuplicate, report.Results[1].Outcome)
	assert.ElementsMatch(t, []int{1, 2}, h.box.deleted)
}

func TestStoreFailureRetryIsNotTreatedAsDuplicate(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "alice@example.com", ""),
	})
	guard := &fakeDupGuard{}
	h.service.WithDupGuard(guard)

	h.requests.err = errors.New("insert failed")
	_, err := h.service.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.box.deleted)

	// The store recovers; the retained message must persist on the next
	// pass instead of being dropped as a duplicate of itself.
	h.requests.err = nil
	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.requests.rows, 1)
	assert.Equal(t, "req-1", h.requests.rows[0].RequestID)
	assert.Equal(t, OutcomePersisted, report.Results[0].Outcome)
	assert.Equal(t, []int{1}, h.box.deleted)
}

func TestRejectedSenderDoesNotConsumeRequestID(t *testing.T) {
	t.Parallel()

	// Newest first: the impostor's copy is processed before the real one
	// and must not burn the request id.
	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "alice@example.com", ""),
		2: message("CATALOG req-1 by user-42", "mallory@example.com", ""),
	})
	h.service.WithDupGuard(&fakeDupGuard{})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, report.Results[0].Outcome)
	assert.Equal(t, OutcomePersisted, report.Results[1].Outcome)
	require.Len(t, h.requests.rows, 1)
	assert.Equal(t, "alice@example.com", h.requests.rows[0].UserEmail)
}

func TestFetchFailureCountsAgainstFetchStage(t *testing.T) {
	before := testutil.ToFloat64(metrics.PassFailures.WithLabelValues("fetch"))

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "alice@example.com", ""),
	})
	h.box.fetchErr = errors.New("connection reset")

	_, err := h.service.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.box.deleted)

	after := testutil.ToFloat64(metrics.PassFailures.WithLabelValues("fetch"))
	assert.Equal(t, before+1, after)
}

func TestPublishFailureDoesNotFailTheMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{
		1: message("CATALOG req-1 by user-42", "alice@example.com", ""),
	})
	h.service.WithPublisher(&fakePublisher{err: errors.New("broker down")})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.requests.rows, 1)
	assert.Equal(t, OutcomePersisted, report.Results[0].Outcome)
	assert.Equal(t, []int{1}, h.box.deleted)
}

func TestEmptyMailbox(t *testing.T) {
	t.Parallel()

	h := newHarness(registeredUsers(), map[int]*model.MailMessage{})

	report, err := h.service.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.MessageCount)
	assert.Empty(t, report.Results)
	assert.Empty(t, h.box.deleted)
}
