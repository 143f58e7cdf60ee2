package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "followup-dispatcher/internal/common/errors"
	"followup-dispatcher/internal/common/logger"
)

// ==========================
// Test Doubles
// ==========================

type memStore struct {
	mu       sync.Mutex
	order    []string
	records  map[string]ApplicationRecord
	listErr  error
	markErrs map[string]error
	marks    int
}

func newMemStore(records ...ApplicationRecord) *memStore {
	s := &memStore{records: make(map[string]ApplicationRecord), markErrs: make(map[string]error)}
	for _, r := range records {
		s.order = append(s.order, r.Email)
		s.records[r.Email] = r
	}
	return s
}

func (s *memStore) ListApplications(ctx context.Context) ([]ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]ApplicationRecord, 0, len(s.order))
	for _, email := range s.order {
		out = append(out, s.records[email])
	}
	return out, nil
}

func (s *memStore) MarkStageSent(ctx context.Context, email string, stage Stage, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markErrs[email]; err != nil {
		return err
	}
	s.marks++
	rec := s.records[email]
	ts := at.UTC().Format("2006-01-02T15:04:05.000Z")
	switch stage {
	case Stage2:
		if rec.Stage2SentAt == "" {
			rec.Stage2SentAt = ts
		}
	case Stage3:
		if rec.Stage3SentAt == "" {
			rec.Stage3SentAt = ts
		}
	}
	s.records[email] = rec
	return nil
}

func (s *memStore) get(email string) ApplicationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[email]
}

type recordingTransport struct {
	mu      sync.Mutex
	sent    []Message
	failFor map[string]error
	dedupe  map[string]bool
}

func (t *recordingTransport) Send(ctx context.Context, msg Message) (Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failFor[msg.To]; err != nil {
		return Receipt{}, err
	}
	if t.dedupe[msg.To] {
		return Receipt{MessageID: "earlier", Deduplicated: true}, nil
	}
	t.sent = append(t.sent, msg)
	return Receipt{MessageID: fmt.Sprintf("msg-%d", len(t.sent)), SentAt: now}, nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type recordingAudit struct {
	attempts []Attempt
	err      error
}

func (a *recordingAudit) Record(ctx context.Context, attempt Attempt) error {
	a.attempts = append(a.attempts, attempt)
	return a.err
}

var testTemplates = StaticTemplateSource{
	Stage2: {
		Subject: "💵 Scholarship Granted for the 2026 AI Accelerator",
		HTML:    "<p>{{name}}: you requested {{amount}} and were granted {{grantedAmount}}. Reply by {{date}}. <a href=\"{{emailSettings}}\">settings</a></p>",
		Text:    "{{name}}: you requested {{amount}} and were granted {{grantedAmount}}.",
	},
	Stage3: {
		Subject: "⏰ Scholarship Deadline Today for the 2026 AI Accelerator",
		HTML:    "<p>{{name}}, today is the deadline: {{date}}</p>",
		Text:    "{{name}}, today is the deadline: {{date}}",
	},
}

type harness struct {
	store     *memStore
	transport *recordingTransport
	audit     *recordingAudit
	pauses    []time.Duration
	clock     time.Time
}

func newHarness(records ...ApplicationRecord) *harness {
	return &harness{
		store:     newMemStore(records...),
		transport: &recordingTransport{failFor: map[string]error{}, dedupe: map[string]bool{}},
		audit:     &recordingAudit{},
		clock:     now,
	}
}

func (h *harness) dispatcher(t *testing.T, mutate ...func(*Options)) *Dispatcher {
	t.Helper()
	opts := Options{
		Campaign:  "ai-accelerator",
		Store:     h.store,
		Transport: h.transport,
		Templates: testTemplates,
		Tiers:     DefaultTierTable(),
		Evaluator: DefaultEvaluator(),
		Renderer:  testRenderer(),
		Sender: Sender{
			From:    "hello@example.com",
			ReplyTo: "hello@example.com",
			BCC:     []string{"hello@example.com"},
		},
		Audit:         h.audit,
		Logger:        logger.NewTestLogger(t),
		SendsPerPause: 14,
		Pause:         time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.pauses = append(h.pauses, d)
			return ctx.Err()
		},
		Now:      func() time.Time { return h.clock },
		NewRunID: func() string { return "run-test" },
	}
	for _, m := range mutate {
		m(&opts)
	}
	d, err := NewDispatcher(opts)
	require.NoError(t, err)
	return d
}

func applicant(email, tier string, applied string) ApplicationRecord {
	name := strings.Split(email, "@")[0]
	return ApplicationRecord{Email: email, Name: name, Assistance: tier, Applied: applied}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestDispatcher_Run_NewApplicantNothingDue(t *testing.T) {
	h := newHarness(applicant("new@example.com", "25", daysAgo(0)))

	report, err := h.dispatcher(t).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Records)
	assert.Equal(t, 0, report.Stage2Sent+report.Stage3Sent)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 0, h.transport.count())
	assert.Empty(t, h.audit.attempts)
}

func TestDispatcher_Run_Stage2ThenIdempotent(t *testing.T) {
	h := newHarness(applicant("ada@example.com", "50", daysAgo(1)))
	d := h.dispatcher(t)

	report, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "run-test", report.RunID)
	assert.Equal(t, 1, report.Stage2Sent)
	assert.Equal(t, 0, report.Stage3Sent)
	require.Equal(t, 1, h.transport.count())

	msg := h.transport.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "hello@example.com", msg.From)
	assert.Equal(t, []string{"hello@example.com"}, msg.BCC)
	assert.Equal(t, "💵 Scholarship Granted for the 2026 AI Accelerator", msg.Subject)
	assert.Contains(t, msg.HTML, "you requested $15,000 and were granted $16,500")
	assert.Contains(t, msg.HTML, "Tuesday, March 17, 2026")
	assert.Equal(t, "stage2", msg.Tags["stage"])
	assert.Equal(t, "ai-accelerator", msg.Tags["campaign"])

	assert.Equal(t, "2026-03-10T12:00:00.000Z", h.store.get("ada@example.com").Stage2SentAt)
	require.Len(t, h.audit.attempts, 1)
	assert.Equal(t, StatusSent, h.audit.attempts[0].Status)
	assert.Equal(t, "msg-1", h.audit.attempts[0].MessageID)

	report, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stage2Sent)
	assert.Equal(t, 1, h.transport.count())
}

func TestDispatcher_Run_Stage3AfterStage2(t *testing.T) {
	rec := applicant("ada@example.com", "75", daysAgo(8))
	rec.Stage2SentAt = "2026-03-03T08:00:00.000Z"
	h := newHarness(rec)

	report, err := h.dispatcher(t).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Stage3Sent)
	require.Equal(t, 1, h.transport.count())
	assert.Equal(t, "⏰ Scholarship Deadline Today for the 2026 AI Accelerator", h.transport.sent[0].Subject)
	assert.Contains(t, h.transport.sent[0].Text, "Tuesday, March 10, 2026")
	assert.NotEmpty(t, h.store.get("ada@example.com").Stage3SentAt)
}

func TestDispatcher_Run_BothStagesUnderApplicationPolicy(t *testing.T) {
	h := newHarness(applicant("ada@example.com", "0", daysAgo(9)))
	d := h.dispatcher(t, func(o *Options) {
		o.Evaluator.Policy = PolicyRelativeToApplication
	})

	report, err := d.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Stage2Sent)
	assert.Equal(t, 1, report.Stage3Sent)
	require.Equal(t, 2, h.transport.count())
	assert.Equal(t, "stage2", h.transport.sent[0].Tags["stage"])
	assert.Equal(t, "stage3", h.transport.sent[1].Tags["stage"])
}

// ==========================
// Failure Isolation Tests
// ==========================

func TestDispatcher_Run_UnknownTierIsIsolated(t *testing.T) {
	h := newHarness(
		applicant("odd@example.com", "99", daysAgo(2)),
		applicant("ada@example.com", "50", daysAgo(2)),
	)

	report, err := h.dispatcher(t).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Stage2Sent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "odd@example.com", report.Failures[0].Email)
	assert.Equal(t, "stage2", report.Failures[0].Stage)
	assert.Equal(t, string(apperrors.ErrCodeTierNotFound), report.Failures[0].Code)
	assert.Empty(t, h.store.get("odd@example.com").Stage2SentAt)
	assert.NotEmpty(t, h.store.get("ada@example.com").Stage2SentAt)

	require.Len(t, h.audit.attempts, 2)
	assert.Equal(t, StatusFailed, h.audit.attempts[0].Status)
	assert.Equal(t, "TIER_NOT_FOUND", h.audit.attempts[0].ErrorCode)
}

func TestDispatcher_Run_TransportFailureLeavesMarkerUnset(t *testing.T) {
	h := newHarness(
		applicant("bounce@example.com", "25", daysAgo(2)),
		applicant("ada@example.com", "25", daysAgo(2)),
	)
	h.transport.failFor["bounce@example.com"] = errors.New("MessageRejected")

	report, err := h.dispatcher(t).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Stage2Sent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, string(apperrors.ErrCodeNotificationSendFailed), report.Failures[0].Code)
	assert.Empty(t, h.store.get("bounce@example.com").Stage2SentAt)
}

func TestDispatcher_Run_MarkerFailureAfterSend(t *testing.T) {
	h := newHarness(applicant("ada@example.com", "25", daysAgo(2)))
	h.store.markErrs["ada@example.com"] = errors.New("throughput exceeded")

	report, err := h.dispatcher(t, func(o *Options) { o.SendsPerPause = 1 }).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, h.transport.count())
	assert.Equal(t, 0, report.Stage2Sent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, string(apperrors.ErrCodeMarkerUpdateFailed), report.Failures[0].Code)
	assert.Equal(t, 1, report.Pauses)
}

func TestDispatcher_Run_MalformedTimestamp(t *testing.T) {
	h := newHarness(
		applicant("bad@example.com", "25", "the other day"),
		applicant("ada@example.com", "25", daysAgo(2)),
	)

	report, err := h.dispatcher(t).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Stage2Sent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "evaluate", report.Failures[0].Stage)
	assert.Equal(t, string(apperrors.ErrCodeInvalidTimestamp), report.Failures[0].Code)
}

func TestDispatcher_Run_EmptyRenderIsFailure(t *testing.T) {
	h := newHarness(applicant("ada@example.com", "25", daysAgo(2)))
	d := h.dispatcher(t, func(o *Options) {
		o.Templates = StaticTemplateSource{Stage2: {Subject: "", HTML: "x"}}
	})

	report, err := d.Run(context.Background())

	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, string(apperrors.ErrCodeTemplateRenderFailed), report.Failures[0].Code)
	assert.Equal(t, 0, h.transport.count())
}

func TestDispatcher_Run_FetchFailureIsFatal(t *testing.T) {
	h := newHarness(applicant("ada@example.com", "25", daysAgo(2)))
	h.store.listErr = errors.New("connection refused")

	report, err := h.dispatcher(t).Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRecordFetchFailed, apperrors.CodeOf(err))
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Records)
	assert.Equal(t, 0, h.transport.count())
}

func TestDispatcher_Run_AuditFailureDoesNotAffectDispatch(t *testing.T) {
	h := newHarness(applicant("ada@example.com", "25", daysAgo(2)))
	h.audit.err = errors.New("cluster unavailable")

	report, err := h.dispatcher(t).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Stage2Sent)
}

// ==========================
// Throttle and Dedupe Tests
// ==========================

func TestDispatcher_Run_RateLimitPauses(t *testing.T) {
	var records []ApplicationRecord
	for i := 0; i < 30; i++ {
		records = append(records, applicant(fmt.Sprintf("user%02d@example.com", i), "25", daysAgo(2)))
	}
	h := newHarness(records...)

	report, err := h.dispatcher(t).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 30, report.Stage2Sent)
	assert.Equal(t, 2, report.Pauses)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.pauses)
}

func TestDispatcher_Run_ThrottleIsPerRun(t *testing.T) {
	var records []ApplicationRecord
	for i := 0; i < 10; i++ {
		records = append(records, applicant(fmt.Sprintf("user%02d@example.com", i), "25", daysAgo(2)))
	}
	h := newHarness(records...)
	d := h.dispatcher(t)

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	for i := 10; i < 20; i++ {
		rec := applicant(fmt.Sprintf("user%02d@example.com", i), "25", daysAgo(2))
		h.store.order = append(h.store.order, rec.Email)
		h.store.records[rec.Email] = rec
	}
	report, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, report.Stage2Sent)
	assert.Equal(t, 0, report.Pauses)
}

func TestDispatcher_Run_DeduplicatedReceiptRepairsMarker(t *testing.T) {
	h := newHarness(applicant("ada@example.com", "25", daysAgo(2)))
	h.transport.dedupe["ada@example.com"] = true

	report, err := h.dispatcher(t, func(o *Options) { o.SendsPerPause = 1 }).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, report.Stage2Sent)
	assert.Equal(t, 1, report.Deduplicated)
	assert.Equal(t, 0, report.Pauses)
	assert.NotEmpty(t, h.store.get("ada@example.com").Stage2SentAt)
	require.Len(t, h.audit.attempts, 1)
	assert.Equal(t, StatusDeduplicated, h.audit.attempts[0].Status)
}

func TestDispatcher_Run_CancelledReturnsPartialReport(t *testing.T) {
	var records []ApplicationRecord
	for i := 0; i < 5; i++ {
		records = append(records, applicant(fmt.Sprintf("user%02d@example.com", i), "25", daysAgo(2)))
	}
	h := newHarness(records...)
	ctx, cancel := context.WithCancel(context.Background())

	d := h.dispatcher(t, func(o *Options) {
		o.SendsPerPause = 2
		o.Sleep = func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}
	})

	report, err := d.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Stage2Sent)
	assert.Equal(t, 1, report.Pauses)
	assert.Equal(t, 2, h.transport.count())
}

func TestNewDispatcher_RequiresDependencies(t *testing.T) {
	h := newHarness()
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"store", func(o *Options) { o.Store = nil }},
		{"transport", func(o *Options) { o.Transport = nil }},
		{"templates", func(o *Options) { o.Templates = nil }},
		{"tiers", func(o *Options) { o.Tiers = nil }},
		{"renderer", func(o *Options) { o.Renderer = nil }},
		{"sender", func(o *Options) { o.Sender.From = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{
				Store:     h.store,
				Transport: h.transport,
				Templates: testTemplates,
				Tiers:     DefaultTierTable(),
				Renderer:  testRenderer(),
				Sender:    Sender{From: "hello@example.com"},
			}
			tt.mutate(&opts)
			_, err := NewDispatcher(opts)
			assert.Error(t, err)
		})
	}
}
