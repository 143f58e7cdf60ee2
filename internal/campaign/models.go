package campaign

import (
	"context"
	"time"
)

// Stage identifies one touchpoint of the follow-up sequence.
type Stage int

const (
	Stage2 Stage = 2
	Stage3 Stage = 3
)

// Stages lists the stages in evaluation order.
var Stages = []Stage{Stage2, Stage3}

func (s Stage) String() string {
	switch s {
	case Stage2:
		return "stage2"
	case Stage3:
		return "stage3"
	default:
		return "unknown"
	}
}

// Edition is the tracking edition tag carried in links for this stage.
func (s Stage) Edition() string {
	switch s {
	case Stage2:
		return "email-2"
	case Stage3:
		return "email-3"
	default:
		return ""
	}
}

// ApplicationRecord is one campaign participant. Timestamps are kept in the
// form the store returned them; an empty marker means "not yet sent".
type ApplicationRecord struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Website    string `json:"website"`
	LinkedIn   string `json:"linkedin"`
	Assistance string `json:"assistance"`
	Applied    string `json:"applied"`

	Stage2SentAt string `json:"stage2SentAt,omitempty"`
	Stage3SentAt string `json:"stage3SentAt,omitempty"`
}

// SentAt returns the raw marker value for a stage.
func (r ApplicationRecord) SentAt(stage Stage) string {
	switch stage {
	case Stage2:
		return r.Stage2SentAt
	case Stage3:
		return r.Stage3SentAt
	default:
		return ""
	}
}

// TierPricing holds the pre-computed display strings for one assistance tier.
type TierPricing struct {
	RequestedPercent   string `json:"requestedPercent"`
	GrantedPercent     string `json:"grantedPercent"`
	RequestedAmount    string `json:"requestedAmount"`
	GrantedAmount      string `json:"grantedAmount"`
	Fee                string `json:"fee"`
	AdditionalSeatCost string `json:"additionalSeatCost"`
}

// RenderedMessage is the content for one (record, stage) send attempt.
type RenderedMessage struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// Message is what the transport delivers.
type Message struct {
	To      string
	From    string
	ReplyTo string
	BCC     []string
	Subject string
	HTML    string
	Text    string
	// Tags identify the campaign, stage and recipient for dedupe and audit.
	Tags map[string]string
}

// Receipt is returned by a successful transport call.
type Receipt struct {
	MessageID    string
	Deduplicated bool
	SentAt       time.Time
}

// RecordStore is the gateway to campaign state.
type RecordStore interface {
	// ListApplications returns every record of the campaign. A partial
	// result must be reported as an error.
	ListApplications(ctx context.Context) ([]ApplicationRecord, error)
	// MarkStageSent sets the stage marker for one record without touching
	// other fields. Marking an already-marked stage is a no-op.
	MarkStageSent(ctx context.Context, email string, stage Stage, at time.Time) error
}

// Transport delivers a fully rendered message.
type Transport interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// Outcome statuses recorded per attempt.
const (
	StatusSent         = "sent"
	StatusDeduplicated = "deduplicated"
	StatusFailed       = "failed"
)

// Attempt describes the outcome of one (record, stage) dispatch.
type Attempt struct {
	RunID       string    `json:"runId"`
	Campaign    string    `json:"campaign"`
	Email       string    `json:"email"`
	Stage       string    `json:"stage"`
	Status      string    `json:"status"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	Error       string    `json:"error,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// AuditSink records attempt outcomes. Implementations must not block the
// loop on failure; errors are logged by the caller and otherwise ignored.
type AuditSink interface {
	Record(ctx context.Context, attempt Attempt) error
}

// Failure is a recoverable per-record error kept in the run report.
type Failure struct {
	Email   string `json:"email"`
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunReport summarises one dispatch run.
type RunReport struct {
	RunID        string    `json:"runId"`
	Campaign     string    `json:"campaign"`
	Records      int       `json:"records"`
	Stage2Sent   int       `json:"stage2Sent"`
	Stage3Sent   int       `json:"stage3Sent"`
	Deduplicated int       `json:"deduplicated"`
	Pauses       int       `json:"pauses"`
	Failures     []Failure `json:"failures,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Sent returns the send count for a stage.
func (r *RunReport) Sent(stage Stage) int {
	if stage == Stage2 {
		return r.Stage2Sent
	}
	return r.Stage3Sent
}

func (r *RunReport) addSent(stage Stage) {
	if stage == Stage2 {
		r.Stage2Sent++
		return
	}
	r.Stage3Sent++
}
