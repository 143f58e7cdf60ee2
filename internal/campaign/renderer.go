package campaign

import (
	"net/url"
	"strings"
	"time"
)

// DeadlineAnchor selects the instant the displayed deadline counts from.
type DeadlineAnchor int

const (
	// AnchorStage2 counts stage 3's deadline from the stage 2 send time so
	// both messages show the same date. Stage 2 counts from render time.
	AnchorStage2 DeadlineAnchor = iota
	// AnchorRender always counts from render time.
	AnchorRender
)

// ParseDeadlineAnchor maps the configuration spelling to an anchor.
func ParseDeadlineAnchor(s string) DeadlineAnchor {
	if s == "render" {
		return AnchorRender
	}
	return AnchorStage2
}

const deadlineLayout = "Monday, January 2, 2006"

// Renderer substitutes {{placeholders}} into campaign templates.
type Renderer struct {
	List           string
	UnsubscribeURL string
	DeadlineDays   int
	Anchor         DeadlineAnchor
	Now            func() time.Time
}

// RenderContext is everything a template may reference for one send.
type RenderContext struct {
	Record  ApplicationRecord
	Pricing TierPricing
	Stage   Stage
}

// Render replaces every recognized placeholder in tmpl. Unrecognized
// placeholders are left as written.
func (r *Renderer) Render(tmpl string, rc RenderContext) string {
	return r.replacer(rc).Replace(tmpl)
}

// RenderMessage renders subject, html and text for one send.
func (r *Renderer) RenderMessage(set TemplateSet, rc RenderContext) RenderedMessage {
	rep := r.replacer(rc)
	return RenderedMessage{
		Subject:  rep.Replace(set.Subject),
		HTMLBody: rep.Replace(set.HTML),
		TextBody: rep.Replace(set.Text),
	}
}

func (r *Renderer) replacer(rc RenderContext) *strings.Replacer {
	rec, p := rc.Record, rc.Pricing
	return strings.NewReplacer(
		"{{name}}", rec.Name,
		"{{email}}", rec.Email,
		"{{website}}", rec.Website,
		"{{linkedin}}", rec.LinkedIn,
		"{{percentage}}", p.RequestedPercent,
		"{{amount}}", p.RequestedAmount,
		"{{grantedPercentage}}", p.GrantedPercent,
		"{{grantedAmount}}", p.GrantedAmount,
		"{{fee}}", p.Fee,
		"{{additionalSeatCost}}", p.AdditionalSeatCost,
		"{{date}}", r.Deadline(rc),
		"{{paymentParams}}", PaymentParams(rec, p),
		"{{tracking}}", r.Tracking(rec, rc.Stage),
		"{{emailSettings}}", r.Unsubscribe(rec.Email),
	)
}

// Deadline formats the response deadline shown in the message.
func (r *Renderer) Deadline(rc RenderContext) string {
	anchor := r.now()
	if r.Anchor == AnchorStage2 && rc.Stage == Stage3 && rc.Record.Stage2SentAt != "" {
		if t, err := ParseTimestamp(rc.Record.Stage2SentAt); err == nil {
			anchor = t
		}
	}
	return anchor.UTC().AddDate(0, 0, r.DeadlineDays).Format(deadlineLayout)
}

// Tracking is the analytics query string appended to campaign links.
func (r *Renderer) Tracking(rec ApplicationRecord, stage Stage) string {
	return "email=" + queryComponent(rec.Email) +
		"&list=" + queryComponent(r.List) +
		"&edition=" + stage.Edition()
}

// Unsubscribe builds the email-settings link for a recipient.
func (r *Renderer) Unsubscribe(email string) string {
	sep := "?"
	if strings.Contains(r.UnsubscribeURL, "?") {
		sep = "&"
	}
	return r.UnsubscribeURL + sep + "email=" + queryComponent(email)
}

// PaymentParams pre-fills the payment form. The names differ from the
// tracking parameters so both can share one URL.
func PaymentParams(rec ApplicationRecord, p TierPricing) string {
	return "applicant=" + queryComponent(rec.Email) +
		"&name=" + queryComponent(rec.Name) +
		"&scholarshipAmount=" + queryComponent(p.GrantedAmount) +
		"&finalFee=" + queryComponent(p.Fee) +
		"&seatCost=" + queryComponent(p.AdditionalSeatCost)
}

func (r *Renderer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// queryComponent escapes like a browser's encodeURIComponent: spaces become
// %20 and the marks !'()* stay literal.
func queryComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
