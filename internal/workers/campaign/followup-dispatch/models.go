package followupdispatch

type Input struct {
	// CampaignID, when set, must name the campaign this worker serves.
	CampaignID string `json:"campaignId,omitempty"`
}

type Output struct {
	RunID        string   `json:"runId"`
	Status       string   `json:"status"`
	Records      int      `json:"records"`
	Stage2Sent   int      `json:"stage2Sent"`
	Stage3Sent   int      `json:"stage3Sent"`
	Deduplicated int      `json:"deduplicated"`
	Failures     int      `json:"failures"`
	FailureCodes []string `json:"failureCodes,omitempty"`
	FinishedAt   string   `json:"finishedAt"` // ISO 8601
}

const (
	StatusCompleted             = "completed"
	StatusCompletedWithFailures = "completed_with_failures"
)
