// Package audit indexes dispatch attempt outcomes in Elasticsearch.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"

	"followup-dispatcher/internal/campaign"
)

// Sink writes one document per attempt.
type Sink struct {
	es    *elasticsearch.Client
	index string
}

func NewSink(es *elasticsearch.Client, index string) *Sink {
	return &Sink{es: es, index: index}
}

// DocumentID is stable per run, stage and recipient so a retried write
// overwrites rather than duplicates.
func DocumentID(a campaign.Attempt) string {
	return fmt.Sprintf("%s:%s:%s", a.RunID, a.Stage, a.Email)
}

func (s *Sink) Record(ctx context.Context, attempt campaign.Attempt) error {
	body, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}

	res, err := s.es.Index(
		s.index,
		bytes.NewReader(body),
		s.es.Index.WithContext(ctx),
		s.es.Index.WithDocumentID(DocumentID(attempt)),
	)
	if err != nil {
		return fmt.Errorf("index attempt: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index attempt: %s: %s", res.Status(), bytes.TrimSpace(msg))
	}
	return nil
}
