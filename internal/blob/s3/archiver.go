package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polyseer/polyseer/internal/domain"
)

// Transcript is the archived record of one pipeline run: the run report
// plus the oracle exchanges that produced the decision.
type Transcript struct {
	Report     domain.RunReport `json:"report"`
	Forecast   string           `json:"forecast,omitempty"`
	TradeReply string           `json:"trade_reply,omitempty"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// Archiver persists run transcripts to object storage for later review.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewArchiver creates an Archiver writing under the given key prefix, e.g.
// "runs".
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	if prefix == "" {
		prefix = "runs"
	}
	return &Archiver{writer: writer, prefix: prefix}
}

// ArchiveRun uploads the transcript as JSON under a date-partitioned key:
// {prefix}/2006/01/02/{run_id}.json.
func (a *Archiver) ArchiveRun(ctx context.Context, t Transcript) error {
	if t.ArchivedAt.IsZero() {
		t.ArchivedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal transcript %s: %w", t.Report.RunID, err)
	}

	key := fmt.Sprintf("%s/%s/%s.json",
		a.prefix, t.ArchivedAt.Format("2006/01/02"), t.Report.RunID)

	if err := a.writer.Write(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive run %s: %w", t.Report.RunID, err)
	}
	return nil
}
