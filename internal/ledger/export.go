package ledger

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/auditwatch/auditwatch/internal/domain"
)

// StructuredExport is the machine-readable export envelope. Records
// round-trip to the ledger's query result.
type StructuredExport struct {
	CaseID      string               `json:"caseId"`
	ExportedAt  time.Time            `json:"exportedAt"`
	RecordCount int                  `json:"recordCount"`
	Records     []domain.AuditRecord `json:"records"`
}

var tabularHeader = []string{
	"seq", "case_id", "event", "timestamp", "actor",
	"input_digest", "output_digest", "reasoning", "confidence", "degraded",
}

func formatRecords(caseID string, recs []domain.AuditRecord, format domain.ExportFormat) ([]byte, error) {
	switch format {
	case domain.ExportStructured:
		return json.MarshalIndent(StructuredExport{
			CaseID:      caseID,
			ExportedAt:  time.Now().UTC(),
			RecordCount: len(recs),
			Records:     recs,
		}, "", "  ")

	case domain.ExportTabular:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(tabularHeader); err != nil {
			return nil, fmt.Errorf("failed to write export header: %w", err)
		}
		for _, rec := range recs {
			confidence := ""
			if rec.Confidence != nil {
				confidence = strconv.FormatFloat(*rec.Confidence, 'f', -1, 64)
			}
			row := []string{
				strconv.FormatUint(rec.Seq, 10),
				rec.CaseID,
				string(rec.Event),
				rec.Timestamp.UTC().Format(time.RFC3339Nano),
				rec.Actor,
				rec.InputDigest,
				rec.OutputDigest,
				rec.Reasoning,
				confidence,
				strconv.FormatBool(rec.Degraded),
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write export row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("failed to flush export: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("%w: unknown export format %q", ErrInvalidInput, format)
	}
}
