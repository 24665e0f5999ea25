package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quantfold/macropool/internal/domain"
)

// ReportWriter uploads settlement reports as JSON objects, one per event,
// keyed by settlement date.
type ReportWriter struct {
	client *Client
}

// NewReportWriter creates a ReportWriter on the given client.
func NewReportWriter(c *Client) *ReportWriter {
	return &ReportWriter{client: c}
}

// ArchiveSettlement writes the report to
// settlements/<year>/<month>/<event-id>.json.
func (w *ReportWriter) ArchiveSettlement(ctx context.Context, report domain.SettlementReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: encode report %s: %w", report.EventID, err)
	}

	key := fmt.Sprintf("settlements/%04d/%02d/%s.json",
		report.SettledAt.Year(), report.SettledAt.Month(), report.EventID)

	_, err = w.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put report %s: %w", key, err)
	}
	return nil
}
