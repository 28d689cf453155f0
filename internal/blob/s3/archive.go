package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alanyoungcy/retropick/internal/domain"
)

const reportPrefix = "reports"

// ReportPath is the object path of the latest report for kind and key.
func ReportPath(kind, key string) string {
	return fmt.Sprintf("%s/%s/%s.json", reportPrefix, safeSegment(kind), safeSegment(key))
}

func safeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

// ReportArchive implements domain.ReportArchive on a BlobWriter. Each save
// replaces the previous report for the same kind and key.
type ReportArchive struct {
	writer domain.BlobWriter
}

// NewReportArchive creates a ReportArchive.
func NewReportArchive(w domain.BlobWriter) *ReportArchive {
	return &ReportArchive{writer: w}
}

func (a *ReportArchive) Save(ctx context.Context, rec domain.ReportRecord) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", rec.Key, err)
	}
	path := ReportPath(rec.Kind, rec.Key)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return path, nil
}

// LoadReport reads the report stored for kind and key.
func LoadReport(ctx context.Context, r domain.BlobReader, kind, key string) (domain.ReportRecord, error) {
	body, err := r.Get(ctx, ReportPath(kind, key))
	if err != nil {
		return domain.ReportRecord{}, err
	}
	defer body.Close()

	var rec domain.ReportRecord
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		return domain.ReportRecord{}, fmt.Errorf("s3blob: decode report %s/%s: %w", kind, key, err)
	}
	return rec, nil
}

// LedgerExporter streams the attempt ledger to the object store as JSONL.
type LedgerExporter struct {
	writer   domain.BlobWriter
	ledger   domain.AttemptStore
	pageSize int
}

// NewLedgerExporter creates a LedgerExporter.
func NewLedgerExporter(w domain.BlobWriter, ledger domain.AttemptStore) *LedgerExporter {
	return &LedgerExporter{writer: w, ledger: ledger, pageSize: 500}
}

// Export writes every attempt in [since, until] to
// exports/attempts/<since>_<until>.jsonl and returns the path and row count.
func (e *LedgerExporter) Export(ctx context.Context, since, until time.Time) (string, int, error) {
	path := fmt.Sprintf("exports/attempts/%s_%s.jsonl",
		since.UTC().Format("20060102T150405Z"), until.UTC().Format("20060102T150405Z"))

	pr, pw := io.Pipe()
	count := 0
	go func() {
		bw := bufio.NewWriter(pw)
		enc := json.NewEncoder(bw)
		for offset := 0; ; offset += e.pageSize {
			page, err := e.ledger.List(ctx, domain.ListOpts{Since: &since, Until: &until, Limit: e.pageSize, Offset: offset})
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			for _, a := range page {
				if err := enc.Encode(a); err != nil {
					pw.CloseWithError(err)
					return
				}
				count++
			}
			if len(page) < e.pageSize {
				break
			}
		}
		pw.CloseWithError(bw.Flush())
	}()

	if err := e.writer.PutMultipart(ctx, path, pr, minPartSize); err != nil {
		pr.CloseWithError(err)
		return "", 0, fmt.Errorf("s3blob: export attempts: %w", err)
	}
	return path, count, nil
}
