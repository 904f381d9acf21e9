package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/oddsync/oddsync/internal/domain"
)

// pageContentType is the MIME type used for archived pages (JSONL).
const pageContentType = "application/x-ndjson"

// PageArchiver implements domain.PageArchiver by serializing each fetched
// page to JSONL and uploading it under a per-run prefix:
//
//	raw/polymarket/full/<run-id>/page-3.jsonl
//
// The database remains the authoritative raw layer. The archive exists for
// offline replay and debugging, so callers treat upload failures as
// non-fatal and only log them.
type PageArchiver struct {
	writer *Writer
}

// NewPageArchiver creates a PageArchiver that uploads through the given
// writer.
func NewPageArchiver(writer *Writer) *PageArchiver {
	return &PageArchiver{writer: writer}
}

var _ domain.PageArchiver = (*PageArchiver)(nil)

// ArchivePage serializes the page's records as newline-delimited JSON and
// uploads the result. Each line carries the logical ID alongside the
// untouched source document so a page can be replayed without re-fetching.
func (a *PageArchiver) ArchivePage(ctx context.Context, source domain.Source, loadType domain.LoadType, runID string, pageNum int, records []domain.RawPayload) error {
	if len(records) == 0 {
		return nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive page marshal: %w", err)
	}

	path := pagePath(source, loadType, runID, pageNum)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), pageContentType); err != nil {
		return fmt.Errorf("s3blob: archive page upload: %w", err)
	}
	return nil
}

// pagePath builds the object key for one archived page.
func pagePath(source domain.Source, loadType domain.LoadType, runID string, pageNum int) string {
	return fmt.Sprintf("raw/%s/%s/%s/page-%d.jsonl", source, loadType, runID, pageNum)
}

// marshalJSONL serializes a slice of values as newline-delimited JSON. Each
// element becomes one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
