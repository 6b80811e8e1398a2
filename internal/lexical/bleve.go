// Package lexical provides the keyword-search collaborator behind the
// planner's LexicalSearcher interface, backed by a Bleve full-text index.
package lexical

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/planner"
)

// document is the shape Bleve indexes: the tenant id as an exact-match
// keyword plus the record's payload text.
type document struct {
	TenantID string `json:"tenant_id"`
	Text     string `json:"text"`
}

// BleveIndex adapts a Bleve index to planner.LexicalSearcher. Every search
// is conjoined with a tenant term query, so hits never cross tenants even
// though all tenants share one physical index.
type BleveIndex struct {
	index  bleve.Index
	logger *zap.Logger
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path
// builds an in-memory index, which is enough for collections that re-index
// from the record store on startup.
func NewBleveIndex(path string, logger *zap.Logger) (*BleveIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query term
	// matches the exact word it was indexed as.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("tenant_id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("document", docMapping)
	im.DefaultType = "document"
	im.DefaultMapping = docMapping

	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory bleve index: %w", err)
		}
		return &BleveIndex{index: index, logger: logger}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open bleve index: %w", openErr)
		}
		return &BleveIndex{index: index, logger: logger}, nil
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &BleveIndex{index: index, logger: logger}, nil
}

// Index indexes the text extracted from a record's payload under the
// record id. Records whose payload carries no text are skipped.
func (b *BleveIndex) Index(ctx context.Context, id uint64, tenantID string, payload map[string]any) error {
	text := PayloadText(payload)
	if text == "" {
		return nil
	}
	return b.index.Index(docID(id), document{TenantID: tenantID, Text: text})
}

// Delete removes a record from the index. Unknown ids are a no-op.
func (b *BleveIndex) Delete(ctx context.Context, id uint64) error {
	return b.index.Delete(docID(id))
}

// Search runs a tenant-scoped match query and returns up to limit hits
// ranked by Bleve's relevance score.
func (b *BleveIndex) Search(ctx context.Context, tenantID, text string, limit int) ([]planner.LexicalHit, error) {
	tenantQuery := bleve.NewTermQuery(tenantID)
	tenantQuery.SetField("tenant_id")
	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetField("text")

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(tenantQuery, matchQuery))
	req.Size = limit

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	out := make([]planner.LexicalHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			b.logger.Warn("skipping lexical hit with malformed id", zap.String("doc_id", hit.ID))
			continue
		}
		out = append(out, planner.LexicalHit{ID: id, Score: hit.Score})
	}
	return out, nil
}

// Close releases the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

var _ planner.LexicalSearcher = (*BleveIndex)(nil)

func docID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// PayloadText concatenates a payload's string fields in key order.
func PayloadText(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if _, ok := payload[k].(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(payload[k].(string))
	}
	return sb.String()
}
