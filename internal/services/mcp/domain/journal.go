package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/ucp-hub/internal/services/commerce/dispatch"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DispatchJournalURI addresses the most recent merchant dispatches.
const DispatchJournalURI = "ucp-hub://journal/recent"

// dispatchJournalLimit is how many attempts the journal resource lists.
const dispatchJournalLimit = 50

// JournalReader lists recorded dispatch attempts, newest first.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]dispatch.Record, error)
}

// DispatchEntry is one journal row as exposed over MCP.
type DispatchEntry struct {
	RequestID      string    `json:"request_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Tool           string    `json:"tool"`
	Operation      string    `json:"operation"`
	Method         string    `json:"method"`
	URL            string    `json:"url"`
	StatusCode     int       `json:"status_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DispatchJournalResource defines the MCP resource for recent dispatches.
func DispatchJournalResource() *mcp.Resource {
	return &mcp.Resource{
		Name:        "dispatch_journal",
		Title:       "Recent dispatches",
		Description: "The latest merchant requests issued by scripts, newest first",
		MIMEType:    "application/json",
		URI:         DispatchJournalURI,
	}
}

// DispatchJournalResourceHandler lists the most recent dispatch attempts.
func DispatchJournalResourceHandler(journal JournalReader) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if journal == nil {
			return nil, fmt.Errorf("dispatch journal is not configured")
		}
		if req != nil && req.Params != nil && req.Params.URI != "" && req.Params.URI != DispatchJournalURI {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		records, err := journal.Recent(ctx, dispatchJournalLimit)
		if err != nil {
			return nil, fmt.Errorf("read dispatch journal: %w", err)
		}
		entries := make([]DispatchEntry, 0, len(records))
		for _, record := range records {
			entries = append(entries, DispatchEntry{
				RequestID:      record.RequestID,
				IdempotencyKey: record.IdempotencyKey,
				Tool:           record.Tool,
				Operation:      record.Operation,
				Method:         record.Method,
				URL:            record.URL,
				StatusCode:     record.StatusCode,
				Error:          record.Error,
				CreatedAt:      record.CreatedAt.UTC(),
			})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal dispatch journal: %w", err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: DispatchJournalURI, MIMEType: "application/json", Text: string(data)},
			},
		}, nil
	}
}
