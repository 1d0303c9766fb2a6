package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

// FormatVersion is written into every snapshot header.
const FormatVersion = "1"

// Source is the read side of the store that a snapshot needs.
type Source interface {
	ListAllRecords(ctx context.Context) ([]*model.Record, error)
	CountByKind(ctx context.Context) ([]model.KindCount, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string            `json:"version"`
	Type        string            `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	RecordCount int               `json:"record_count"`
	Kinds       []model.KindCount `json:"kinds"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string        `json:"type"`
	Data *model.Record `json:"data"`
}

// ExportJSONL writes every record, active or not, from src as JSONL to w.
// Records follow the header ordered by priority, identifier and id, so two
// exports of the same data differ only in the header timestamp.
func ExportJSONL(ctx context.Context, src Source, w io.Writer) error {
	records, err := src.ListAllRecords(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	kinds, err := src.CountByKind(ctx)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if pa, pb := a.Context.Priority(), b.Context.Priority(); pa != pb {
			return pa < pb
		}
		if a.Context.Identifier != b.Context.Identifier {
			return a.Context.Identifier < b.Context.Identifier
		}
		return a.ID < b.ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     FormatVersion,
		Type:        "header",
		Timestamp:   time.Now().UTC(),
		RecordCount: len(records),
		Kinds:       kinds,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, r := range records {
		if err := enc.Encode(record{Type: "record", Data: r}); err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
	}

	return nil
}
