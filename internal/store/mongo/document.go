package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/alfredjeanlab/ctxconf/internal/model"
)

// recordDoc is the BSON shape of a record in the contextual_configs collection.
type recordDoc struct {
	ID        string    `bson:"_id"`
	Kind      string    `bson:"context_kind"`
	ContextID string    `bson:"context_id"`
	Priority  int       `bson:"priority"`
	Payload   bson.Raw  `bson:"payload"`
	IsActive  bool      `bson:"is_active"`
	Version   int64     `bson:"version"`
	CreatedBy string    `bson:"created_by"`
	UpdatedBy string    `bson:"updated_by"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toDoc(r *model.Record) (*recordDoc, error) {
	raw, err := encodePayload(r.Payload)
	if err != nil {
		return nil, err
	}
	return &recordDoc{
		ID:        r.ID,
		Kind:      string(r.Context.Kind),
		ContextID: r.Context.Identifier,
		Priority:  r.Context.Priority(),
		Payload:   raw,
		IsActive:  r.IsActive,
		CreatedBy: r.CreatedBy,
		UpdatedBy: r.UpdatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (d *recordDoc) record() (*model.Record, error) {
	payload, err := decodePayload(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", d.ID, err)
	}
	return &model.Record{
		ID:        d.ID,
		Context:   model.Descriptor{Kind: model.Kind(d.Kind), Identifier: d.ContextID},
		Payload:   payload,
		IsActive:  d.IsActive,
		CreatedBy: d.CreatedBy,
		UpdatedBy: d.UpdatedBy,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func encodePayload(p model.Payload) (bson.Raw, error) {
	if p == nil {
		p = model.Payload{}
	}
	data, err := bson.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bson.Raw(data), nil
}

func decodePayload(raw bson.Raw) (model.Payload, error) {
	if len(raw) == 0 {
		return model.Payload{}, nil
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return model.Payload(normalizeMap(m)), nil
}

// normalizeMap converts decoded BSON into the plain JSON value types
// (map[string]any, []any, float64, string, bool, nil) the other drivers return.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case primitive.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		return normalizeSlice(t)
	case []any:
		return normalizeSlice(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		return t.String()
	case primitive.Null, primitive.Undefined:
		return nil
	}
	return v
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = normalize(v)
	}
	return out
}

// searchFilter builds the query document for a record filter.
func searchFilter(f model.RecordFilter) bson.D {
	filter := bson.D{}
	if f.Kind != "" {
		filter = append(filter, bson.E{Key: "context_kind", Value: string(f.Kind)})
	}
	if f.Identifier != "" {
		filter = append(filter, bson.E{Key: "context_id", Value: f.Identifier})
	}
	if f.CreatedBy != "" {
		filter = append(filter, bson.E{Key: "created_by", Value: f.CreatedBy})
	}
	if f.ActiveOnly {
		filter = append(filter, bson.E{Key: "is_active", Value: true})
	}
	return filter
}
