package vectorstore

import (
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Payload keys. Filterable fields are flat keywords; refs and chunk
// linkage are nested values.
const (
	keyContent         = "content"
	keyScopeID         = "scope_id"
	keyContentHash     = "content_hash"
	keyKind            = "kind"
	keyType            = "type"
	keyEmbeddingStatus = "embedding_status"
	keyCreatedAt       = "created_at"
	keyLastSeen        = "last_seen"
	keyOccurrences     = "occurrences"
	keyImportance      = "importance"
	keySource          = "source"
	keyRefs            = "refs"
	keyUpstreamChanges = "upstream_changes"
	keySuperseded      = "superseded"
	keyClassifyState   = "classify_state"
	keyChunkParent     = "chunk_parent_hash"
	keyChunkIndex      = "chunk_index"
	keyChunkCount      = "chunk_count"
	keyChunkStart      = "chunk_start_byte"
	keyChunkEnd        = "chunk_end_byte"
)

// Fields callers patch through Store.UpdatePayload.
const (
	FieldType            = keyType
	FieldLastSeen        = keyLastSeen
	FieldOccurrences     = keyOccurrences
	FieldEmbeddingStatus = keyEmbeddingStatus
	FieldUpstreamChanges = keyUpstreamChanges
	FieldImportance      = keyImportance
	FieldClassifyState   = keyClassifyState
	FieldSuperseded      = keySuperseded
)

func strValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func doubleValue(f float64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: f}}
}

func boolValue(b bool) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: b}}
}

// recordPayload flattens a record into a Qdrant payload. Timestamps are
// stored as unix seconds so range filters stay cheap.
func recordPayload(r *memory.Record) map[string]*qdrant.Value {
	p := map[string]*qdrant.Value{
		keyContent:         strValue(r.Content),
		keyScopeID:         strValue(r.ScopeID),
		keyContentHash:     strValue(r.ContentHash),
		keyKind:            strValue(string(r.Kind)),
		keyType:            strValue(string(r.Type)),
		keyEmbeddingStatus: strValue(string(r.EmbeddingStatus)),
		keyCreatedAt:       intValue(r.CreatedAt.Unix()),
		keyLastSeen:        intValue(r.LastSeen.Unix()),
		keyOccurrences:     intValue(int64(r.Occurrences)),
		keyImportance:      doubleValue(r.Importance),
		keyUpstreamChanges: intValue(int64(r.UpstreamChanges)),
	}
	if r.Source != "" {
		p[keySource] = strValue(r.Source)
	}
	if r.Superseded {
		p[keySuperseded] = boolValue(true)
	}
	if r.ClassifyState != "" {
		p[keyClassifyState] = strValue(string(r.ClassifyState))
	}
	if len(r.Refs) > 0 {
		vals := make([]*qdrant.Value, len(r.Refs))
		for i, ref := range r.Refs {
			vals[i] = &qdrant.Value{Kind: &qdrant.Value_StructValue{
				StructValue: &qdrant.Struct{Fields: map[string]*qdrant.Value{
					"path": strValue(ref.Path),
					"line": intValue(int64(ref.Line)),
				}},
			}}
		}
		p[keyRefs] = &qdrant.Value{Kind: &qdrant.Value_ListValue{
			ListValue: &qdrant.ListValue{Values: vals},
		}}
	}
	if r.ChunkRef != nil {
		p[keyChunkParent] = strValue(r.ChunkRef.ParentHash)
		p[keyChunkIndex] = intValue(int64(r.ChunkRef.Index))
		p[keyChunkCount] = intValue(int64(r.ChunkRef.Count))
		p[keyChunkStart] = intValue(int64(r.ChunkRef.StartByte))
		p[keyChunkEnd] = intValue(int64(r.ChunkRef.EndByte))
	}
	return p
}

// recordFromPayload rebuilds a record from a point payload. Unknown or
// missing fields fall back to zero values.
func recordFromPayload(id string, payload map[string]*qdrant.Value) *memory.Record {
	r := &memory.Record{ID: id}
	r.Content = payloadString(payload, keyContent)
	r.ScopeID = payloadString(payload, keyScopeID)
	r.ContentHash = payloadString(payload, keyContentHash)
	r.Kind = memory.ContentKind(payloadString(payload, keyKind))
	r.Type = memory.RecordType(payloadString(payload, keyType))
	r.EmbeddingStatus = memory.EmbeddingStatus(payloadString(payload, keyEmbeddingStatus))
	r.CreatedAt = time.Unix(payloadInt(payload, keyCreatedAt), 0).UTC()
	r.LastSeen = time.Unix(payloadInt(payload, keyLastSeen), 0).UTC()
	r.Occurrences = int(payloadInt(payload, keyOccurrences))
	r.Importance = payloadDouble(payload, keyImportance)
	r.Source = payloadString(payload, keySource)
	r.ClassifyState = memory.ClassifyState(payloadString(payload, keyClassifyState))
	r.UpstreamChanges = int(payloadInt(payload, keyUpstreamChanges))
	r.Superseded = payloadBool(payload, keySuperseded)

	if v, ok := payload[keyRefs]; ok {
		if list, ok := v.Kind.(*qdrant.Value_ListValue); ok {
			for _, item := range list.ListValue.GetValues() {
				st, ok := item.Kind.(*qdrant.Value_StructValue)
				if !ok {
					continue
				}
				fields := st.StructValue.GetFields()
				r.Refs = append(r.Refs, memory.FileRef{
					Path: payloadString(fields, "path"),
					Line: int(payloadInt(fields, "line")),
				})
			}
		}
	}
	if parent := payloadString(payload, keyChunkParent); parent != "" {
		r.ChunkRef = &memory.ChunkRef{
			ParentHash: parent,
			Index:      int(payloadInt(payload, keyChunkIndex)),
			Count:      int(payloadInt(payload, keyChunkCount)),
			StartByte:  int(payloadInt(payload, keyChunkStart)),
			EndByte:    int(payloadInt(payload, keyChunkEnd)),
		}
	}
	return r
}

// fieldsToPayload converts a generic patch map into Qdrant values.
// Supported value types: string, int, int64, float64, bool, time.Time.
func fieldsToPayload(fields map[string]any) map[string]*qdrant.Value {
	p := make(map[string]*qdrant.Value, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			p[k] = strValue(val)
		case int:
			p[k] = intValue(int64(val))
		case int64:
			p[k] = intValue(val)
		case float64:
			p[k] = doubleValue(val)
		case bool:
			p[k] = boolValue(val)
		case time.Time:
			p[k] = intValue(val.Unix())
		}
	}
	return p
}

func payloadString(p map[string]*qdrant.Value, key string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return s.StringValue
		}
	}
	return ""
}

func payloadInt(p map[string]*qdrant.Value, key string) int64 {
	if v, ok := p[key]; ok {
		if i, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
			return i.IntegerValue
		}
	}
	return 0
}

func payloadBool(p map[string]*qdrant.Value, key string) bool {
	if v, ok := p[key]; ok {
		if b, ok := v.Kind.(*qdrant.Value_BoolValue); ok {
			return b.BoolValue
		}
	}
	return false
}

func payloadDouble(p map[string]*qdrant.Value, key string) float64 {
	if v, ok := p[key]; ok {
		switch d := v.Kind.(type) {
		case *qdrant.Value_DoubleValue:
			return d.DoubleValue
		case *qdrant.Value_IntegerValue:
			return float64(d.IntegerValue)
		}
	}
	return 0
}
