package privacy

import "fmt"

// FieldKind selects how a sensitive field is encoded at rest.
type FieldKind string

const (
	// KindText encrypts the value as an opaque string.
	KindText FieldKind = "text"
	// KindJSON serializes the value to JSON before encrypting.
	KindJSON FieldKind = "json"
	// KindIdentifier encrypts the value and additionally attaches its
	// salted hash under HashField for index lookup.
	KindIdentifier FieldKind = "identifier"
)

// Logical table names shared by the codec policy and the stores.
const (
	TableSessions      = "user_sessions"
	TableConversations = "conversation_history"
	TableMemories      = "user_memories"
)

// HashField is the record key the codec attaches for identifier fields.
// It is lookup-only and never surfaced by DecryptRecord.
const HashField = "identifier_hash"

// sensitiveFields maps (table, field) to its encoding. Fields absent from
// a table's policy pass through both directions unchanged.
var sensitiveFields = map[string]map[string]FieldKind{
	TableSessions: {
		"identifier": KindIdentifier,
	},
	TableConversations: {
		"identifier": KindIdentifier,
		"content":    KindText,
	},
	TableMemories: {
		"identifier":  KindIdentifier,
		"profile":     KindText,
		"preferences": KindJSON,
	},
}

// FieldCodec applies one shared per-table encryption policy so the stores
// do not hand-roll per-field logic.
type FieldCodec struct {
	cipher *Cipher
}

func NewFieldCodec(cipher *Cipher) *FieldCodec {
	return &FieldCodec{cipher: cipher}
}

// EncryptRecord returns a copy of record with every policy field
// encrypted in place. Identifier fields get HashField attached.
func (f *FieldCodec) EncryptRecord(table string, record map[string]any) (map[string]any, error) {
	policy, ok := sensitiveFields[table]
	if !ok {
		return record, nil
	}
	out := make(map[string]any, len(record)+1)
	for k, v := range record {
		out[k] = v
	}
	for field, kind := range policy {
		value, present := out[field]
		if !present || value == nil {
			continue
		}
		switch kind {
		case KindText, KindIdentifier:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("field %s.%s: expected string, got %T", table, field, value)
			}
			if kind == KindIdentifier {
				out[HashField] = f.cipher.HashIdentifier(s)
			}
			enc, err := f.cipher.Encrypt(s)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", table, field, err)
			}
			out[field] = enc
		case KindJSON:
			enc, err := f.cipher.EncryptJSON(value)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", table, field, err)
			}
			out[field] = enc
		}
	}
	return out, nil
}

// DecryptRecord is the inverse of EncryptRecord. HashField is stripped
// from the output.
func (f *FieldCodec) DecryptRecord(table string, record map[string]any) map[string]any {
	policy, ok := sensitiveFields[table]
	if !ok {
		return record
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		if k == HashField {
			continue
		}
		out[k] = v
	}
	for field, kind := range policy {
		value, present := out[field]
		if !present || value == nil {
			continue
		}
		s, ok := value.(string)
		if !ok {
			continue
		}
		switch kind {
		case KindText, KindIdentifier:
			out[field] = f.cipher.DecryptIfNeeded(s)
		case KindJSON:
			out[field] = f.cipher.DecryptJSON(s)
		}
	}
	return out
}
