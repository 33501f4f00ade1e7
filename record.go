package chainexport

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// EntityKind selects the transformer that handles a raw payload.
type EntityKind string

const (
	KindBlock       EntityKind = "block"
	KindLedger      EntityKind = "ledger"
	KindTransaction EntityKind = "transaction"
	KindInscription EntityKind = "inscription"
)

// Record is a canonical, immutable output structure for one chain entity.
// Implementations serialize to a flat JSON object whose first key is "type".
type Record interface {
	// Type is the output discriminator written as the "type" key.
	Type() string

	// Position is the block height, ledger sequence or genesis height used
	// to order the export stream.
	Position() uint64

	// Key identifies the entity across runs so that idempotent sinks can
	// deduplicate re-exported records.
	Key() string
}

// RawPayload is an untrusted JSON value as received from a chain API.
type RawPayload = gjson.Result

// TransformContext carries what a transformer may need beyond the payload
// itself.
type TransformContext struct {
	// BlockNumber is the position of the parent block or ledger. It is used
	// only when the payload omits its own.
	BlockNumber *uint64
}

// WithBlockNumber returns a TransformContext injecting n as parent position.
func WithBlockNumber(n uint64) TransformContext {
	return TransformContext{BlockNumber: &n}
}

// TransformFunc converts one raw payload into the record for kind. Each chain
// package provides one that dispatches to its per-entity transformers.
type TransformFunc func(kind EntityKind, raw RawPayload, tc TransformContext) (Record, error)

// MarshalTagged serializes v as a JSON object with a leading "type" key.
// v must marshal to a JSON object.
func MarshalTagged(tag string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(typ)+9)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}
