package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// legacyReset is how the earlier tool wrote a checkpoint.
const legacyReset = "Reset"

type saleRecord struct {
	Kind     EventKind   `json:"kind"`
	ID       uuid.UUID   `json:"id"`
	Unit     SoldUnit    `json:"unit"`
	Quantity uint        `json:"quantity"`
	Stamps   []time.Time `json:"stamps,omitempty"`
}

type checkpointRecord struct {
	Kind EventKind `json:"kind"`
}

// MarshalEvent encodes a single event.
func MarshalEvent(e Event) ([]byte, error) {
	switch e := e.(type) {
	case Sale:
		return json.Marshal(saleRecord{
			Kind:     KindSale,
			ID:       e.ID,
			Unit:     e.Unit,
			Quantity: e.Quantity,
			Stamps:   e.Stamps,
		})
	case Checkpoint:
		return json.Marshal(checkpointRecord{Kind: KindCheckpoint})
	default:
		return nil, fmt.Errorf("ledger: cannot encode event %T", e)
	}
}

// UnmarshalEvent decodes a single event. Besides the current form it accepts
// {"Food":[unit, quantity]} and "Reset" from the earlier tool.
func UnmarshalEvent(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if tag != legacyReset {
			return nil, fmt.Errorf("%w: unknown event tag %q", ErrDecode, tag)
		}
		return Checkpoint{}, nil
	}

	var probe struct {
		Kind EventKind       `json:"kind"`
		Food json.RawMessage `json:"Food"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	switch {
	case probe.Food != nil:
		return decodeLegacySale(probe.Food)
	case probe.Kind == KindSale:
		var rec saleRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if len(rec.Stamps) != 0 && uint(len(rec.Stamps)) != rec.Quantity {
			return nil, fmt.Errorf("%w: sale %s has %d stamps for quantity %d", ErrDecode, rec.ID, len(rec.Stamps), rec.Quantity)
		}
		return Sale{ID: rec.ID, Unit: rec.Unit, Quantity: rec.Quantity, Stamps: rec.Stamps}, nil
	case probe.Kind == KindCheckpoint:
		return Checkpoint{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrDecode, probe.Kind)
	}
}

func decodeLegacySale(raw json.RawMessage) (Event, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("%w: legacy sale needs 2 fields, got %d", ErrDecode, len(pair))
	}
	var sale Sale
	if err := json.Unmarshal(pair[0], &sale.Unit); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := json.Unmarshal(pair[1], &sale.Quantity); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return sale, nil
}

// EncodeLog encodes the history as a JSON array.
func EncodeLog(events []Event) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		raw, err := MarshalEvent(e)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

// DecodeLog decodes a JSON array written by EncodeLog or by the earlier tool.
func DecodeLog(data []byte) ([]Event, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	events := make([]Event, 0, len(raws))
	for i, raw := range raws {
		e, err := UnmarshalEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// EncodeUnits encodes the tally as a JSON array.
func EncodeUnits(units []SoldUnit) ([]byte, error) {
	if units == nil {
		units = []SoldUnit{}
	}
	return json.Marshal(units)
}

// DecodeUnits decodes a JSON array of units.
func DecodeUnits(data []byte) ([]SoldUnit, error) {
	var units []SoldUnit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return units, nil
}
