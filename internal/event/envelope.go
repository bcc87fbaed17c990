package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeVaultRegistered
	EventTypeBatchCreated
	EventTypeBatchClosed
	EventTypeBatchSettled
	EventTypeReceiverCreated
	EventTypeRequestSubmitted
	EventTypeRequestCancelled
	EventTypeRequestClaimed
	EventTypeVirtualTransfer
	EventTypeTotalAssetsReported
	EventTypeSettlementProposed
	EventTypeSettlementExecuted
	EventTypeSettlementCancelled
	EventTypeFeesCharged
	EventTypeWatermarkAdvanced
	EventTypePauseChanged
	EventTypeCooldownChanged
	EventTypeAssetsDeposited
	EventTypeFeeConfigChanged
	EventTypeReceiverRescued
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the router
	Sequence int64

	EventID uuid.UUID

	// Command that produced the event (both empty for direct calls)
	CommandType    string
	IdempotencyKey string

	EventType EventType

	// Id of the batch, request or proposal the event is about
	AggregateID string

	// Injected clock time, not wall-clock
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// Wire form of the command, set on its first event only. Replaying
	// these in sequence order rebuilds router state.
	Command []byte

	// SHA-256 chain: H(prev_hash || sequence || payload)
	StateHash [32]byte
	PrevHash  [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// AggregateID returns the id of the object the event is about
	AggregateID() string
}

// Encode serialises an event payload
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserialises a payload of the given type
func Decode(t EventType, payload []byte) (Event, error) {
	var e Event
	switch t {
	case EventTypeVaultRegistered:
		e = &VaultRegistered{}
	case EventTypeBatchCreated:
		e = &BatchCreated{}
	case EventTypeBatchClosed:
		e = &BatchClosed{}
	case EventTypeBatchSettled:
		e = &BatchSettled{}
	case EventTypeReceiverCreated:
		e = &ReceiverCreated{}
	case EventTypeRequestSubmitted:
		e = &RequestSubmitted{}
	case EventTypeRequestCancelled:
		e = &RequestCancelled{}
	case EventTypeRequestClaimed:
		e = &RequestClaimed{}
	case EventTypeVirtualTransfer:
		e = &VirtualTransfer{}
	case EventTypeTotalAssetsReported:
		e = &TotalAssetsReported{}
	case EventTypeSettlementProposed:
		e = &SettlementProposed{}
	case EventTypeSettlementExecuted:
		e = &SettlementExecuted{}
	case EventTypeSettlementCancelled:
		e = &SettlementCancelled{}
	case EventTypeFeesCharged:
		e = &FeesCharged{}
	case EventTypeWatermarkAdvanced:
		e = &WatermarkAdvanced{}
	case EventTypePauseChanged:
		e = &PauseChanged{}
	case EventTypeCooldownChanged:
		e = &CooldownChanged{}
	case EventTypeAssetsDeposited:
		e = &AssetsDeposited{}
	case EventTypeFeeConfigChanged:
		e = &FeeConfigChanged{}
	case EventTypeReceiverRescued:
		e = &ReceiverRescued{}
	default:
		return nil, fmt.Errorf("unknown event type %d", t)
	}

	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return e, nil
}

func (et EventType) String() string {
	switch et {
	case EventTypeVaultRegistered:
		return "VaultRegistered"
	case EventTypeBatchCreated:
		return "BatchCreated"
	case EventTypeBatchClosed:
		return "BatchClosed"
	case EventTypeBatchSettled:
		return "BatchSettled"
	case EventTypeReceiverCreated:
		return "ReceiverCreated"
	case EventTypeRequestSubmitted:
		return "RequestSubmitted"
	case EventTypeRequestCancelled:
		return "RequestCancelled"
	case EventTypeRequestClaimed:
		return "RequestClaimed"
	case EventTypeVirtualTransfer:
		return "VirtualTransfer"
	case EventTypeTotalAssetsReported:
		return "TotalAssetsReported"
	case EventTypeSettlementProposed:
		return "SettlementProposed"
	case EventTypeSettlementExecuted:
		return "SettlementExecuted"
	case EventTypeSettlementCancelled:
		return "SettlementCancelled"
	case EventTypeFeesCharged:
		return "FeesCharged"
	case EventTypeWatermarkAdvanced:
		return "WatermarkAdvanced"
	case EventTypePauseChanged:
		return "PauseChanged"
	case EventTypeCooldownChanged:
		return "CooldownChanged"
	case EventTypeAssetsDeposited:
		return "AssetsDeposited"
	case EventTypeFeeConfigChanged:
		return "FeeConfigChanged"
	case EventTypeReceiverRescued:
		return "ReceiverRescued"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String
func ParseEventType(s string) (EventType, bool) {
	for t := EventTypeVaultRegistered; t <= EventTypeReceiverRescued; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return EventTypeUnknown, false
}
