package schema

// SchemaVersion is the current journal event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event stored in the journal.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventSignal
	EventIntent
	EventIntentRejected
	EventPlan
	EventDenial
	EventOrderState
	EventFill
)

func (t EventType) String() string {
	switch t {
	case EventSignal:
		return "signal"
	case EventIntent:
		return "intent"
	case EventIntentRejected:
		return "intent_rejected"
	case EventPlan:
		return "plan"
	case EventDenial:
		return "denial"
	case EventOrderState:
		return "order_state"
	case EventFill:
		return "fill"
	default:
		return "unknown"
	}
}

// EventHeader is the common metadata attached to every journal event.
type EventHeader struct {
	Type    EventType `json:"type"`
	Version uint16    `json:"version"`
	Seq     uint64    `json:"seq"`
	Ts      int64     `json:"ts"`
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, seq uint64, ts int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Seq:     seq,
		Ts:      ts,
	}
}
