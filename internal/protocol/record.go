package protocol

import (
	"encoding/json"
	"fmt"
)

// NoSource marks a record without a causing record (client-written commands).
const NoSource int64 = -1

// RecordType distinguishes commands, events and rejections.
type RecordType string

const (
	RecordTypeCommand   RecordType = "COMMAND"
	RecordTypeEvent     RecordType = "EVENT"
	RecordTypeRejection RecordType = "COMMAND_REJECTION"
)

// RejectionType classifies why a command was rejected.
type RejectionType string

const (
	RejectionInvalidArgument RejectionType = "INVALID_ARGUMENT"
	RejectionNotFound        RejectionType = "NOT_FOUND"
	RejectionInvalidState    RejectionType = "INVALID_STATE"
	RejectionAlreadyExists   RejectionType = "ALREADY_EXISTS"
	RejectionProcessingError RejectionType = "PROCESSING_ERROR"
)

// Value is the typed payload of a record. The value type selects the
// concrete struct used when decoding.
type Value interface {
	ValueType() ValueType
}

// Record is a single immutable entry in a partition log.
//
// Position is assigned by the log on append. SourceRecordPosition points at
// the record that caused this one, or NoSource for client-written commands.
type Record struct {
	Position             int64         `json:"position"`
	SourceRecordPosition int64         `json:"sourceRecordPosition"`
	Key                  int64         `json:"key"`
	PartitionID          int           `json:"partitionId"`
	RecordType           RecordType    `json:"recordType"`
	ValueType            ValueType     `json:"valueType"`
	Intent               Intent        `json:"intent"`
	RejectionType        RejectionType `json:"rejectionType,omitempty"`
	RejectionReason      string        `json:"rejectionReason,omitempty"`
	RequestID            string        `json:"requestId,omitempty"`
	Value                Value         `json:"value"`
}

// NewCommand builds a client command record. Position is assigned on append.
func NewCommand(key int64, intent Intent, value Value) Record {
	return Record{
		SourceRecordPosition: NoSource,
		Key:                  key,
		RecordType:           RecordTypeCommand,
		ValueType:            value.ValueType(),
		Intent:               intent,
		Value:                value,
	}
}

// IsCommand reports whether the record is a command awaiting processing.
func (r Record) IsCommand() bool {
	return r.RecordType == RecordTypeCommand
}

// String renders a short human-readable form, used in logs and traces.
func (r Record) String() string {
	if r.RecordType == RecordTypeRejection {
		return fmt.Sprintf("%d %s %s.%s key=%d src=%d %s: %s",
			r.Position, r.RecordType, r.ValueType, r.Intent, r.Key, r.SourceRecordPosition,
			r.RejectionType, r.RejectionReason)
	}
	return fmt.Sprintf("%d %s %s.%s key=%d src=%d",
		r.Position, r.RecordType, r.ValueType, r.Intent, r.Key, r.SourceRecordPosition)
}

type recordJSON struct {
	Position             int64           `json:"position"`
	SourceRecordPosition int64           `json:"sourceRecordPosition"`
	Key                  int64           `json:"key"`
	PartitionID          int             `json:"partitionId"`
	RecordType           RecordType      `json:"recordType"`
	ValueType            ValueType       `json:"valueType"`
	Intent               Intent          `json:"intent"`
	RejectionType        RejectionType   `json:"rejectionType,omitempty"`
	RejectionReason      string          `json:"rejectionReason,omitempty"`
	RequestID            string          `json:"requestId,omitempty"`
	Value                json.RawMessage `json:"value"`
}

// UnmarshalJSON decodes the record header and then the value into the
// struct selected by valueType.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	value, err := DecodeValue(raw.ValueType, raw.Value)
	if err != nil {
		return fmt.Errorf("record %d: %w", raw.Position, err)
	}

	*r = Record{
		Position:             raw.Position,
		SourceRecordPosition: raw.SourceRecordPosition,
		Key:                  raw.Key,
		PartitionID:          raw.PartitionID,
		RecordType:           raw.RecordType,
		ValueType:            raw.ValueType,
		Intent:               raw.Intent,
		RejectionType:        raw.RejectionType,
		RejectionReason:      raw.RejectionReason,
		RequestID:            raw.RequestID,
		Value:                value,
	}
	return nil
}

// DecodeValue decodes a raw payload into the value struct for vt.
func DecodeValue(vt ValueType, raw json.RawMessage) (Value, error) {
	switch vt {
	case ValueTypeIncident:
		return decodeAs[IncidentRecord](raw)
	case ValueTypeJob:
		return decodeAs[JobRecord](raw)
	case ValueTypeJobBatch:
		return decodeAs[JobBatchRecord](raw)
	case ValueTypeProcessInstance:
		return decodeAs[ProcessInstanceRecord](raw)
	case ValueTypeProcessInstanceCreation:
		return decodeAs[ProcessInstanceCreationRecord](raw)
	case ValueTypeVariableDocument:
		return decodeAs[VariableDocumentRecord](raw)
	case ValueTypeMessage:
		return decodeAs[MessageRecord](raw)
	case ValueTypeMessageSubscription:
		return decodeAs[MessageSubscriptionRecord](raw)
	case ValueTypeDeployment:
		return decodeAs[DeploymentRecord](raw)
	default:
		return nil, fmt.Errorf("unknown value type %q", vt)
	}
}

func decodeAs[T Value](raw json.RawMessage) (Value, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
