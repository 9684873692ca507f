package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKey_RoundTripsPartition(t *testing.T) {
	for _, partition := range []int{1, 2, 7, 100} {
		key := EncodeKey(partition, 42)
		assert.Equal(t, partition, DecodePartitionID(key))
		assert.Equal(t, int64(42), DecodeKeyCounter(key))
		assert.Greater(t, key, int64(0))
	}
}

func TestEncodeKey_OrderedWithinPartition(t *testing.T) {
	assert.Less(t, EncodeKey(1, 1), EncodeKey(1, 2))
	assert.Less(t, EncodeKey(1, 1<<40), EncodeKey(2, 1))
}

func TestErrorType_JSON(t *testing.T) {
	data, err := json.Marshal(ErrorTypeCondition)
	require.NoError(t, err)
	assert.Equal(t, `"CONDITION_ERROR"`, string(data))

	var parsed ErrorType
	require.NoError(t, json.Unmarshal([]byte(`"JOB_NO_RETRIES"`), &parsed))
	assert.Equal(t, ErrorTypeJobNoRetries, parsed)

	assert.Error(t, json.Unmarshal([]byte(`"NOPE"`), &parsed))
}

func TestErrorType_IsJobRelated(t *testing.T) {
	assert.True(t, ErrorTypeJobNoRetries.IsJobRelated())
	assert.True(t, ErrorTypeMessageSizeExceeded.IsJobRelated())
	assert.True(t, ErrorTypeUnhandledErrorEvent.IsJobRelated())
	assert.False(t, ErrorTypeCondition.IsJobRelated())
	assert.False(t, ErrorTypeIOMapping.IsJobRelated())
}

func TestRecord_UnmarshalSelectsValueType(t *testing.T) {
	original := Record{
		Position:             7,
		SourceRecordPosition: 5,
		Key:                  EncodeKey(1, 3),
		PartitionID:          1,
		RecordType:           RecordTypeEvent,
		ValueType:            ValueTypeIncident,
		Intent:               IncidentCreated,
		Value: IncidentRecord{
			ErrorType:          ErrorTypeCondition,
			ErrorMessage:       "boom",
			BPMNProcessID:      "process",
			ElementInstanceKey: 11,
			VariableScopeKey:   11,
			JobKey:             -1,
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Record
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original, decoded)
	incident, ok := decoded.Value.(IncidentRecord)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeCondition, incident.ErrorType)
}

func TestRecord_UnmarshalUnknownValueType(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{"valueType":"TIMER","value":{}}`), &r)
	assert.Error(t, err)
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand(9, IncidentResolve, IncidentRecord{})

	assert.Equal(t, RecordTypeCommand, cmd.RecordType)
	assert.Equal(t, ValueTypeIncident, cmd.ValueType)
	assert.Equal(t, NoSource, cmd.SourceRecordPosition)
	assert.True(t, cmd.IsCommand())
}

func TestMarshalCanonical_SortsKeysAndNormalizesNumbers(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"b":   12.0,
		"a":   "x<y",
		"nil": nil,
		"arr": []any{1, 2.5, true},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x<y","arr":[1,2.5,true],"b":12,"nil":null}`, string(out))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	out, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))
}

func TestCanonicalSize(t *testing.T) {
	n, err := CanonicalSize(map[string]any{"foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, len(`{"foo":"bar"}`), n)
}
