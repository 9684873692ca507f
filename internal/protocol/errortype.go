package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorType classifies why an incident was raised. It is a data tag only:
// incident handling is identical for every kind.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeExtractValue
	ErrorTypeIOMapping
	ErrorTypeCondition
	ErrorTypeJobNoRetries
	ErrorTypeCalledElement
	ErrorTypeUnhandledErrorEvent
	ErrorTypeMessageSizeExceeded
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeUnknown:             "UNKNOWN",
	ErrorTypeExtractValue:        "EXTRACT_VALUE_ERROR",
	ErrorTypeIOMapping:           "IO_MAPPING_ERROR",
	ErrorTypeCondition:           "CONDITION_ERROR",
	ErrorTypeJobNoRetries:        "JOB_NO_RETRIES",
	ErrorTypeCalledElement:       "CALLED_ELEMENT_ERROR",
	ErrorTypeUnhandledErrorEvent: "UNHANDLED_ERROR_EVENT",
	ErrorTypeMessageSizeExceeded: "MESSAGE_SIZE_EXCEEDED",
}

// ParseErrorType maps the wire name back to an ErrorType.
func ParseErrorType(s string) (ErrorType, error) {
	for t, name := range errorTypeNames {
		if name == s {
			return t, nil
		}
	}
	return ErrorTypeUnknown, fmt.Errorf("unknown error type %q", s)
}

// IsJobRelated reports whether incidents of this type are raised on a job
// rather than on an element instance step.
func (t ErrorType) IsJobRelated() bool {
	switch t {
	case ErrorTypeJobNoRetries, ErrorTypeUnhandledErrorEvent, ErrorTypeMessageSizeExceeded:
		return true
	}
	return false
}

func (t ErrorType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ErrorType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseErrorType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t ErrorType) String() string {
	if name, ok := errorTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}
