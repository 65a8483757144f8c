package events

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrDecode marks payloads that can never be processed. Consumers commit past them.
var ErrDecode = errors.New("invalid event payload")

// EncodeNormalizedEvent serializes an event for the events topic.
func EncodeNormalizedEvent(ev *NormalizedEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", ev.EventID, err)
	}
	return data, nil
}

// DecodeNormalizedEvent parses and validates an events topic payload.
// Every failure wraps ErrDecode.
func DecodeNormalizedEvent(data []byte) (*NormalizedEvent, error) {
	var ev NormalizedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks the fields every consumer relies on. Amounts are not checked here: rules
// read an unparsable amount as zero, while storage rejects it.
func (ev *NormalizedEvent) Validate() error {
	switch {
	case ev.EventID == "":
		return fmt.Errorf("%w: event_id is empty", ErrDecode)
	case !ev.EventKind.Valid():
		return fmt.Errorf("%w: unknown event_kind %q", ErrDecode, ev.EventKind)
	case ev.OfferID == "":
		return fmt.Errorf("%w: offer_id is empty", ErrDecode)
	case ev.Maker == "":
		return fmt.Errorf("%w: maker is empty", ErrDecode)
	}
	return nil
}

// DecodeRawLogEvent parses a contract log record.
func DecodeRawLogEvent(data []byte) (*RawLogEvent, error) {
	var raw RawLogEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &raw, nil
}

// EncodeAlertEvent serializes an alert for the alerts topic.
func EncodeAlertEvent(alert *AlertEvent) ([]byte, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert %s: %w", alert.AlertID, err)
	}
	return data, nil
}

// DecodeAlertEvent parses an alerts topic payload.
func DecodeAlertEvent(data []byte) (*AlertEvent, error) {
	var alert AlertEvent
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if alert.AlertID == "" {
		return nil, fmt.Errorf("%w: alert_id is empty", ErrDecode)
	}
	return &alert, nil
}
