package model

import (
	"encoding/json"
	"fmt"
)

// Record is a value persisted in the key-value store inside a tagged envelope.
type Record interface {
	RecordKind() string
	RecordVersion() int
}

type envelope struct {
	Kind    string          `json:"kind"`
	Version int             `json:"v"`
	Data    json.RawMessage `json:"data"`
}

// DecodeError is returned when a stored envelope does not hold the expected record.
type DecodeError struct {
	Kind            string
	Version         int
	ExpectedKind    string
	ExpectedVersion int
	Err             error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to decode %s record: %v", e.ExpectedKind, e.Err)
	}
	return fmt.Sprintf("expected %s record v%d, got %s v%d", e.ExpectedKind, e.ExpectedVersion, e.Kind, e.Version)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func Encode(record Record) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", record.RecordKind(), err)
	}
	return json.Marshal(envelope{
		Kind:    record.RecordKind(),
		Version: record.RecordVersion(),
		Data:    data,
	})
}

// Decode unmarshals raw into record, which must be a pointer.
func Decode(raw []byte, record Record) error {
	var env envelope

	if err := json.Unmarshal(raw, &env); err != nil {
		return &DecodeError{ExpectedKind: record.RecordKind(), ExpectedVersion: record.RecordVersion(), Err: err}
	}

	if env.Kind != record.RecordKind() || env.Version != record.RecordVersion() {
		return &DecodeError{
			Kind:            env.Kind,
			Version:         env.Version,
			ExpectedKind:    record.RecordKind(),
			ExpectedVersion: record.RecordVersion(),
		}
	}

	if err := json.Unmarshal(env.Data, record); err != nil {
		return &DecodeError{Kind: env.Kind, Version: env.Version, ExpectedKind: record.RecordKind(), ExpectedVersion: record.RecordVersion(), Err: err}
	}

	return nil
}
