// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the State resource and its wire format.
//
// A State is a fixed set of protocol fields (id, name, created_at,
// updated_at) plus an auxiliary map holding any other keys a client
// supplied. Reserved fields are never written from client input; the
// merge in Apply skips them explicitly.
package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the storage kind under which State records are kept.
const Kind = "State"

// TimeFormat is the canonical text form of State timestamps (UTC, microseconds).
const TimeFormat = "2006-01-02T15:04:05.000000"

// Field names with protocol meaning.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// reservedFields are never settable from a request body.
var reservedFields = map[string]struct{}{
	FieldID:        {},
	FieldCreatedAt: {},
	FieldUpdatedAt: {},
}

// ErrInvalidName is returned when a name value is not a non-empty string.
var ErrInvalidName = errors.New("name must be a non-empty string")

// State is the single resource exposed by the service.
type State struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Extra holds client-supplied keys without protocol meaning.
	Extra map[string]any
}

// IsReserved reports whether key is a reserved field.
func IsReserved(key string) bool {
	_, ok := reservedFields[key]
	return ok
}

// New creates a State stamped at now.
//
// Description:
//
//	An empty id generates a fresh UUID v4. Both timestamps are set to now
//	truncated to microseconds, so a new State always has
//	created_at == updated_at after a serialization round trip.
//
// Inputs:
//
//	id - Explicit identifier, or "" to generate one.
//	now - Creation time.
//
// Outputs:
//
//	*State - The new State with an empty Name.
func New(id string, now time.Time) *State {
	if id == "" {
		id = uuid.NewString()
	}
	ts := normalize(now)
	return &State{
		ID:        id,
		CreatedAt: ts,
		UpdatedAt: ts,
		Extra:     make(map[string]any),
	}
}

// Apply merges fields into the State, skipping reserved keys.
//
// Description:
//
//	Every non-reserved key overwrites the matching field. "name" must be a
//	non-empty string; any other key lands in Extra. Apply validates the
//	name before writing anything, so a rejected call leaves the State
//	unchanged.
//
// Inputs:
//
//	fields - Parsed JSON object from a request body.
//
// Outputs:
//
//	error - ErrInvalidName if "name" is present but not a non-empty string.
func (s *State) Apply(fields map[string]any) error {
	if err := CheckFields(fields); err != nil {
		return err
	}

	for key, value := range fields {
		if IsReserved(key) {
			continue
		}
		switch key {
		case FieldName:
			s.Name = value.(string)
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[key] = value
		}
	}
	return nil
}

// CheckFields reports whether Apply would accept fields, without a State.
// It returns ErrInvalidName if "name" is present but not a non-empty
// string.
func CheckFields(fields map[string]any) error {
	if raw, ok := fields[FieldName]; ok {
		if name, ok := raw.(string); !ok || name == "" {
			return ErrInvalidName
		}
	}
	return nil
}

// Touch refreshes UpdatedAt.
//
// The new value is strictly greater than the previous one even when the
// clock has not advanced by a full microsecond.
func (s *State) Touch(now time.Time) {
	ts := normalize(now)
	if !ts.After(s.UpdatedAt) {
		ts = s.UpdatedAt.Add(time.Microsecond)
	}
	s.UpdatedAt = ts
}

// Clone returns a copy with its own Extra map. Extra values are shared.
func (s *State) Clone() *State {
	c := *s
	c.Extra = make(map[string]any, len(s.Extra))
	for k, v := range s.Extra {
		c.Extra[k] = v
	}
	return &c
}

// Validate checks the persistence invariants.
func (s *State) Validate() error {
	if s.ID == "" {
		return errors.New("state id is empty")
	}
	if s.Name == "" {
		return ErrInvalidName
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		return fmt.Errorf("state %s updated_at precedes created_at", s.ID)
	}
	return nil
}

// MarshalJSON flattens Extra and the protocol fields into one object.
func (s *State) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[FieldID] = s.ID
	out[FieldName] = s.Name
	out[FieldCreatedAt] = s.CreatedAt.UTC().Format(TimeFormat)
	out[FieldUpdatedAt] = s.UpdatedAt.UTC().Format(TimeFormat)
	return json.Marshal(out)
}

// UnmarshalJSON restores a State from its flattened form.
func (s *State) UnmarshalJSON(data []byte) error {
	fields, err := DecodeObject(data)
	if err != nil {
		return err
	}

	decoded := State{Extra: make(map[string]any)}
	for key, value := range fields {
		switch key {
		case FieldID:
			decoded.ID, _ = value.(string)
		case FieldName:
			decoded.Name, _ = value.(string)
		case FieldCreatedAt:
			if decoded.CreatedAt, err = parseTime(value); err != nil {
				return fmt.Errorf("decode %s: %w", FieldCreatedAt, err)
			}
		case FieldUpdatedAt:
			if decoded.UpdatedAt, err = parseTime(value); err != nil {
				return fmt.Errorf("decode %s: %w", FieldUpdatedAt, err)
			}
		default:
			decoded.Extra[key] = value
		}
	}

	*s = decoded
	return nil
}

// ErrNotObject is returned by DecodeObject for valid JSON that is not an object.
var ErrNotObject = errors.New("json value is not an object")

// DecodeObject parses data as a single JSON object.
//
// Numbers are kept as json.Number so integer extras survive a round trip
// without float conversion. Trailing data after the object is an error.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after json object")
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

func parseTime(value any) (time.Time, error) {
	text, ok := value.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected string, got %T", value)
	}
	if t, err := time.ParseInLocation(TimeFormat, text, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, err
	}
	return normalize(t), nil
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
