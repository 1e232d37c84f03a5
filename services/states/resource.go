// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package states

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianStates/services/states/datatypes"
	"github.com/AleutianAI/AleutianStates/services/states/events"
	"github.com/AleutianAI/AleutianStates/services/states/storage"
)

// Resource implements the State operations on top of a storage Engine.
//
// Description:
//
//	Resource validates request input, translates it into storage calls and
//	reports outcomes as values or sentinel errors. It holds no State
//	between calls; the Engine owns the collection.
//
// Thread Safety: Safe for concurrent use when the Engine is.
type Resource struct {
	engine    storage.Engine
	now       func() time.Time
	publisher events.Publisher
}

// ResourceOption configures a Resource.
type ResourceOption func(*Resource)

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) ResourceOption {
	return func(r *Resource) {
		r.now = now
	}
}

// WithPublisher sends a change event after every committed mutation.
func WithPublisher(p events.Publisher) ResourceOption {
	return func(r *Resource) {
		r.publisher = p
	}
}

// NewResource creates a Resource over engine.
func NewResource(engine storage.Engine, opts ...ResourceOption) *Resource {
	r := &Resource{engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns every State in insertion order. Never nil.
func (r *Resource) List(ctx context.Context) ([]*datatypes.State, error) {
	records, err := r.engine.All(ctx, datatypes.Kind)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}

	out := make([]*datatypes.State, 0, len(records))
	for _, rec := range records {
		s, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Count returns the number of stored States.
func (r *Resource) Count(ctx context.Context) (int, error) {
	records, err := r.engine.All(ctx, datatypes.Kind)
	if err != nil {
		return 0, fmt.Errorf("count states: %w", err)
	}
	return len(records), nil
}

// Get returns the State with id, or ErrNotFound.
func (r *Resource) Get(ctx context.Context, id string) (*datatypes.State, error) {
	rec, err := r.engine.Get(ctx, datatypes.Kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", id, err)
	}
	return decodeRecord(rec)
}

// Create builds a State from a JSON body and persists it.
//
// Description:
//
//	Rejects non-JSON content types, bodies that are not JSON objects and
//	bodies without a non-empty string "name". Reserved keys in the body
//	are ignored; every other key is kept. The new State gets a fresh id
//	and both timestamps set to the current time.
//
// Inputs:
//
//	ctx - Request context, passed to storage.
//	contentType - Declared Content-Type header.
//	body - Raw request body.
//
// Outputs:
//
//	*datatypes.State - The stored State.
//	error - ErrInvalidContentType, ErrMalformedBody, ErrMissingRequiredField,
//	        or a wrapped storage failure.
func (r *Resource) Create(ctx context.Context, contentType string, body []byte) (*datatypes.State, error) {
	fields, err := parseBody(contentType, body)
	if err != nil {
		return nil, err
	}
	if _, ok := fields[datatypes.FieldName]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequiredField, datatypes.FieldName)
	}

	s := datatypes.New("", r.now())
	if err := s.Apply(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingRequiredField, err)
	}

	if err := r.save(ctx, s); err != nil {
		return nil, fmt.Errorf("create state: %w", err)
	}
	r.publish(events.TypeCreated, s.ID, s)
	return s, nil
}

// Update merges a JSON body into an existing State and persists it.
//
// Description:
//
//	The body is validated before the id is looked up, so a malformed
//	request to a missing id reports the body problem. Reserved keys are
//	ignored; updated_at is refreshed and strictly increases.
//
// Outputs:
//
//	*datatypes.State - The updated State.
//	error - ErrInvalidContentType, ErrMalformedBody, ErrNotFound, or a
//	        wrapped storage failure.
func (r *Resource) Update(ctx context.Context, id, contentType string, body []byte) (*datatypes.State, error) {
	fields, err := parseBody(contentType, body)
	if err != nil {
		return nil, err
	}
	if err := datatypes.CheckFields(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Apply(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	s.Touch(r.now())

	if err := r.save(ctx, s); err != nil {
		return nil, fmt.Errorf("update state %s: %w", id, err)
	}
	r.publish(events.TypeUpdated, s.ID, s)
	return s, nil
}

// Delete removes the State with id and persists, or returns ErrNotFound.
//
// The removal and Persist run detached from ctx cancellation so a client
// going away cannot leave the working set and the durable copy apart.
func (r *Resource) Delete(ctx context.Context, id string) error {
	ctx = context.WithoutCancel(ctx)
	err := r.engine.Delete(ctx, datatypes.Kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete state %s: %w", id, err)
	}
	if err := r.engine.Persist(ctx); err != nil {
		return fmt.Errorf("delete state %s: persist: %w", id, err)
	}
	r.publish(events.TypeDeleted, id, nil)
	return nil
}

// publish hands subscribers a copy so later mutations of s stay private.
func (r *Resource) publish(t events.Type, id string, s *datatypes.State) {
	if r.publisher == nil {
		return
	}
	e := events.Event{Type: t, ID: id, At: r.now().UTC()}
	if s != nil {
		e.State = s.Clone()
	}
	r.publisher.Publish(e)
}

// save puts and persists s as one step. Cancellation of ctx is ignored
// once the write starts.
func (r *Resource) save(ctx context.Context, s *datatypes.State) error {
	ctx = context.WithoutCancel(ctx)
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := r.engine.Put(ctx, storage.Record{Kind: datatypes.Kind, ID: s.ID, Data: data}); err != nil {
		return err
	}
	if err := r.engine.Persist(ctx); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func decodeRecord(rec storage.Record) (*datatypes.State, error) {
	var s datatypes.State
	if err := json.Unmarshal(rec.Data, &s); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", rec.ID, err)
	}
	if s.ID == "" {
		s.ID = rec.ID
	}
	return &s, nil
}

// parseBody checks the media type and decodes body as a JSON object.
func parseBody(contentType string, body []byte) (map[string]any, error) {
	if !isJSONMediaType(contentType) {
		return nil, ErrInvalidContentType
	}
	fields, err := datatypes.DecodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return fields, nil
}

// isJSONMediaType accepts application/json and application/*+json,
// ignoring parameters such as charset.
func isJSONMediaType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if mediaType == "application/json" {
		return true
	}
	return strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")
}
