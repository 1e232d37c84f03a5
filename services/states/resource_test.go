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
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStates/services/states/datatypes"
	"github.com/AleutianAI/AleutianStates/services/states/events"
	"github.com/AleutianAI/AleutianStates/services/states/storage"
)

const jsonType = "application/json"

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestResource(t *testing.T, opts ...ResourceOption) (*Resource, storage.Engine) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { _ = engine.Close() })
	opts = append([]ResourceOption{WithClock(stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))}, opts...)
	return NewResource(engine, opts...), engine
}

// failingEngine fails every call after the wrapped engine is consulted.
type failingEngine struct {
	storage.Engine
	err error
}

func (f *failingEngine) All(context.Context, string) ([]storage.Record, error) { return nil, f.err }
func (f *failingEngine) Persist(context.Context) error                        { return f.err }

func TestResource_CreateAndGet(t *testing.T) {
	r, _ := newTestResource(t)
	ctx := context.Background()

	created, err := r.Create(ctx, jsonType, []byte(`{"name":"California","capital":"Sacramento"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "California", created.Name)
	assert.Equal(t, "Sacramento", created.Extra["capital"])
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := r.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
	assert.Equal(t, "Sacramento", got.Extra["capital"])
}

func TestResource_CreateIgnoresReservedKeys(t *testing.T) {
	r, _ := newTestResource(t)

	s, err := r.Create(context.Background(), jsonType,
		[]byte(`{"name":"Ohio","id":"mine","created_at":"1999-01-01T00:00:00.000000"}`))
	require.NoError(t, err)
	assert.NotEqual(t, "mine", s.ID)
	assert.Equal(t, 2025, s.CreatedAt.Year())
	assert.NotContains(t, s.Extra, "id")
	assert.NotContains(t, s.Extra, "created_at")
}

func TestResource_CreateRejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        error
	}{
		{"form content type", "application/x-www-form-urlencoded", `{"name":"x"}`, ErrInvalidContentType},
		{"no content type", "", `{"name":"x"}`, ErrInvalidContentType},
		{"text", "text/plain", `{"name":"x"}`, ErrInvalidContentType},
		{"invalid json", jsonType, `{"name":`, ErrMalformedBody},
		{"array", jsonType, `[{"name":"x"}]`, ErrMalformedBody},
		{"string", jsonType, `"x"`, ErrMalformedBody},
		{"empty body", jsonType, ``, ErrMalformedBody},
		{"missing name", jsonType, `{"capital":"Austin"}`, ErrMissingRequiredField},
		{"empty name", jsonType, `{"name":""}`, ErrMissingRequiredField},
		{"numeric name", jsonType, `{"name":7}`, ErrMissingRequiredField},
		{"null name", jsonType, `{"name":null}`, ErrMissingRequiredField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, engine := newTestResource(t)

			_, err := r.Create(context.Background(), tt.contentType, []byte(tt.body))
			assert.ErrorIs(t, err, tt.want)

			all, err := engine.All(context.Background(), datatypes.Kind)
			require.NoError(t, err)
			assert.Empty(t, all, "rejected create must not touch storage")
		})
	}
}

func TestResource_ContentTypeVariants(t *testing.T) {
	for _, ct := range []string{
		"application/json",
		"application/json; charset=utf-8",
		"Application/JSON",
		"application/merge-patch+json",
	} {
		t.Run(ct, func(t *testing.T) {
			r, _ := newTestResource(t)
			_, err := r.Create(context.Background(), ct, []byte(`{"name":"Utah"}`))
			assert.NoError(t, err)
		})
	}
}

func TestResource_ListInsertionOrder(t *testing.T) {
	r, _ := newTestResource(t)
	ctx := context.Background()

	empty, err := r.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	var want []string
	for _, name := range []string{"Alabama", "Alaska", "Arizona"} {
		s, err := r.Create(ctx, jsonType, []byte(`{"name":"`+name+`"}`))
		require.NoError(t, err)
		want = append(want, s.ID)
	}

	list, err := r.List(ctx)
	require.NoError(t, err)
	var got []string
	for _, s := range list {
		got = append(got, s.ID)
	}
	assert.Equal(t, want, got)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestResource_UpdatePreservesImmutables(t *testing.T) {
	r, _ := newTestResource(t)
	ctx := context.Background()

	created, err := r.Create(ctx, jsonType, []byte(`{"name":"Georgia"}`))
	require.NoError(t, err)

	updated, err := r.Update(ctx, created.ID, jsonType,
		[]byte(`{"name":"Peach","id":"x","created_at":"2000-01-01T00:00:00.000000","updated_at":"2000-01-01T00:00:00.000000","motto":"Wisdom"}`))
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Peach", updated.Name)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, "Wisdom", updated.Extra["motto"])

	got, err := r.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Peach", got.Name)
	assert.Equal(t, updated.UpdatedAt, got.UpdatedAt)
}

func TestResource_UpdateStrictlyIncreasesWithFrozenClock(t *testing.T) {
	frozen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestResource(t, WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	s, err := r.Create(ctx, jsonType, []byte(`{"name":"Iowa"}`))
	require.NoError(t, err)

	prev := s.UpdatedAt
	for i := 0; i < 3; i++ {
		s, err = r.Update(ctx, s.ID, jsonType, []byte(`{}`))
		require.NoError(t, err)
		assert.True(t, s.UpdatedAt.After(prev))
		prev = s.UpdatedAt
	}
}

func TestResource_UpdateValidatesBeforeExistence(t *testing.T) {
	r, _ := newTestResource(t)
	ctx := context.Background()

	_, err := r.Update(ctx, "missing", "text/plain", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidContentType)

	_, err = r.Update(ctx, "missing", jsonType, []byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedBody)

	_, err = r.Update(ctx, "missing", jsonType, []byte(`{"name":""}`))
	assert.ErrorIs(t, err, ErrMalformedBody)

	_, err = r.Update(ctx, "missing", jsonType, []byte(`{"name":"ok"}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResource_UpdateRejectedLeavesStateUnchanged(t *testing.T) {
	r, _ := newTestResource(t)
	ctx := context.Background()

	s, err := r.Create(ctx, jsonType, []byte(`{"name":"Maine","bird":"chickadee"}`))
	require.NoError(t, err)

	_, err = r.Update(ctx, s.ID, jsonType, []byte(`{"name":5,"bird":"loon"}`))
	require.ErrorIs(t, err, ErrMalformedBody)

	got, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Maine", got.Name)
	assert.Equal(t, "chickadee", got.Extra["bird"])
	assert.Equal(t, s.UpdatedAt, got.UpdatedAt)
}

func TestResource_DeleteTwice(t *testing.T) {
	r, _ := newTestResource(t)
	ctx := context.Background()

	s, err := r.Create(ctx, jsonType, []byte(`{"name":"Vermont"}`))
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, s.ID))
	assert.ErrorIs(t, r.Delete(ctx, s.ID), ErrNotFound)

	_, err = r.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResource_NotFoundWrapsStorage(t *testing.T) {
	r, _ := newTestResource(t)
	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResource_StorageFailures(t *testing.T) {
	boom := errors.New("disk on fire")
	engine := &failingEngine{Engine: storage.NewMemoryEngine(), err: boom}
	r := NewResource(engine)
	ctx := context.Background()

	_, err := r.List(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = r.Count(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = r.Create(ctx, jsonType, []byte(`{"name":"Nevada"}`))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "create state: persist: disk on fire")
}

// cancelAfterWrite cancels the caller's context as soon as a mutation has
// reached the working set, before Persist runs.
type cancelAfterWrite struct {
	storage.Engine
	cancel context.CancelFunc
}

func (c *cancelAfterWrite) Put(ctx context.Context, rec storage.Record) error {
	defer c.cancel()
	return c.Engine.Put(ctx, rec)
}

func (c *cancelAfterWrite) Delete(ctx context.Context, kind, id string) error {
	defer c.cancel()
	return c.Engine.Delete(ctx, kind, id)
}

func onDisk(t *testing.T, path string) int {
	t.Helper()
	e, err := storage.OpenFileEngine(path)
	require.NoError(t, err)
	defer e.Close()
	all, err := e.All(context.Background(), datatypes.Kind)
	require.NoError(t, err)
	return len(all)
}

func TestResource_ClientCancelMidWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states.json")
	file, err := storage.OpenFileEngine(path)
	require.NoError(t, err)
	defer file.Close()

	engine := &cancelAfterWrite{Engine: file}
	r := NewResource(engine)

	t.Run("create still persists", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		engine.cancel = cancel

		s, err := r.Create(ctx, jsonType, []byte(`{"name":"Oregon"}`))
		require.NoError(t, err)
		require.ErrorIs(t, ctx.Err(), context.Canceled)

		list, err := r.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, s.ID, list[0].ID)
		assert.Equal(t, 1, onDisk(t, path))
	})

	t.Run("delete still persists", func(t *testing.T) {
		list, err := r.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)

		ctx, cancel := context.WithCancel(context.Background())
		engine.cancel = cancel

		require.NoError(t, r.Delete(ctx, list[0].ID))
		require.ErrorIs(t, ctx.Err(), context.Canceled)
		assert.Zero(t, onDisk(t, path))
	})
}

func TestResource_PublishesEvents(t *testing.T) {
	hub := events.NewHub()
	sub := hub.Subscribe(8)
	defer sub.Cancel()

	r, _ := newTestResource(t, WithPublisher(hub))
	ctx := context.Background()

	s, err := r.Create(ctx, jsonType, []byte(`{"name":"Idaho"}`))
	require.NoError(t, err)
	_, err = r.Update(ctx, s.ID, jsonType, []byte(`{"name":"Gem"}`))
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, s.ID))

	// Rejected calls publish nothing.
	_, _ = r.Create(ctx, jsonType, []byte(`{}`))
	_ = r.Delete(ctx, s.ID)

	var got []events.Event
	for len(got) < 3 {
		select {
		case e := <-sub.C():
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("received %d events, want 3", len(got))
		}
	}

	assert.Equal(t, events.TypeCreated, got[0].Type)
	assert.Equal(t, "Idaho", got[0].State.Name)
	assert.Equal(t, events.TypeUpdated, got[1].Type)
	assert.Equal(t, "Gem", got[1].State.Name)
	assert.Equal(t, events.TypeDeleted, got[2].Type)
	assert.Nil(t, got[2].State)
	for _, e := range got {
		assert.Equal(t, s.ID, e.ID)
	}

	select {
	case e := <-sub.C():
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}
