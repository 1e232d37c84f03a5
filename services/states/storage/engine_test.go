// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kv "github.com/AleutianAI/AleutianStates/services/states/storage/badger"
)

const testKind = "State"

// engineFactories builds a fresh engine of every backend.
func engineFactories() map[string]func(t *testing.T) Engine {
	return map[string]func(t *testing.T) Engine{
		"memory": func(t *testing.T) Engine {
			return NewMemoryEngine()
		},
		"file": func(t *testing.T) Engine {
			e, err := OpenFileEngine(t.TempDir() + "/states.json")
			require.NoError(t, err)
			return e
		},
		"badger": func(t *testing.T) Engine {
			e, err := OpenBadgerEngine(kv.InMemoryConfig())
			require.NoError(t, err)
			return e
		},
	}
}

// forEachEngine runs fn as a subtest against every backend.
func forEachEngine(t *testing.T, fn func(t *testing.T, e Engine)) {
	t.Helper()
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			e := factory(t)
			t.Cleanup(func() { _ = e.Close() })
			fn(t, e)
		})
	}
}

func rec(id, name string) Record {
	return Record{Kind: testKind, ID: id, Data: json.RawMessage(fmt.Sprintf(`{"id":%q,"name":%q}`, id, name))}
}

func ids(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestEngine_GetMissing(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		_, err := e.Get(context.Background(), testKind, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEngine_PutGet(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		require.NoError(t, e.Put(ctx, rec("a", "Alabama")))

		got, err := e.Get(ctx, testKind, "a")
		require.NoError(t, err)
		assert.Equal(t, testKind, got.Kind)
		assert.Equal(t, "a", got.ID)
		assert.JSONEq(t, `{"id":"a","name":"Alabama"}`, string(got.Data))
	})
}

func TestEngine_AllInsertionOrder(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		for _, id := range []string{"c", "a", "b"} {
			require.NoError(t, e.Put(ctx, rec(id, "n-"+id)))
		}

		// Replacing keeps the original slot.
		require.NoError(t, e.Put(ctx, rec("c", "renamed")))

		all, err := e.All(ctx, testKind)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b"}, ids(all))
		assert.JSONEq(t, `{"id":"c","name":"renamed"}`, string(all[0].Data))
	})
}

func TestEngine_AllEmpty(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		all, err := e.All(context.Background(), testKind)
		require.NoError(t, err)
		assert.NotNil(t, all)
		assert.Empty(t, all)
	})
}

func TestEngine_KindsAreIsolated(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		require.NoError(t, e.Put(ctx, rec("1", "Ohio")))
		require.NoError(t, e.Put(ctx, Record{Kind: "City", ID: "1", Data: json.RawMessage(`{"name":"Akron"}`)}))

		got, err := e.Get(ctx, testKind, "1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"1","name":"Ohio"}`, string(got.Data))

		states, err := e.All(ctx, testKind)
		require.NoError(t, err)
		assert.Len(t, states, 1)
	})
}

func TestEngine_Delete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		require.NoError(t, e.Put(ctx, rec("a", "Alaska")))
		require.NoError(t, e.Put(ctx, rec("b", "Arizona")))

		require.NoError(t, e.Delete(ctx, testKind, "a"))
		assert.ErrorIs(t, e.Delete(ctx, testKind, "a"), ErrNotFound)

		_, err := e.Get(ctx, testKind, "a")
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := e.All(ctx, testKind)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(all))
	})
}

func TestEngine_PutRejectsInvalidRecords(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		assert.Error(t, e.Put(ctx, Record{ID: "x", Data: json.RawMessage(`{}`)}))
		assert.Error(t, e.Put(ctx, Record{Kind: testKind, Data: json.RawMessage(`{}`)}))
		assert.Error(t, e.Put(ctx, Record{Kind: testKind, ID: "x", Data: json.RawMessage(`{`)}))
	})
}

func TestEngine_ReturnedDataIsCopy(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		r := rec("a", "Arkansas")
		require.NoError(t, e.Put(ctx, r))
		r.Data[2] = 'X'

		got, err := e.Get(ctx, testKind, "a")
		require.NoError(t, err)
		got.Data[2] = 'Y'

		again, err := e.Get(ctx, testKind, "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"a","name":"Arkansas"}`, string(again.Data))
	})
}

func TestEngine_PersistSucceeds(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		require.NoError(t, e.Put(ctx, rec("a", "Colorado")))
		require.NoError(t, e.Persist(ctx))
		require.NoError(t, e.Persist(ctx))
	})
}

func TestEngine_Closed(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())

		_, err := e.Get(ctx, testKind, "a")
		assert.ErrorIs(t, err, ErrClosed)
		_, err = e.All(ctx, testKind)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, e.Put(ctx, rec("a", "Delaware")), ErrClosed)
		assert.ErrorIs(t, e.Delete(ctx, testKind, "a"), ErrClosed)
		assert.ErrorIs(t, e.Persist(ctx), ErrClosed)
		assert.ErrorIs(t, e.Reload(ctx), ErrClosed)
	})
}

func TestEngine_ConcurrentAccess(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		const workers = 8
		const perWorker = 25

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					id := fmt.Sprintf("w%d-%d", w, i)
					if err := e.Put(ctx, rec(id, id)); err != nil {
						t.Errorf("put %s: %v", id, err)
						return
					}
					if _, err := e.Get(ctx, testKind, id); err != nil {
						t.Errorf("get %s: %v", id, err)
						return
					}
				}
			}(w)
		}
		wg.Wait()

		all, err := e.All(ctx, testKind)
		require.NoError(t, err)
		assert.Len(t, all, workers*perWorker)
	})
}
