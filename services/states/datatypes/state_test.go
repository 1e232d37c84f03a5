// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

func TestNew_GeneratesID(t *testing.T) {
	s := New("", testNow)

	_, err := uuid.Parse(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)
	assert.Equal(t, 589793000, s.CreatedAt.Nanosecond(), "timestamps are truncated to microseconds")
}

func TestNew_ExplicitID(t *testing.T) {
	s := New("fixed-id", testNow)
	assert.Equal(t, "fixed-id", s.ID)
}

func TestApply(t *testing.T) {
	t.Run("skips reserved fields", func(t *testing.T) {
		s := New("keep", testNow)
		err := s.Apply(map[string]any{
			"id":         "override",
			"created_at": "2000-01-01T00:00:00.000000",
			"updated_at": "2000-01-01T00:00:00.000000",
			"name":       "Nevada",
		})
		require.NoError(t, err)
		assert.Equal(t, "keep", s.ID)
		assert.Equal(t, "Nevada", s.Name)
		assert.Equal(t, normalize(testNow), s.CreatedAt)
		assert.Empty(t, s.Extra)
	})

	t.Run("keeps unknown keys", func(t *testing.T) {
		s := New("", testNow)
		require.NoError(t, s.Apply(map[string]any{"name": "Utah", "capital": "Salt Lake City"}))
		assert.Equal(t, "Salt Lake City", s.Extra["capital"])
	})

	invalid := []struct {
		name  string
		value any
	}{
		{"empty string", ""},
		{"number", json.Number("5")},
		{"null", nil},
	}
	for _, tt := range invalid {
		t.Run("rejects name "+tt.name, func(t *testing.T) {
			s := New("", testNow)
			s.Name = "Before"
			err := s.Apply(map[string]any{"name": tt.value, "other": 1})
			assert.ErrorIs(t, err, ErrInvalidName)
			assert.Equal(t, "Before", s.Name)
			assert.NotContains(t, s.Extra, "other", "rejected apply must not write anything")
			assert.ErrorIs(t, CheckFields(map[string]any{"name": tt.value}), ErrInvalidName)
		})
	}
}

func TestCheckFields(t *testing.T) {
	assert.NoError(t, CheckFields(map[string]any{}))
	assert.NoError(t, CheckFields(map[string]any{"name": "Ohio", "id": 7}))
	assert.NoError(t, CheckFields(map[string]any{"capital": ""}))
}

func TestTouch_StrictlyIncreases(t *testing.T) {
	s := New("", testNow)
	before := s.UpdatedAt

	s.Touch(testNow) // clock did not move
	assert.True(t, s.UpdatedAt.After(before))

	later := testNow.Add(time.Second)
	s.Touch(later)
	assert.Equal(t, normalize(later), s.UpdatedAt)
	assert.Equal(t, normalize(testNow), s.CreatedAt)
}

func TestMarshalJSON_Flattens(t *testing.T) {
	s := New("abc", testNow)
	s.Name = "California"
	s.Extra["population"] = json.Number("39538223")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "abc", out["id"])
	assert.Equal(t, "California", out["name"])
	assert.Equal(t, "2025-03-14T09:26:53.589793", out["created_at"])
	assert.Equal(t, out["created_at"], out["updated_at"])
	assert.EqualValues(t, 39538223, out["population"])
}

func TestUnmarshalJSON_RoundTrip(t *testing.T) {
	s := New("", testNow)
	s.Name = "Oregon"
	s.Extra["nickname"] = "Beaver State"
	s.Touch(testNow.Add(time.Minute))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.ID, decoded.ID)
	assert.Equal(t, s.Name, decoded.Name)
	assert.True(t, s.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, s.UpdatedAt.Equal(decoded.UpdatedAt))
	assert.Equal(t, "Beaver State", decoded.Extra["nickname"])
	assert.NoError(t, decoded.Validate())
}

func TestUnmarshalJSON_BadTimestamp(t *testing.T) {
	var s State
	err := json.Unmarshal([]byte(`{"id":"x","name":"y","created_at":"yesterday"}`), &s)
	assert.Error(t, err)
}

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"object", `{"name":"Texas"}`, false},
		{"empty object", `{}`, false},
		{"array", `[1,2]`, true},
		{"string", `"Texas"`, true},
		{"truncated", `{"name":`, true},
		{"trailing data", `{"name":"a"} {}`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeObject([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	s := New("", testNow)
	assert.ErrorIs(t, s.Validate(), ErrInvalidName)

	s.Name = "Ohio"
	assert.NoError(t, s.Validate())

	s.UpdatedAt = s.CreatedAt.Add(-time.Second)
	assert.Error(t, s.Validate())
}

func TestClone_OwnsExtra(t *testing.T) {
	s := New("a", testNow)
	s.Name = "Alaska"
	s.Extra["capital"] = "Juneau"

	c := s.Clone()
	c.Extra["capital"] = "Sitka"
	c.Name = "Other"

	assert.Equal(t, "Juneau", s.Extra["capital"])
	assert.Equal(t, "Alaska", s.Name)
	assert.Equal(t, s.ID, c.ID)
}
