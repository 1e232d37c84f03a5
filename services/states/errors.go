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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianStates/services/states/storage"
)

// Sentinel errors for the State resource.
var (
	// ErrInvalidContentType indicates the request did not declare a JSON body.
	ErrInvalidContentType = errors.New("content type is not json")

	// ErrMalformedBody indicates the body is not a JSON object, or a field
	// in it has the wrong shape.
	ErrMalformedBody = errors.New("body is not a json object")

	// ErrMissingRequiredField indicates a create body without a usable name.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrBodyTooLarge indicates the body exceeded the configured limit.
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrNotFound indicates no State exists for the given id.
	ErrNotFound = fmt.Errorf("state %w", storage.ErrNotFound)
)
