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

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the client-facing message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// StatusResponse is returned by GET {base}/status.
type StatusResponse struct {
	Status string `json:"status"`
}

// StatsResponse is returned by GET {base}/stats.
type StatsResponse struct {
	// States is the number of stored States.
	States int `json:"states"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidContentType = "INVALID_CONTENT_TYPE"
	CodeMalformedBody      = "MALFORMED_BODY"
	CodeMissingField       = "MISSING_FIELD"
	CodeBodyTooLarge       = "BODY_TOO_LARGE"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL"
)
