/*
Copyright 2025 The PTU Reconciler Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cloud

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure. It is assigned once, at the point the
// error is produced from the provider's HTTP status and error code, and is
// never re-derived from message text.
type Kind string

const (
	KindBadRequest       Kind = "BadRequest"
	KindAuthentication   Kind = "Authentication"
	KindAuthorization    Kind = "Authorization"
	KindNotFound         Kind = "NotFound"
	KindResourceNotFound Kind = "ResourceNotFound"
	KindQuotaExceeded    Kind = "QuotaExceeded"
	KindConflict         Kind = "Conflict"
	KindThrottled        Kind = "Throttled"
	KindTransient        Kind = "Transient"
	// KindValidation marks locally detected fatal inconsistencies (SKU
	// mismatch, insufficient capacity, empty estimation input).
	KindValidation Kind = "Validation"
)

// Error is a classified provider or validation failure.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d, code %s): %s", e.Op, e.Kind, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// NewValidationError builds a fatal, non-recoverable validation failure.
func NewValidationError(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from err, or KindTransient when err
// carries none (unclassified failures stay retryable).
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, k Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == k
}

// IsNotFound reports whether err is either not-found variant.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound) || IsKind(err, KindResourceNotFound)
}

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	return IsKind(err, KindAuthentication) || IsKind(err, KindAuthorization)
}

// classify maps an HTTP status and provider error code to a Kind. The
// provider reports deleted or unknown resources with a dedicated code, which
// is kept distinct from a plain 404 on the route.
func classify(status int, code string) Kind {
	switch status {
	case 400:
		return KindBadRequest
	case 401:
		return KindAuthentication
	case 403:
		return KindAuthorization
	case 404:
		if code == "ResourceNotFound" || code == "DeploymentNotFound" {
			return KindResourceNotFound
		}
		return KindNotFound
	case 409:
		if code == "InsufficientQuota" || code == "QuotaExceeded" {
			return KindQuotaExceeded
		}
		return KindConflict
	case 429:
		return KindThrottled
	default:
		return KindTransient
	}
}
