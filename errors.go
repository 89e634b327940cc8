/*
Copyright 2024 Quotedesk Authors.

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

package quotedesk

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/quotedesk/quotedesk/internal/apierror"
)

// ErrorKind classifies approval failures so callers can react without parsing messages.
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration"
	KindRemoteUnavailable ErrorKind = "remote_unavailable"
	KindRemoteRejected    ErrorKind = "remote_rejected"
	KindRemoteNoInstance  ErrorKind = "remote_no_instance"
	KindIntegrity         ErrorKind = "integrity"
	KindUnknownInstance   ErrorKind = "unknown_instance"
	KindInconsistentState ErrorKind = "inconsistent_state"
	KindDuplicateEvent    ErrorKind = "duplicate_event"
	KindUnmappedStatus    ErrorKind = "unmapped_status"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrConfiguration     = &ApprovalError{Kind: KindConfiguration}
	ErrRemoteUnavailable = &ApprovalError{Kind: KindRemoteUnavailable}
	ErrRemoteRejected    = &ApprovalError{Kind: KindRemoteRejected}
	ErrRemoteNoInstance  = &ApprovalError{Kind: KindRemoteNoInstance}
	ErrIntegrity         = &ApprovalError{Kind: KindIntegrity}
	ErrUnknownInstance   = &ApprovalError{Kind: KindUnknownInstance}
	ErrInconsistentState = &ApprovalError{Kind: KindInconsistentState}
	ErrDuplicateEvent    = &ApprovalError{Kind: KindDuplicateEvent}
	ErrUnmappedStatus    = &ApprovalError{Kind: KindUnmappedStatus}
	ErrNotFound          = &ApprovalError{Kind: KindNotFound}
	ErrConflict          = &ApprovalError{Kind: KindConflict}
)

// ApprovalError is the error type returned by providers, the synchronizer and the pipeline.
type ApprovalError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ApprovalError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

// Is matches any ApprovalError of the same kind.
func (e *ApprovalError) Is(target error) bool {
	t, ok := target.(*ApprovalError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// APIErrorCode maps the kind onto the HTTP facing error code.
func (e *ApprovalError) APIErrorCode() apierror.ErrorCode {
	switch e.Kind {
	case KindConfiguration:
		return apierror.ErrServiceUnavailable
	case KindRemoteUnavailable:
		return apierror.ErrBadGateway
	case KindRemoteRejected, KindRemoteNoInstance, KindUnmappedStatus:
		return apierror.ErrUnprocessable
	case KindIntegrity:
		return apierror.ErrUnauthorized
	case KindNotFound, KindUnknownInstance:
		return apierror.ErrNotFound
	case KindConflict, KindInconsistentState:
		return apierror.ErrConflict
	default:
		return apierror.ErrInternalServer
	}
}

func newError(kind ErrorKind, op string, err error) error {
	return &ApprovalError{Kind: kind, Op: op, Err: err}
}

func newErrorf(kind ErrorKind, op, format string, args ...interface{}) error {
	return &ApprovalError{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

// KindOf returns the kind of the first ApprovalError in the chain.
func KindOf(err error) (ErrorKind, bool) {
	var ae *ApprovalError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// fromDatasource turns datasource lookup failures into domain kinds. Other
// datasource errors are returned untouched.
func fromDatasource(op string, err error) error {
	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case apierror.ErrNotFound:
		return newError(KindNotFound, op, errors.New(apiErr.Message))
	case apierror.ErrConflict:
		return newError(KindConflict, op, errors.New(apiErr.Message))
	}
	return err
}
