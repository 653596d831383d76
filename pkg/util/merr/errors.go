// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Session related
	ErrSessionNotFound  = newHermesError("session not found", 1, false)
	ErrSessionClosed    = newHermesError("session already closed", 2, false)
	ErrSessionDuplicate = newHermesError("session id already registered", 3, false)
	ErrSessionStale     = newHermesError("session no longer accepts writes", 5, false)

	// Auth related
	ErrAuthTimeout       = newHermesError("authentication timed out", 100, false)
	ErrAuthBadInput      = newHermesError("empty or malformed credential input", 101, false, WithErrorType(InputError))
	ErrAuthUnknownUser   = newHermesError("unknown username", 102, false, WithErrorType(InputError))
	ErrAuthBadCredential = newHermesError("credential mismatch", 103, false, WithErrorType(InputError))
	ErrAuthAlreadyOnline = newHermesError("username already logged in", 104, false)

	// Messaging related
	ErrUserNotFound = newHermesError("user not found online", 200, false, WithErrorType(InputError))
	ErrSendFailed   = newHermesError("failed to deliver message", 201, false)

	// Group related
	ErrGroupNotFound      = newHermesError("group not found", 300, false, WithErrorType(InputError))
	ErrGroupAlreadyExists = newHermesError("group already exists", 301, false, WithErrorType(InputError))
	ErrGroupNotMember     = newHermesError("not a member of group", 302, false, WithErrorType(InputError))
	ErrGroupAlreadyMember = newHermesError("already a member of group", 303, false, WithErrorType(InputError))

	// Command related
	ErrCommandUnknown = newHermesError("unknown command", 400, false, WithErrorType(InputError))
	ErrCommandUsage   = newHermesError("bad command arguments", 401, false, WithErrorType(InputError))

	// Credential store related
	ErrCredentialFileInvalid = newHermesError("credential file is malformed", 500, false)

	// Server lifecycle related
	ErrServerClosed = newHermesError("server closed", 600, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to hermesError
	errUnexpected = newHermesError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*hermesError)

func WithDetail(detail string) errorOption {
	return func(err *hermesError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *hermesError) {
		err.errType = etype
	}
}

type hermesError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newHermesError(msg string, code int32, retriable bool, options ...errorOption) hermesError {
	err := hermesError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e hermesError) code() int32 {
	return e.errCode
}

func (e hermesError) Error() string {
	return e.msg
}

func (e hermesError) Detail() string {
	return e.detail
}

func (e hermesError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(hermesError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs: errs,
	}
}
