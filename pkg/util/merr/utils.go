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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case hermesError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := err.(hermesError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// IsInputError 判断给定错误是否由非法输入引起（协议/用法类错误，可恢复）。
func IsInputError(err error) bool {
	cause := errors.Cause(err)
	if specificErr, ok := cause.(hermesError); ok {
		return specificErr.errType == InputError
	}
	return false
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

func wrapFields(err hermesError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

// Session related

func WrapErrSessionNotFound(id uint64, msg ...string) error {
	err := wrapFields(ErrSessionNotFound, value("session", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSessionClosed(id uint64, msg ...string) error {
	err := wrapFields(ErrSessionClosed, value("session", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSessionDuplicate(id uint64, msg ...string) error {
	err := wrapFields(ErrSessionDuplicate, value("session", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSessionStale(username string, msg ...string) error {
	err := wrapFields(ErrSessionStale, value("user", username))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Auth related

func WrapErrAuthTimeout(stage string, msg ...string) error {
	err := wrapFields(ErrAuthTimeout, value("stage", stage))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrAuthBadInput(stage string, msg ...string) error {
	err := wrapFields(ErrAuthBadInput, value("stage", stage))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrAuthUnknownUser(username string, msg ...string) error {
	err := wrapFields(ErrAuthUnknownUser, value("user", username))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrAuthBadCredential(username string, msg ...string) error {
	err := wrapFields(ErrAuthBadCredential, value("user", username))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrAuthAlreadyOnline(username string, msg ...string) error {
	err := wrapFields(ErrAuthAlreadyOnline, value("user", username))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Messaging related

func WrapErrUserNotFound(username string, msg ...string) error {
	err := wrapFields(ErrUserNotFound, value("user", username))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSendFailed(username string, msg ...string) error {
	err := wrapFields(ErrSendFailed, value("user", username))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Group related

func WrapErrGroupNotFound(name string, msg ...string) error {
	err := wrapFields(ErrGroupNotFound, value("group", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrGroupAlreadyExists(name string, msg ...string) error {
	err := wrapFields(ErrGroupAlreadyExists, value("group", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrGroupNotMember(name string, username string, msg ...string) error {
	err := wrapFields(ErrGroupNotMember, value("group", name), value("user", username))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrGroupAlreadyMember(name string, username string, msg ...string) error {
	err := wrapFields(ErrGroupAlreadyMember, value("group", name), value("user", username))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Command related

func WrapErrCommandUnknown(token string, msg ...string) error {
	err := wrapFields(ErrCommandUnknown, value("token", token))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrCommandUsage(command string, usage string, msg ...string) error {
	err := wrapFields(ErrCommandUsage, value("command", command), value("usage", usage))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Credential store related

func WrapErrCredentialFileInvalid(path string, msg ...string) error {
	err := wrapFields(ErrCredentialFileInvalid, value("path", path))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}
