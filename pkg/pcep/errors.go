// Copyright (c) 2020 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pcep

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrSessionClosed is returned when using a session that was closed.
var ErrSessionClosed = errors.New("pcep session closed")

// DecodeError is returned for malformed or unsupported wire data.
type DecodeError struct {
	// Object is the name of the element that failed to decode.
	Object string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pcep: failed to decode %s: %s", e.Object, e.Reason)
}

func decodeErrorf(object, format string, args ...interface{}) error {
	return &DecodeError{
		Object: object,
		Reason: fmt.Sprintf(format, args...),
	}
}

// IsDecodeError returns true if err was caused by a DecodeError.
func IsDecodeError(err error) bool {
	var decErr *DecodeError
	return errors.As(err, &decErr)
}
