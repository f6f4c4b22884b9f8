// SPDX-License-Identifier: MIT

package store

import "errors"

var (
	// ErrNotFound indicates the requested feed or download row does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrIllegalTransition indicates the requested status change is not
	// permitted from the row's current status.
	ErrIllegalTransition = errors.New("illegal status transition")
)
