// Copyright 2022-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTimeRange  = errors.New("invalid time range")
	ErrUnknownDataType   = errors.New("unknown data type")
	ErrInsufficientData  = errors.New("insufficient data for calculation")
	ErrNoTradingDays     = errors.New("no trading days in range")
	ErrLedgerNotFound    = errors.New("no progress ledger entry")
	ErrCalendarNotLoaded = errors.New("economic calendar not loaded")
)

// VendorErrorKind classifies vendor failures for retry policy. Transient
// failures (rate limits, timeouts, 5xx) may be retried by the downloader;
// permanent failures (bad input, 4xx) may not.
type VendorErrorKind int

const (
	VendorErrTransient VendorErrorKind = iota
	VendorErrPermanent
)

type VendorError struct {
	Kind       VendorErrorKind
	StatusCode int
	Err        error
}

func (e *VendorError) Error() string {
	kind := "permanent"
	if e.Kind == VendorErrTransient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("vendor error (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vendor error (%s): %v", kind, e.Err)
}

func (e *VendorError) Unwrap() error { return e.Err }

// TransientVendorError wraps err as retriable.
func TransientVendorError(err error) *VendorError {
	return &VendorError{Kind: VendorErrTransient, Err: err}
}

// PermanentVendorError wraps err as non-retriable.
func PermanentVendorError(err error) *VendorError {
	return &VendorError{Kind: VendorErrPermanent, Err: err}
}

// VendorErrorFromStatus classifies an HTTP response status. Rate limits and
// server errors are transient; everything else in the 4xx range is permanent.
func VendorErrorFromStatus(status int, err error) *VendorError {
	kind := VendorErrPermanent
	if status == 429 || status >= 500 {
		kind = VendorErrTransient
	}
	return &VendorError{Kind: kind, StatusCode: status, Err: err}
}

// IsTransient reports whether err is a retriable vendor error.
func IsTransient(err error) bool {
	var verr *VendorError
	if errors.As(err, &verr) {
		return verr.Kind == VendorErrTransient
	}
	return false
}
