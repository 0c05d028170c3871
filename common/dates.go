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

package common

import "time"

// Midnight truncates t to midnight UTC. All dates flowing through the
// simulation and the parquet store are normalized this way so that two
// values for the same calendar day always compare equal.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO-8601 date (YYYY-MM-DD) at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, err
	}
	return Midnight(t), nil
}

// DateEqual compares two times by calendar day only.
func DateEqual(a, b time.Time) bool {
	return Midnight(a).Equal(Midnight(b))
}

// DaysBetween returns the number of whole calendar days from a to b.
// Negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(Midnight(b).Sub(Midnight(a)).Hours() / 24)
}

// IsWeekend returns true on Saturday and Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// WeekdaysIn counts weekdays in the inclusive range [begin, end].
func WeekdaysIn(begin, end time.Time) int {
	count := 0
	for d := Midnight(begin); !d.After(Midnight(end)); d = d.AddDate(0, 0, 1) {
		if !IsWeekend(d) {
			count++
		}
	}
	return count
}

// MinTime returns the earlier of two times.
func MinTime(a, b time.Time) time.Time {
	if a.After(b) {
		return b
	}
	return a
}

// MaxTime returns the later of two times.
func MaxTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
