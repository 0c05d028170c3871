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
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/penny-vault/pv-options/common"
)

// TaskStatus is the lifecycle state of one (dataType, symbol) download task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// ProgressEntry records durable per-task download progress. Dates are
// serialized ISO-8601.
type ProgressEntry struct {
	StartDate         time.Time  `json:"-"`
	EndDate           time.Time  `json:"-"`
	LastCompletedDate *time.Time `json:"-"`
	TotalRecords      int        `json:"total_records"`
	Status            TaskStatus `json:"status"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

type progressEntryJSON struct {
	StartDate         string     `json:"start_date"`
	EndDate           string     `json:"end_date"`
	LastCompletedDate string     `json:"last_completed_date,omitempty"`
	TotalRecords      int        `json:"total_records"`
	Status            TaskStatus `json:"status"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

func (e ProgressEntry) MarshalJSON() ([]byte, error) {
	out := progressEntryJSON{
		StartDate:    e.StartDate.Format(common.DateFormat),
		EndDate:      e.EndDate.Format(common.DateFormat),
		TotalRecords: e.TotalRecords,
		Status:       e.Status,
		ErrorMessage: e.ErrorMessage,
	}
	if e.LastCompletedDate != nil {
		out.LastCompletedDate = e.LastCompletedDate.Format(common.DateFormat)
	}
	return json.Marshal(out)
}

func (e *ProgressEntry) UnmarshalJSON(raw []byte) error {
	var in progressEntryJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}

	start, err := common.ParseDate(in.StartDate)
	if err != nil {
		return fmt.Errorf("progress entry start_date: %w", err)
	}
	end, err := common.ParseDate(in.EndDate)
	if err != nil {
		return fmt.Errorf("progress entry end_date: %w", err)
	}

	e.StartDate = start
	e.EndDate = end
	e.TotalRecords = in.TotalRecords
	e.Status = in.Status
	e.ErrorMessage = in.ErrorMessage
	e.LastCompletedDate = nil
	if in.LastCompletedDate != "" {
		last, err := common.ParseDate(in.LastCompletedDate)
		if err != nil {
			return fmt.Errorf("progress entry last_completed_date: %w", err)
		}
		e.LastCompletedDate = &last
	}
	return nil
}

// ProgressLedger is the durable download ledger persisted as a single JSON
// document under the store root. One downloader worker mutates it at a time.
type ProgressLedger struct {
	path    string
	locker  sync.Mutex
	entries map[string]*ProgressEntry
}

func progressKey(dataType DataType, symbol string) string {
	return fmt.Sprintf("%s:%s", dataType, symbol)
}

// LoadProgressLedger reads the ledger JSON, starting empty when the file
// does not exist yet.
func LoadProgressLedger(path string) (*ProgressLedger, error) {
	ledger := &ProgressLedger{
		path:    path,
		entries: make(map[string]*ProgressEntry),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ledger, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &ledger.entries); err != nil {
		return nil, fmt.Errorf("parsing progress ledger %s: %w", path, err)
	}
	return ledger, nil
}

// Entry returns a copy of the ledger entry for (dataType, symbol).
func (ledger *ProgressLedger) Entry(dataType DataType, symbol string) (ProgressEntry, bool) {
	ledger.locker.Lock()
	defer ledger.locker.Unlock()

	entry, ok := ledger.entries[progressKey(dataType, symbol)]
	if !ok {
		return ProgressEntry{}, false
	}
	return *entry, true
}

// Begin marks a task in-progress over [start, end]. An existing completed
// range is widened rather than fragmented: the new entry covers the union
// and keeps the prior completion watermark.
func (ledger *ProgressLedger) Begin(dataType DataType, symbol string, start, end time.Time) error {
	ledger.locker.Lock()
	defer ledger.locker.Unlock()

	key := progressKey(dataType, symbol)
	entry, ok := ledger.entries[key]
	if !ok {
		entry = &ProgressEntry{StartDate: start, EndDate: end}
		ledger.entries[key] = entry
	} else {
		entry.StartDate = common.MinTime(entry.StartDate, start)
		entry.EndDate = common.MaxTime(entry.EndDate, end)
	}
	entry.Status = StatusInProgress
	entry.ErrorMessage = ""
	return ledger.persistLocked()
}

// Advance records a completed chunk ending at date with added rows, then
// persists the ledger before the next chunk begins.
func (ledger *ProgressLedger) Advance(dataType DataType, symbol string, date time.Time, records int) error {
	ledger.locker.Lock()
	defer ledger.locker.Unlock()

	key := progressKey(dataType, symbol)
	entry, ok := ledger.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLedgerNotFound, key)
	}

	day := common.Midnight(date)
	entry.LastCompletedDate = &day
	entry.TotalRecords += records
	return ledger.persistLocked()
}

// Complete marks the task finished. The covered range is recorded as a
// single contiguous interval.
func (ledger *ProgressLedger) Complete(dataType DataType, symbol string) error {
	ledger.locker.Lock()
	defer ledger.locker.Unlock()

	key := progressKey(dataType, symbol)
	entry, ok := ledger.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLedgerNotFound, key)
	}

	entry.Status = StatusCompleted
	entry.LastCompletedDate = nil
	entry.ErrorMessage = ""
	return ledger.persistLocked()
}

// Fail marks the task failed with a reason; the completion watermark is
// preserved so a later run can resume.
func (ledger *ProgressLedger) Fail(dataType DataType, symbol string, cause error) error {
	ledger.locker.Lock()
	defer ledger.locker.Unlock()

	key := progressKey(dataType, symbol)
	entry, ok := ledger.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLedgerNotFound, key)
	}

	entry.Status = StatusFailed
	entry.ErrorMessage = cause.Error()
	return ledger.persistLocked()
}

// persistLocked writes the ledger with write-temp, fsync, rename. Callers
// hold the lock.
func (ledger *ProgressLedger) persistLocked() error {
	raw, err := json.MarshalIndent(ledger.entries, "", "  ")
	if err != nil {
		return err
	}

	tmp := ledger.path + ".tmp"
	fh, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := fh.Write(raw); err != nil {
		fh.Close()
		os.Remove(tmp)
		return err
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		os.Remove(tmp)
		return err
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, ledger.path)
}
