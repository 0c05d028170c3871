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
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-options/common"
)

// CalendarEvent is one scheduled macro release (FOMC decision, CPI print,
// NFP, ...).
type CalendarEvent struct {
	Date      time.Time `json:"-"`
	EventType string    `json:"event_type"`
	Impact    string    `json:"impact"`
	Name      string    `json:"name"`
	DateStr   string    `json:"event_date"`
}

// EconomicCalendar is a static list of macro events loaded from
// economic_calendar.json in the data directory.
type EconomicCalendar struct {
	Events []CalendarEvent
}

type calendarFilePayload struct {
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Events    []CalendarEvent `json:"events"`
}

// LoadEconomicCalendar reads the calendar file from the store's data
// directory. A missing file yields an empty calendar; blackout checks then
// always report clear days.
func LoadEconomicCalendar(store *Store) (*EconomicCalendar, error) {
	path := store.CalendarPath()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info().Str("Path", path).Msg("no economic calendar file; blackout checks disabled")
		return &EconomicCalendar{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCalendarNotLoaded, err)
	}

	var payload calendarFilePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCalendarNotLoaded, err)
	}

	calendar := &EconomicCalendar{Events: make([]CalendarEvent, 0, len(payload.Events))}
	for _, event := range payload.Events {
		date, err := common.ParseDate(event.DateStr)
		if err != nil {
			log.Warn().Str("Date", event.DateStr).Str("Event", event.Name).Msg("skipping calendar event with bad date")
			continue
		}
		event.Date = date
		event.EventType = strings.ToUpper(event.EventType)
		calendar.Events = append(calendar.Events, event)
	}
	return calendar, nil
}

// SetCalendar attaches an economic calendar for blackout checks.
func (p *Provider) SetCalendar(calendar *EconomicCalendar) {
	p.calendar = calendar
	p.blackoutKey = ""
	p.blackoutDays = nil
}

// MacroBlackout reports whether date falls within blackoutDays calendar
// days before (and including) any event of the given types, along with the
// triggering events. The per-day blackout map is precomputed once per
// (blackoutDays, eventTypes) pair and reused across the simulation.
func (p *Provider) MacroBlackout(date time.Time, blackoutDays int, eventTypes []string) (bool, []CalendarEvent) {
	if p.calendar == nil || len(p.calendar.Events) == 0 || blackoutDays <= 0 {
		return false, nil
	}

	types := append([]string(nil), eventTypes...)
	common.ArrToUpper(types)
	sort.Strings(types)
	key := fmt.Sprintf("%d|%s", blackoutDays, strings.Join(types, ","))
	if key != p.blackoutKey {
		p.blackoutKey = key
		p.blackoutDays = buildBlackoutMap(p.calendar.Events, blackoutDays, eventTypes)
	}

	events := p.blackoutDays[common.Midnight(date)]
	return len(events) > 0, events
}

func buildBlackoutMap(events []CalendarEvent, blackoutDays int, eventTypes []string) map[time.Time][]CalendarEvent {
	wanted := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		wanted[strings.ToUpper(t)] = true
	}

	blackout := make(map[time.Time][]CalendarEvent)
	for _, event := range events {
		if len(wanted) > 0 && !wanted[event.EventType] {
			continue
		}
		for offset := 0; offset < blackoutDays; offset++ {
			day := event.Date.AddDate(0, 0, -offset)
			blackout[day] = append(blackout[day], event)
		}
	}
	return blackout
}
