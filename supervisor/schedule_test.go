// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"testing"
	"time"
)

func TestParseScheduleNamed(t *testing.T) {
	for _, s := range []string{"@hourly", "@daily"} {
		if _, err := ParseSchedule(s); err != nil {
			t.Errorf("ParseSchedule(%q): %v", s, err)
		}
	}
}

func TestParseScheduleWindow(t *testing.T) {
	sch, err := ParseSchedule("22:00-02:00")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if sch.kind != kindWindow || sch.start != 22*60 || sch.stop != 2*60 {
		t.Fatalf("parsed = %+v", sch)
	}
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "whenever", "25:00-02:00", "10:00"} {
		if _, err := ParseSchedule(s); err == nil {
			t.Errorf("ParseSchedule(%q) = nil error, want one", s)
		}
	}
}

func TestScheduleInWindowWraparound(t *testing.T) {
	sch, err := ParseSchedule("22:00-02:00")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	loc := time.UTC
	cases := map[string]bool{
		"2026-01-01T23:00:00Z": true,  // inside, before midnight
		"2026-01-02T01:00:00Z": true,  // inside, after midnight
		"2026-01-02T12:00:00Z": false, // outside
		"2026-01-01T22:00:00Z": true,  // start boundary inclusive
		"2026-01-01T02:00:00Z": false, // stop boundary exclusive
	}
	for raw, want := range cases {
		tm, err := time.ParseInLocation(time.RFC3339, raw, loc)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if got := sch.InWindow(tm); got != want {
			t.Errorf("InWindow(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestScheduleInWindowNonWrapping(t *testing.T) {
	sch, err := ParseSchedule("09:00-17:00")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	in, _ := time.Parse("15:04", "12:00")
	out, _ := time.Parse("15:04", "20:00")
	if !sch.InWindow(in) {
		t.Errorf("InWindow(12:00) = false, want true")
	}
	if sch.InWindow(out) {
		t.Errorf("InWindow(20:00) = true, want false")
	}
}

func TestScheduleHourlyNextIsStrictlyAfter(t *testing.T) {
	sch, _ := ParseSchedule("@hourly")
	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	next := sch.Next(now)
	if !next.After(now) {
		t.Fatalf("Next(%v) = %v, want strictly after", now, next)
	}
	if next.Minute() != 0 || next.Hour() != 11 {
		t.Errorf("Next(%v) = %v, want 11:00", now, next)
	}
}

func TestScheduleDailyNextIsNextMidnight(t *testing.T) {
	sch, _ := ParseSchedule("@daily")
	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	next := sch.Next(now)
	want := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", now, next, want)
	}
}

func TestScheduleWindowNextBeforeStart(t *testing.T) {
	sch, _ := ParseSchedule("09:00-17:00")
	now := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if got := sch.Next(now); !got.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", now, got, want)
	}
}

func TestScheduleWindowNextDuringWindow(t *testing.T) {
	sch, _ := ParseSchedule("09:00-17:00")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := sch.Next(now); !got.Equal(now) {
		t.Errorf("Next(%v) = %v, want the same instant (already due)", now, got)
	}
}

func TestScheduleWindowNextAfterStopRollsToTomorrow(t *testing.T) {
	sch, _ := ParseSchedule("09:00-17:00")
	now := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if got := sch.Next(now); !got.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", now, got, want)
	}
}

func TestNextDuePicksEarliest(t *testing.T) {
	daily, _ := ParseSchedule("@daily")
	hourly, _ := ParseSchedule("@hourly")
	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	due, ok := NextDue([]Schedule{daily, hourly}, now)
	if !ok {
		t.Fatal("NextDue reported no due schedule")
	}
	if due.Hour() != 11 {
		t.Errorf("NextDue = %v, want the hourly schedule's 11:00", due)
	}
}

func TestNextDueEmptyListNeverDue(t *testing.T) {
	if _, ok := NextDue(nil, time.Now()); ok {
		t.Error("NextDue(nil) reported a due instant")
	}
}
