package event

import (
	"testing"
	"time"
)

var (
	// Monday 2025-01-06 09:00 UTC
	anchor      = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	windowStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	weeklyRule = "FREQ=WEEKLY;BYDAY=MO;COUNT=4"
)

func mondays(weeks ...int) []time.Time {
	out := make([]time.Time, 0, len(weeks))
	for _, w := range weeks {
		out = append(out, anchor.AddDate(0, 0, 7*w))
	}
	return out
}

func assertTimesEqual(t *testing.T, got, want []time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name        string
		rule        string
		windowStart time.Time
		windowEnd   time.Time
		want        []time.Time
		wantErr     bool
	}{
		{
			name:        "weekly count 4",
			rule:        weeklyRule,
			windowStart: windowStart,
			windowEnd:   windowEnd,
			want:        mondays(0, 1, 2, 3),
		},
		{
			name:        "window start is inclusive",
			rule:        weeklyRule,
			windowStart: mondays(1)[0],
			windowEnd:   windowEnd,
			want:        mondays(1, 2, 3),
		},
		{
			name:        "window end is inclusive",
			rule:        weeklyRule,
			windowStart: windowStart,
			windowEnd:   mondays(2)[0],
			want:        mondays(0, 1, 2),
		},
		{
			name:        "one second before an occurrence excludes it",
			rule:        weeklyRule,
			windowStart: windowStart,
			windowEnd:   mondays(3)[0].Add(-time.Second),
			want:        mondays(0, 1, 2),
		},
		{
			name:        "window entirely after last occurrence",
			rule:        weeklyRule,
			windowStart: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
			windowEnd:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			want:        nil,
		},
		{
			name:        "window entirely before series start",
			rule:        weeklyRule,
			windowStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			windowEnd:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			want:        nil,
		},
		{
			name: "empty rule yields nothing",
			rule: "", windowStart: windowStart, windowEnd: windowEnd,
			want: nil,
		},
		{
			name: "malformed rule fails",
			rule: "FREQ=FOO", windowStart: windowStart, windowEnd: windowEnd,
			wantErr: true,
		},
		{
			name: "inverted window fails",
			rule: weeklyRule, windowStart: windowEnd, windowEnd: windowStart,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.rule, anchor, tt.windowStart, tt.windowEnd, 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			assertTimesEqual(t, got, tt.want)
		})
	}
}

func TestExpand_deterministic(t *testing.T) {
	first, err := Expand("FREQ=DAILY;INTERVAL=3", anchor, windowStart, windowEnd, 0)
	if err != nil {
		t.Fatalf("Expand() failed: %v", err)
	}
	second, err := Expand("FREQ=DAILY;INTERVAL=3", anchor, windowStart, windowEnd, 0)
	if err != nil {
		t.Fatalf("Expand() failed: %v", err)
	}
	assertTimesEqual(t, second, first)

	// strictly ascending, no duplicates
	for i := 1; i < len(first); i++ {
		if !first[i-1].Before(first[i]) {
			t.Errorf("occurrences out of order at %d: %v >= %v", i, first[i-1], first[i])
		}
	}
}

func TestExpand_occurrenceCap(t *testing.T) {
	got, err := Expand("FREQ=DAILY", anchor, anchor, anchor.AddDate(1, 0, 0), 10)
	if err != nil {
		t.Fatalf("Expand() failed: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("got %d occurrences, want cap of 10", len(got))
	}
}

func TestMaterialize(t *testing.T) {
	base := Event{
		ID:             "base",
		Title:          "Staff meeting",
		StartDate:      anchor,
		EndDate:        anchor.Add(time.Hour),
		IsRecurring:    true,
		RecurrenceRule: weeklyRule,
		RecurrenceID:   "base",
	}
	starts := mondays(0, 1, 2, 3)

	t.Run("duration preservation", func(t *testing.T) {
		instances := Materialize(base, starts)
		if len(instances) != 4 {
			t.Fatalf("got %d instances, want 4", len(instances))
		}
		for i, inst := range instances {
			if d := inst.EndDate.Sub(inst.StartDate); d != base.Duration() {
				t.Errorf("instance[%d] duration = %v, want %v", i, d, base.Duration())
			}
			if !inst.StartDate.Equal(starts[i]) {
				t.Errorf("instance[%d] start = %v, want %v", i, inst.StartDate, starts[i])
			}
			if inst.EventID != base.ID || inst.Title != base.Title {
				t.Errorf("instance[%d] does not carry the base payload: %+v", i, inst)
			}
		}
	})

	t.Run("exception exclusion", func(t *testing.T) {
		excluded := base
		excluded.ExceptionDates = []time.Time{mondays(1)[0]} // 2025-01-13T09:00Z

		instances := Materialize(excluded, starts)
		if len(instances) != 3 {
			t.Fatalf("got %d instances, want 3", len(instances))
		}
		for _, inst := range instances {
			if inst.StartDate.Equal(mondays(1)[0]) {
				t.Errorf("excluded occurrence %v still present", inst.StartDate)
			}
		}
	})

	t.Run("exceptions compare by instant, not day", func(t *testing.T) {
		excluded := base
		excluded.ExceptionDates = []time.Time{mondays(1)[0].Add(time.Hour)} // same day, 10:00

		instances := Materialize(excluded, starts)
		if len(instances) != 4 {
			t.Errorf("got %d instances, want 4 (exception at wrong time-of-day must not match)", len(instances))
		}
	})

	t.Run("zero occurrences yields empty, not error", func(t *testing.T) {
		if instances := Materialize(base, nil); len(instances) != 0 {
			t.Errorf("got %d instances, want 0", len(instances))
		}
	})
}

func TestExpandInstances_nonRecurringNoOp(t *testing.T) {
	standalone := Event{
		ID:        "solo",
		StartDate: anchor,
		EndDate:   anchor.Add(time.Hour),
	}
	instances, err := ExpandInstances(standalone, windowStart, windowEnd, 0)
	if err != nil {
		t.Fatalf("ExpandInstances() failed: %v", err)
	}
	if len(instances) != 0 {
		t.Errorf("got %d instances for a standalone event, want 0", len(instances))
	}
}

func TestSeriesBase(t *testing.T) {
	rows := []Event{
		{ID: "b", RecurrenceID: "a", StartDate: anchor.AddDate(0, 0, 7)},
		{ID: "a", RecurrenceID: "a", StartDate: anchor},
		{ID: "c", RecurrenceID: "a", StartDate: anchor.AddDate(0, 0, 14)},
	}
	if got := seriesBase("a", rows); got.ID != "a" {
		t.Errorf("seriesBase() = %q, want the row whose ID matches the series id", got.ID)
	}

	// base deleted under future scope: fall back to earliest start
	if got := seriesBase("a", rows[:1]); got.ID != "b" {
		t.Errorf("seriesBase() fallback = %q, want earliest row", got.ID)
	}
	orphans := []Event{rows[0], rows[2]}
	if got := seriesBase("a", orphans); got.ID != "b" {
		t.Errorf("seriesBase() fallback = %q, want earliest row", got.ID)
	}
}
