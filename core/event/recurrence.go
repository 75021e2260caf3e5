package event

import (
	"time"

	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"
)

// defaultMaxOccurrences caps a single expansion when no explicit ceiling is
// configured. A rule with no COUNT/UNTIL is already truncated by the window,
// but a high-frequency rule over a wide window can still blow up.
const defaultMaxOccurrences = 5000

// Expand parses rule and returns the ordered, deduplicated occurrence start
// instants falling within [windowStart, windowEnd], both bounds inclusive.
// anchor is the series' DTSTART; every occurrence keeps its time-of-day.
// Exception dates are NOT applied here; that is Materialize's job.
//
// Expansion is a pure function of (rule, anchor, window): the same inputs
// always yield the same sequence.
func Expand(rule string, anchor, windowStart, windowEnd time.Time, maxOccurrences int) ([]time.Time, error) {
	if rule == "" {
		return nil, nil
	}
	if windowEnd.Before(windowStart) {
		return nil, errors.New("expand: window end is before window start")
	}
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurrences
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, errors.Wrap(err, "parsing recurrence rule")
	}
	r.DTStart(anchor.UTC())

	starts := r.Between(windowStart.UTC(), windowEnd.UTC(), true /* inclusive */)
	if len(starts) > maxOccurrences {
		starts = starts[:maxOccurrences]
	}

	// rrule yields sorted output; drop the rare duplicate defensively so
	// callers can rely on a strictly ascending sequence.
	out := starts[:0]
	var prev time.Time
	for i, s := range starts {
		if i > 0 && s.Equal(prev) {
			continue
		}
		out = append(out, s)
		prev = s
	}
	return out, nil
}

// Materialize combines occurrence starts with the base event's duration and
// exception set, producing one concrete instance per non-excluded occurrence.
// An occurrence whose start exactly matches an exception instant is dropped;
// every produced instance preserves the base event's duration.
func Materialize(base Event, starts []time.Time) []Instance {
	dur := base.Duration()
	instances := make([]Instance, 0, len(starts))
	for _, s := range starts {
		if base.IsException(s) {
			continue
		}
		instances = append(instances, newInstance(base, s, s.Add(dur)))
	}
	return instances
}

// ExpandInstances runs the full expansion pipeline for a base event over a
// window. Standalone events yield nothing; callers query those directly by
// their own start/end dates.
func ExpandInstances(base Event, windowStart, windowEnd time.Time, maxOccurrences int) ([]Instance, error) {
	if !base.IsRecurring || base.RecurrenceRule == "" {
		return nil, nil
	}
	starts, err := Expand(base.RecurrenceRule, base.StartDate, windowStart, windowEnd, maxOccurrences)
	if err != nil {
		return nil, err
	}
	return Materialize(base, starts), nil
}
