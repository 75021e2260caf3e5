package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shulesoft/ratiba/core"
	"github.com/shulesoft/ratiba/core/event"
)

type eventRepository struct {
	db *eventTable
}

var _ event.Repository = (*eventRepository)(nil)

func NewEventRepository(db *DB) *eventRepository {
	return &eventRepository{db: db.event}
}

func (r *eventRepository) query() []event.Event {
	res := make([]event.Event, 0, len(r.db.table))
	for _, evt := range r.db.table {
		res = append(res, clone(*evt))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartDate.Before(res[j].StartDate) })
	return res
}

func (r *eventRepository) CreateEvent(_ context.Context, evt event.Event) (event.Event, error) {
	r.db.Lock()
	defer r.db.Unlock()

	cp := clone(evt)
	r.db.table[evt.ID] = &cp
	return evt, nil
}

func (r *eventRepository) GetEventByID(_ context.Context, id string) (event.Event, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if evt, ok := r.db.table[id]; ok {
		return clone(*evt), nil
	}
	return event.Event{}, event.ErrNotFound
}

func (r *eventRepository) QueryEvents(_ context.Context, filter event.QueryFilter, _ []core.DBOrdering) ([]event.Event, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	res := make([]event.Event, 0)
	for _, evt := range r.query() {
		if !evt.IsRecurring && !filter.From.IsZero() && !filter.To.IsZero() {
			if evt.EndDate.Before(filter.From) || evt.StartDate.After(filter.To) {
				continue
			}
		}
		if filter.CategoryID != "" && evt.CategoryID != filter.CategoryID {
			continue
		}
		if filter.Search != "" && !matchesSearch(evt, filter.Search) {
			continue
		}
		res = append(res, evt)
	}
	return res, nil
}

func (r *eventRepository) QueryEventsByRecurrenceID(_ context.Context, recurrenceID string) ([]event.Event, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	res := make([]event.Event, 0)
	for _, evt := range r.query() {
		if evt.RecurrenceID == recurrenceID {
			res = append(res, evt)
		}
	}
	return res, nil
}

func (r *eventRepository) UpdateEvent(_ context.Context, evt event.Event) (event.Event, error) {
	r.db.Lock()
	defer r.db.Unlock()

	if _, ok := r.db.table[evt.ID]; !ok {
		return event.Event{}, event.ErrNotFound
	}
	cp := clone(evt)
	r.db.table[evt.ID] = &cp
	return evt, nil
}

func (r *eventRepository) UpdateSeries(_ context.Context, recurrenceID string, from *time.Time, changes event.SeriesChanges) error {
	r.db.Lock()
	defer r.db.Unlock()

	now := time.Now().UTC()
	for _, evt := range r.db.table {
		if evt.RecurrenceID != recurrenceID {
			continue
		}
		if from != nil && evt.StartDate.Before(*from) {
			continue
		}
		if changes.Title != nil {
			evt.Title = *changes.Title
		}
		if changes.Description != nil {
			evt.Description = *changes.Description
		}
		if changes.Location != nil {
			evt.Location = *changes.Location
		}
		if changes.CategoryID != nil {
			evt.CategoryID = *changes.CategoryID
		}
		if changes.VisibleToRoles != nil {
			evt.VisibleToRoles = append([]string(nil), changes.VisibleToRoles...)
		}
		if changes.RecurrenceRule != nil {
			evt.RecurrenceRule = *changes.RecurrenceRule
		}
		if changes.ExceptionDates != nil {
			evt.ExceptionDates = append([]time.Time(nil), changes.ExceptionDates...)
		}
		evt.UpdatedAt = now
	}
	return nil
}

func (r *eventRepository) DeleteEvent(_ context.Context, id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, ok := r.db.table[id]; !ok {
		return event.ErrNotFound
	}
	delete(r.db.table, id)
	return nil
}

func (r *eventRepository) DeleteSeries(_ context.Context, recurrenceID string, from *time.Time) error {
	r.db.Lock()
	defer r.db.Unlock()

	for id, evt := range r.db.table {
		if evt.RecurrenceID != recurrenceID {
			continue
		}
		if from != nil && evt.StartDate.Before(*from) {
			continue
		}
		delete(r.db.table, id)
	}
	return nil
}

func matchesSearch(evt event.Event, search string) bool {
	s := strings.ToLower(search)
	return strings.Contains(strings.ToLower(evt.Title), s) ||
		strings.Contains(strings.ToLower(evt.Description), s) ||
		strings.Contains(strings.ToLower(evt.Location), s)
}

func clone(evt event.Event) event.Event {
	evt.VisibleToRoles = append([]string(nil), evt.VisibleToRoles...)
	evt.ExceptionDates = append([]time.Time(nil), evt.ExceptionDates...)
	return evt
}
