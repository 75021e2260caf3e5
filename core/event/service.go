package event

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shulesoft/ratiba/core"
)

var (
	// errors
	ErrNotFound     = errors.New("event not found")
	ErrInvalidScope = errors.New("invalid edit scope")
)

type (
	Repository interface {
		CreateEvent(ctx context.Context, evt Event) (Event, error)
		GetEventByID(ctx context.Context, id string) (Event, error)
		// QueryEvents returns standalone rows intersecting the filter window
		// plus every row belonging to a recurring series; series expansion
		// happens above the store.
		QueryEvents(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Event, error)
		QueryEventsByRecurrenceID(ctx context.Context, recurrenceID string) ([]Event, error)
		UpdateEvent(ctx context.Context, evt Event) (Event, error)
		// UpdateSeries bulk-updates all rows sharing recurrenceID in a single
		// call; when from is non-nil only rows with StartDate >= *from are
		// touched. Nil fields of changes are left as-is.
		UpdateSeries(ctx context.Context, recurrenceID string, from *time.Time, changes SeriesChanges) error
		DeleteEvent(ctx context.Context, id string) error
		// DeleteSeries mirrors UpdateSeries' row targeting.
		DeleteSeries(ctx context.Context, recurrenceID string, from *time.Time) error
	}

	// ReminderScheduler is notified whenever a recurring event's start moves
	// via a single-scope update, so dependent reminders can be resynchronized.
	// The engine does not compute or store reminder offsets itself.
	ReminderScheduler interface {
		NotifyReschedule(ctx context.Context, eventID string, oldStart, newStart time.Time) error
	}

	Service struct {
		repo      Repository
		reminders ReminderScheduler
		mailSvc   core.EmailService
		logger    core.Logger
		conf      *core.Config
	}
)

func NewService(repo Repository, reminders ReminderScheduler, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		repo:      repo,
		reminders: reminders,
		mailSvc:   mailSvc,
		logger:    logger,
		conf:      conf,
	}
}

// Create persists a new event. Recurring events get their RecurrenceID minted
// as the new row's own ID, which makes the base row of the series explicit:
// the row with ID == RecurrenceID is always authoritative for expansion.
func (svc *Service) Create(ctx context.Context, ne NewEvent) (Event, error) {
	now := time.Now().UTC()
	evt := Event{
		ID:             uuid.New().String(),
		Title:          ne.Title,
		Description:    ne.Description,
		Location:       ne.Location,
		CategoryID:     ne.CategoryID,
		VisibleToRoles: ne.VisibleToRoles,
		StartDate:      ne.StartDate.UTC(),
		EndDate:        ne.EndDate.UTC(),
		IsRecurring:    ne.IsRecurring,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ne.IsRecurring {
		evt.RecurrenceRule = ne.RecurrenceRule
		evt.RecurrenceID = evt.ID
		evt.ExceptionDates = utcAll(ne.ExceptionDates)
	}
	return svc.repo.CreateEvent(ctx, evt)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Event, error) {
	return svc.repo.GetEventByID(ctx, id)
}

// QueryWindow materializes the calendar view for a window: standalone rows
// are returned as-is, recurring series are expanded on demand from their base
// row. Persisted sibling rows of a series act as overrides: a generated
// occurrence whose start matches a persisted row is replaced by that row.
func (svc *Service) QueryWindow(ctx context.Context, filter QueryFilter) ([]Instance, error) {
	filter.Clean()
	if filter.From.IsZero() {
		filter.From = time.Now().UTC()
	}
	if filter.To.IsZero() {
		filter.To = filter.From.Add(svc.conf.Calendar.DefaultWindow)
	}
	filter.From, filter.To = filter.From.UTC(), filter.To.UTC()

	events, err := svc.repo.QueryEvents(ctx, filter, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying events")
	}

	instances := make([]Instance, 0, len(events))
	series := make(map[string][]Event)

	for _, evt := range events {
		if !evt.IsRecurring {
			instances = append(instances, newInstance(evt, evt.StartDate, evt.EndDate))
			continue
		}
		series[evt.RecurrenceID] = append(series[evt.RecurrenceID], evt)
	}

	for rid, rows := range series {
		instances = append(instances, svc.expandSeries(rid, rows, filter.From, filter.To)...)
	}

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].StartDate.Equal(instances[j].StartDate) {
			return instances[i].EventID < instances[j].EventID
		}
		return instances[i].StartDate.Before(instances[j].StartDate)
	})
	return instances, nil
}

// expandSeries expands one series' base row over the window and overlays the
// persisted sibling rows. A defensively-handled parse failure (unreachable
// given creation-time validation) degrades to no generated occurrences rather
// than failing the whole calendar read.
func (svc *Service) expandSeries(recurrenceID string, rows []Event, from, to time.Time) []Instance {
	base := seriesBase(recurrenceID, rows)

	// keyed by UnixNano: map equality on time.Time is too strict across
	// locations coming back from different stores
	persistedByStart := make(map[int64]Event, len(rows))
	for _, row := range rows {
		persistedByStart[row.StartDate.UnixNano()] = row
	}

	generated, err := ExpandInstances(base, from, to, svc.conf.Calendar.MaxOccurrences)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("expanding series %s: %v", recurrenceID, err), err)
		generated = nil
	}

	out := make([]Instance, 0, len(generated))
	for _, inst := range generated {
		if row, ok := persistedByStart[inst.StartDate.UnixNano()]; ok {
			// a persisted row owns this slot; use its payload and times
			out = append(out, newInstance(row, row.StartDate, row.EndDate))
			delete(persistedByStart, inst.StartDate.UnixNano())
			continue
		}
		out = append(out, inst)
	}

	// sibling rows whose start no longer matches a generated occurrence
	// (e.g. moved via a single-scope edit) are real rows; keep them when they
	// intersect the window
	for _, row := range persistedByStart {
		if row.EndDate.Before(from) || row.StartDate.After(to) {
			continue
		}
		out = append(out, newInstance(row, row.StartDate, row.EndDate))
	}
	return out
}

// Update applies a scoped update to an event.
// single: only the targeted row; start/end moves are allowed and trigger a
// reminder resync for recurring events.
// future/all: series-wide fields propagate to the targeted rows; times don't.
func (svc *Service) Update(ctx context.Context, id, scope string, ue UpdateEvent) (Event, error) {
	if scope == "" {
		scope = ScopeSingle
	}
	if !ValidScope(scope) {
		return Event{}, core.NewValidationError(ErrInvalidScope,
			core.FieldError{Field: "scope", Error: ErrInvalidScope.Error()})
	}

	orig, err := svc.repo.GetEventByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Event{}, core.NewValidationError(ErrNotFound)
		}
		return Event{}, errors.Wrap(err, "getting event")
	}

	if !orig.IsRecurring || scope == ScopeSingle {
		return svc.updateSingle(ctx, orig, ue)
	}

	changes := ue.seriesChanges()
	var from *time.Time
	if scope == ScopeFuture {
		from = &orig.StartDate
	}
	if err = svc.repo.UpdateSeries(ctx, orig.RecurrenceID, from, changes); err != nil {
		return Event{}, errors.Wrap(err, "updating series")
	}
	svc.notifySeriesChanged(orig, scope)

	return svc.repo.GetEventByID(ctx, id)
}

func (svc *Service) updateSingle(ctx context.Context, orig Event, ue UpdateEvent) (Event, error) {
	evt := orig
	evt.Title = ue.Title
	if ue.Description != nil {
		evt.Description = *ue.Description
	}
	if ue.Location != nil {
		evt.Location = *ue.Location
	}
	if ue.CategoryID != nil {
		evt.CategoryID = *ue.CategoryID
	}
	if ue.VisibleToRoles != nil {
		evt.VisibleToRoles = ue.VisibleToRoles
	}
	if ue.RecurrenceRule != nil {
		evt.RecurrenceRule = *ue.RecurrenceRule
	}
	if ue.ExceptionDates != nil {
		evt.ExceptionDates = utcAll(ue.ExceptionDates)
	}
	evt.StartDate = ue.StartDate.UTC()
	evt.EndDate = ue.EndDate.UTC()
	evt.UpdatedAt = time.Now().UTC()

	updated, err := svc.repo.UpdateEvent(ctx, evt)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Event{}, core.NewValidationError(ErrNotFound)
		}
		return Event{}, errors.Wrap(err, "updating event")
	}

	if orig.IsRecurring && !updated.StartDate.Equal(orig.StartDate) {
		if err = svc.reminders.NotifyReschedule(ctx, updated.ID, orig.StartDate, updated.StartDate); err != nil {
			// reminders are best effort; the row is already committed
			svc.logger.Error(fmt.Sprintf("notifying reminder reschedule for %s: %v", updated.ID, err), err)
		}
	}
	return updated, nil
}

// Delete applies a scoped delete. Semantics mirror Update per scope.
func (svc *Service) Delete(ctx context.Context, id, scope string) error {
	if scope == "" {
		scope = ScopeSingle
	}
	if !ValidScope(scope) {
		return core.NewValidationError(ErrInvalidScope,
			core.FieldError{Field: "scope", Error: ErrInvalidScope.Error()})
	}

	orig, err := svc.repo.GetEventByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewValidationError(ErrNotFound)
		}
		return errors.Wrap(err, "getting event")
	}

	if !orig.IsRecurring || scope == ScopeSingle {
		return svc.repo.DeleteEvent(ctx, id)
	}

	var from *time.Time
	if scope == ScopeFuture {
		from = &orig.StartDate
	}
	if err = svc.repo.DeleteSeries(ctx, orig.RecurrenceID, from); err != nil {
		return errors.Wrap(err, "deleting series")
	}
	return nil
}

// notifySeriesChanged emails the change notification for bulk edits.
// Fire-and-forget; the email service handles concurrency and failures.
func (svc *Service) notifySeriesChanged(base Event, scope string) {
	if svc.mailSvc == nil || len(base.VisibleToRoles) == 0 {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{svc.conf.DefaultFromEmail()},
		Subject:      "Series updated: " + base.Title,
		TemplateName: "series-updated",
		TemplateData: struct {
			Title string
			Scope string
		}{base.Title, scope},
	})
}

// seriesBase picks the authoritative row of a series: the row whose ID equals
// the RecurrenceID, falling back to the earliest start when the base row was
// deleted under future scope.
func seriesBase(recurrenceID string, rows []Event) Event {
	var earliest Event
	for i, row := range rows {
		if row.ID == recurrenceID {
			return row
		}
		if i == 0 || row.StartDate.Before(earliest.StartDate) {
			earliest = row
		}
	}
	return earliest
}

func utcAll(ts []time.Time) []time.Time {
	if ts == nil {
		return nil
	}
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.UTC()
	}
	return out
}
