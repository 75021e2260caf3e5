package event

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/shulesoft/ratiba/core"
)

// Edit/delete scopes for recurring series.
const (
	ScopeSingle = "single" // only the targeted row
	ScopeFuture = "future" // the targeted row and all later rows in the series
	ScopeAll    = "all"    // every row in the series
)

var Scopes = []string{ScopeSingle, ScopeFuture, ScopeAll}

func ValidScope(scope string) bool {
	for _, s := range Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Event is one persisted calendar row. Rows sharing a RecurrenceID form one
// logical series; the row whose ID equals the RecurrenceID is the base row,
// whose rule, duration and exception set govern expansion.
type Event struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Location       string      `json:"location"`
	CategoryID     string      `json:"category_id"`
	VisibleToRoles []string    `json:"visible_to_roles"`
	StartDate      time.Time   `json:"start_date"` // UTC
	EndDate        time.Time   `json:"end_date"`   // UTC
	IsRecurring    bool        `json:"is_recurring"`
	RecurrenceRule string      `json:"recurrence_rule,omitempty"`
	RecurrenceID   string      `json:"recurrence_id,omitempty"`
	ExceptionDates []time.Time `json:"exception_dates,omitempty"`
	CreatedAt      time.Time   `json:"created_at"` // UTC
	UpdatedAt      time.Time   `json:"updated_at"` // UTC
}

// Duration is the canonical instance length, applied uniformly to every
// expanded occurrence. The rule only encodes start-time cadence.
func (e *Event) Duration() time.Duration {
	return e.EndDate.Sub(e.StartDate)
}

// IsBase reports whether this row is the authoritative row of its series.
func (e *Event) IsBase() bool {
	return e.IsRecurring && e.ID == e.RecurrenceID
}

// IsException reports whether t exactly matches one of the event's exception
// instants. Comparison is by instant, not by calendar day.
func (e *Event) IsException(t time.Time) bool {
	for _, ex := range e.ExceptionDates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}

// Instance is a concrete (start, end) occurrence of an event, either a
// persisted row or one generated by expanding a series' recurrence rule.
type Instance struct {
	EventID        string    `json:"event_id"`
	RecurrenceID   string    `json:"recurrence_id,omitempty"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	CategoryID     string    `json:"category_id"`
	VisibleToRoles []string  `json:"visible_to_roles"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	IsRecurring    bool      `json:"is_recurring"`
}

func newInstance(e Event, start, end time.Time) Instance {
	return Instance{
		EventID:        e.ID,
		RecurrenceID:   e.RecurrenceID,
		Title:          e.Title,
		Description:    e.Description,
		Location:       e.Location,
		CategoryID:     e.CategoryID,
		VisibleToRoles: e.VisibleToRoles,
		StartDate:      start,
		EndDate:        end,
		IsRecurring:    e.IsRecurring,
	}
}

var (
	errEndBeforeStart = errors.New("end_date must not be before start_date")
	errRuleNotAllowed = errors.New("recurrence_rule is only allowed on recurring events")
)

// NewEvent contains information needed to create a new Event.
type NewEvent struct {
	Title          string      `json:"title" validate:"required"`
	Description    string      `json:"description"`
	Location       string      `json:"location"`
	CategoryID     string      `json:"category_id"`
	VisibleToRoles []string    `json:"visible_to_roles"`
	StartDate      time.Time   `json:"start_date" validate:"required"`
	EndDate        time.Time   `json:"end_date" validate:"required"`
	IsRecurring    bool        `json:"is_recurring"`
	RecurrenceRule string      `json:"recurrence_rule" validate:"required_if=IsRecurring true,omitempty,rrule"`
	ExceptionDates []time.Time `json:"exception_dates"`
}

func (ne *NewEvent) Validate(validate *validator.Validate) error {
	ne.Title = core.CleanString(ne.Title)
	ne.Description = core.CleanString(ne.Description)
	ne.Location = core.CleanString(ne.Location)
	ne.RecurrenceRule = core.CleanString(ne.RecurrenceRule)

	if err := validate.Struct(ne); err != nil {
		return err
	}
	if ne.EndDate.Before(ne.StartDate) {
		return core.NewValidationError(errEndBeforeStart,
			core.FieldError{Field: "end_date", Error: errEndBeforeStart.Error()})
	}
	if !ne.IsRecurring && ne.RecurrenceRule != "" {
		return core.NewValidationError(errRuleNotAllowed,
			core.FieldError{Field: "recurrence_rule", Error: errRuleNotAllowed.Error()})
	}
	return nil
}

// UpdateEvent defines what information may be provided to modify an existing Event.
// Zero-valued fields keep the original's values.
type UpdateEvent struct {
	Title          string      `json:"title"`
	Description    *string     `json:"description"`
	Location       *string     `json:"location"`
	CategoryID     *string     `json:"category_id"`
	VisibleToRoles []string    `json:"visible_to_roles"`
	StartDate      time.Time   `json:"start_date"`
	EndDate        time.Time   `json:"end_date"`
	RecurrenceRule *string     `json:"recurrence_rule" validate:"omitempty,rrule"`
	ExceptionDates []time.Time `json:"exception_dates"`
}

func (ue *UpdateEvent) Validate(validate *validator.Validate, orig Event) error {
	ue.Title = core.CleanString(ue.Title)
	if ue.Title == "" {
		ue.Title = orig.Title
	}
	if ue.StartDate.IsZero() {
		ue.StartDate = orig.StartDate
	}
	if ue.EndDate.IsZero() {
		ue.EndDate = orig.EndDate
	}

	if err := validate.Struct(ue); err != nil {
		return err
	}
	if ue.EndDate.Before(ue.StartDate) {
		return core.NewValidationError(errEndBeforeStart,
			core.FieldError{Field: "end_date", Error: errEndBeforeStart.Error()})
	}
	if ue.RecurrenceRule != nil && !orig.IsRecurring {
		return core.NewValidationError(errRuleNotAllowed,
			core.FieldError{Field: "recurrence_rule", Error: errRuleNotAllowed.Error()})
	}
	return nil
}

// seriesChanges extracts the series-wide fields of an update. Instance-specific
// fields (an occurrence's own start/end) never propagate through bulk scopes.
func (ue *UpdateEvent) seriesChanges() SeriesChanges {
	ch := SeriesChanges{
		Description:    ue.Description,
		Location:       ue.Location,
		CategoryID:     ue.CategoryID,
		VisibleToRoles: ue.VisibleToRoles,
		RecurrenceRule: ue.RecurrenceRule,
		ExceptionDates: ue.ExceptionDates,
	}
	if ue.Title != "" {
		ch.Title = &ue.Title
	}
	return ch
}

// SeriesChanges is the set of series-wide fields a future/all scoped update
// may propagate across rows sharing a RecurrenceID. Nil fields are untouched.
type SeriesChanges struct {
	Title          *string
	Description    *string
	Location       *string
	CategoryID     *string
	VisibleToRoles []string
	RecurrenceRule *string
	ExceptionDates []time.Time
}

func (ch SeriesChanges) IsEmpty() bool {
	return ch.Title == nil && ch.Description == nil && ch.Location == nil &&
		ch.CategoryID == nil && ch.VisibleToRoles == nil && ch.RecurrenceRule == nil &&
		ch.ExceptionDates == nil
}

// QueryFilter selects events for a calendar window.
type QueryFilter struct {
	From       time.Time `query:"from"`
	To         time.Time `query:"to"`
	CategoryID string    `query:"category_id"`
	Search     string    `query:"search"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.From.IsZero() && qf.To.IsZero() && qf.CategoryID == "" && qf.Search == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.CategoryID = core.CleanString(qf.CategoryID)
}
