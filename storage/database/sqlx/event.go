package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulesoft/ratiba/core"
	"github.com/shulesoft/ratiba/core/event"
)

type eventRepository struct {
	db *sqlx.DB
}

var _ event.Repository = (*eventRepository)(nil) // interface compliance check

func NewEventRepository(db *sqlx.DB) *eventRepository {
	return &eventRepository{db: db}
}

type eventRow struct {
	ID             string         `db:"id"`
	Title          string         `db:"title"`
	Description    string         `db:"description"`
	Location       string         `db:"location"`
	CategoryID     string         `db:"category_id"`
	VisibleToRoles pq.StringArray `db:"visible_to_roles"`
	StartDate      time.Time      `db:"start_date"`
	EndDate        time.Time      `db:"end_date"`
	IsRecurring    bool           `db:"is_recurring"`
	RecurrenceRule null.String    `db:"recurrence_rule"`
	RecurrenceID   null.String    `db:"recurrence_id"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (repo eventRepository) toRow(evt event.Event) eventRow {
	return eventRow{
		ID:             evt.ID,
		Title:          evt.Title,
		Description:    evt.Description,
		Location:       evt.Location,
		CategoryID:     evt.CategoryID,
		VisibleToRoles: evt.VisibleToRoles,
		StartDate:      evt.StartDate.UTC(),
		EndDate:        evt.EndDate.UTC(),
		IsRecurring:    evt.IsRecurring,
		RecurrenceRule: null.NewString(evt.RecurrenceRule, evt.RecurrenceRule != ""),
		RecurrenceID:   null.NewString(evt.RecurrenceID, evt.RecurrenceID != ""),
		CreatedAt:      evt.CreatedAt.UTC(),
		UpdatedAt:      evt.UpdatedAt.UTC(),
	}
}

func (repo eventRepository) fromRow(row eventRow, exceptions []time.Time) event.Event {
	return event.Event{
		ID:             row.ID,
		Title:          row.Title,
		Description:    row.Description,
		Location:       row.Location,
		CategoryID:     row.CategoryID,
		VisibleToRoles: row.VisibleToRoles,
		StartDate:      row.StartDate.UTC(),
		EndDate:        row.EndDate.UTC(),
		IsRecurring:    row.IsRecurring,
		RecurrenceRule: row.RecurrenceRule.String,
		RecurrenceID:   row.RecurrenceID.String,
		ExceptionDates: exceptions,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
}

// trapNoRowsErr maps psql "no rows" err to event.ErrNotFound
func (repo eventRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return event.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

const insertEventQuery = `
INSERT INTO "event" (id, title, description, location, category_id, visible_to_roles,
                     start_date, end_date, is_recurring, recurrence_rule, recurrence_id,
                     created_at, updated_at)
VALUES (:id, :title, :description, :location, :category_id, :visible_to_roles,
        :start_date, :end_date, :is_recurring, :recurrence_rule, :recurrence_id,
        :created_at, :updated_at)`

func (repo eventRepository) CreateEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return event.Event{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.NamedExecContext(ctx, insertEventQuery, repo.toRow(evt)); err != nil {
		return event.Event{}, errors.Wrap(err, "inserting event")
	}
	if err = repo.insertExceptions(ctx, tx, evt.ID, evt.ExceptionDates); err != nil {
		return event.Event{}, err
	}

	if err = tx.Commit(); err != nil {
		return event.Event{}, errors.Wrap(err, "committing event insert")
	}
	return evt, nil
}

func (repo eventRepository) GetEventByID(ctx context.Context, id string) (event.Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return event.Event{}, event.ErrNotFound
	}

	var row eventRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM "event" WHERE id = $1`, id)
	if err != nil {
		return event.Event{}, repo.trapNoRowsErr(err, "getting event")
	}

	exceptions, err := repo.queryExceptions(ctx, row.ID)
	if err != nil {
		return event.Event{}, err
	}
	return repo.fromRow(row, exceptions), nil
}

func (repo eventRepository) QueryEvents(ctx context.Context, filter event.QueryFilter, ordering []core.DBOrdering) ([]event.Event, error) {
	where := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)

	// standalone rows must intersect the window; recurring rows always come
	// back since the series is expanded above the store
	if !filter.From.IsZero() && !filter.To.IsZero() {
		args = append(args, filter.From.UTC(), filter.To.UTC())
		where = append(where, fmt.Sprintf(
			"(is_recurring OR (start_date <= $%d AND end_date >= $%d))", len(args), len(args)-1))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf(
			"(title ILIKE $%d OR description ILIKE $%d OR location ILIKE $%d)", len(args), len(args), len(args)))
	}

	q := `SELECT * FROM "event"`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		q += " ORDER BY " + strings.Join(orderList, ", ")
	} else {
		q += " ORDER BY start_date"
	}

	var rows []eventRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	return repo.attachExceptions(ctx, rows)
}

func (repo eventRepository) QueryEventsByRecurrenceID(ctx context.Context, recurrenceID string) ([]event.Event, error) {
	var rows []eventRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM "event" WHERE recurrence_id = $1 ORDER BY start_date`, recurrenceID)
	if err != nil {
		return nil, errors.Wrap(err, "querying series")
	}
	return repo.attachExceptions(ctx, rows)
}

const updateEventQuery = `
UPDATE "event"
SET title = :title, description = :description, location = :location,
    category_id = :category_id, visible_to_roles = :visible_to_roles,
    start_date = :start_date, end_date = :end_date,
    recurrence_rule = :recurrence_rule, updated_at = :updated_at
WHERE id = :id`

func (repo eventRepository) UpdateEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return event.Event{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, updateEventQuery, repo.toRow(evt))
	if err != nil {
		return event.Event{}, errors.Wrap(err, "updating event")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return event.Event{}, event.ErrNotFound
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM event_exception WHERE event_id = $1`, evt.ID); err != nil {
		return event.Event{}, errors.Wrap(err, "clearing exceptions")
	}
	if err = repo.insertExceptions(ctx, tx, evt.ID, evt.ExceptionDates); err != nil {
		return event.Event{}, err
	}

	if err = tx.Commit(); err != nil {
		return event.Event{}, errors.Wrap(err, "committing event update")
	}
	return evt, nil
}

func (repo eventRepository) UpdateSeries(ctx context.Context, recurrenceID string, from *time.Time, changes event.SeriesChanges) error {
	if changes.IsEmpty() {
		return nil
	}

	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 9)
	addSet := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if changes.Title != nil {
		addSet("title", *changes.Title)
	}
	if changes.Description != nil {
		addSet("description", *changes.Description)
	}
	if changes.Location != nil {
		addSet("location", *changes.Location)
	}
	if changes.CategoryID != nil {
		addSet("category_id", *changes.CategoryID)
	}
	if changes.VisibleToRoles != nil {
		addSet("visible_to_roles", pq.StringArray(changes.VisibleToRoles))
	}
	if changes.RecurrenceRule != nil {
		addSet("recurrence_rule", null.NewString(*changes.RecurrenceRule, *changes.RecurrenceRule != ""))
	}
	addSet("updated_at", time.Now().UTC())

	args = append(args, recurrenceID)
	q := fmt.Sprintf(`UPDATE "event" SET %s WHERE recurrence_id = $%d`, strings.Join(set, ", "), len(args))
	if from != nil {
		args = append(args, from.UTC())
		q += fmt.Sprintf(" AND start_date >= $%d", len(args))
	}
	q += " RETURNING id"

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	var ids []string
	if err = tx.SelectContext(ctx, &ids, q, args...); err != nil {
		return errors.Wrap(err, "updating series")
	}

	// exception sets live in a child table; propagate them to the same rows
	if changes.ExceptionDates != nil && len(ids) > 0 {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM event_exception WHERE event_id = ANY($1)`, pq.Array(ids)); err != nil {
			return errors.Wrap(err, "clearing series exceptions")
		}
		for _, id := range ids {
			if err = repo.insertExceptions(ctx, tx, id, changes.ExceptionDates); err != nil {
				return err
			}
		}
	}

	return errors.Wrap(tx.Commit(), "committing series update")
}

func (repo eventRepository) DeleteEvent(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return event.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `DELETE FROM "event" WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting event")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return event.ErrNotFound
	}
	return nil
}

func (repo eventRepository) DeleteSeries(ctx context.Context, recurrenceID string, from *time.Time) error {
	q := `DELETE FROM "event" WHERE recurrence_id = $1`
	args := []interface{}{recurrenceID}
	if from != nil {
		q += " AND start_date >= $2"
		args = append(args, from.UTC())
	}
	if _, err := repo.db.ExecContext(ctx, q, args...); err != nil {
		return errors.Wrap(err, "deleting series")
	}
	return nil
}

// helpers

func (repo eventRepository) insertExceptions(ctx context.Context, tx *sqlx.Tx, eventID string, exceptions []time.Time) error {
	for _, ex := range exceptions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO event_exception (event_id, exception_date) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			eventID, ex.UTC())
		if err != nil {
			return errors.Wrap(err, "inserting exception")
		}
	}
	return nil
}

func (repo eventRepository) queryExceptions(ctx context.Context, eventID string) ([]time.Time, error) {
	var exceptions []time.Time
	err := repo.db.SelectContext(ctx, &exceptions,
		`SELECT exception_date FROM event_exception WHERE event_id = $1 ORDER BY exception_date`, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "querying exceptions")
	}
	return exceptions, nil
}

func (repo eventRepository) attachExceptions(ctx context.Context, rows []eventRow) ([]event.Event, error) {
	events := make([]event.Event, 0, len(rows))
	if len(rows) == 0 {
		return events, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.IsRecurring {
			ids = append(ids, row.ID)
		}
	}

	byEvent := make(map[string][]time.Time, len(ids))
	if len(ids) > 0 {
		var exRows []struct {
			EventID       string    `db:"event_id"`
			ExceptionDate time.Time `db:"exception_date"`
		}
		err := repo.db.SelectContext(ctx, &exRows,
			`SELECT event_id, exception_date FROM event_exception WHERE event_id = ANY($1) ORDER BY exception_date`,
			pq.Array(ids))
		if err != nil {
			return nil, errors.Wrap(err, "querying exceptions")
		}
		for _, ex := range exRows {
			byEvent[ex.EventID] = append(byEvent[ex.EventID], ex.ExceptionDate)
		}
	}

	for _, row := range rows {
		events = append(events, repo.fromRow(row, byEvent[row.ID]))
	}
	return events, nil
}
