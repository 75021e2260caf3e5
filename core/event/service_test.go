package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulesoft/ratiba/core"
	"github.com/shulesoft/ratiba/core/event"
	inmemdb "github.com/shulesoft/ratiba/storage/database/inmem"
)

var (
	// Monday 2025-01-06 09:00 UTC
	anchor      = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	windowStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(msg string, _ ...interface{}) { l.t.Log(msg) }
func (l testLogger) Info(msg string, _ ...interface{})  { l.t.Log(msg) }
func (l testLogger) Warn(msg string, _ ...interface{})  { l.t.Log(msg) }
func (l testLogger) Error(msg string, _ ...interface{}) { l.t.Log(msg) }
func (l testLogger) Fatal(msg string, _ ...interface{}) { l.t.Fatal(msg) }

type reschedule struct {
	eventID  string
	oldStart time.Time
	newStart time.Time
}

type fakeReminders struct {
	notified []reschedule
}

func (f *fakeReminders) NotifyReschedule(_ context.Context, eventID string, oldStart, newStart time.Time) error {
	f.notified = append(f.notified, reschedule{eventID, oldStart, newStart})
	return nil
}

func newTestValidator() (*validator.Validate, ut.Translator) {
	lang := en.New()
	uni := ut.New(lang, lang)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	event.InitValidators(validate, translator)
	return validate, translator
}

func setup(t *testing.T) (*event.Service, event.Repository, *fakeReminders) {
	t.Helper()
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	repo := inmemdb.NewEventRepository(db)
	reminders := &fakeReminders{}
	svc := event.NewService(repo, reminders, nil, testLogger{t}, core.NewConfig())
	return svc, repo, reminders
}

func createEvent(t *testing.T, repo event.Repository, title string, start time.Time, recurrenceID, rule string) event.Event {
	t.Helper()
	now := time.Now().UTC()
	evt := event.Event{
		ID:           uuid.New().String(),
		Title:        title,
		CategoryID:   "meetings",
		StartDate:    start,
		EndDate:      start.Add(time.Hour),
		IsRecurring:  recurrenceID != "",
		RecurrenceID: recurrenceID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rule != "" {
		evt.RecurrenceRule = rule
	}
	evt, err := repo.CreateEvent(context.Background(), evt)
	if err != nil {
		t.Fatalf("createEvent() failed: %v", err)
	}
	return evt
}

// createSeries persists a base row plus one row per later occurrence, the
// flat-table shape scoped edits operate on. Returns rows ordered by start.
func createSeries(t *testing.T, repo event.Repository, title string, starts ...time.Time) []event.Event {
	t.Helper()
	rid := uuid.New().String()
	rows := make([]event.Event, 0, len(starts))
	now := time.Now().UTC()
	for i, s := range starts {
		evt := event.Event{
			ID:             uuid.New().String(),
			Title:          title,
			StartDate:      s,
			EndDate:        s.Add(time.Hour),
			IsRecurring:    true,
			RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO;COUNT=4",
			RecurrenceID:   rid,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if i == 0 {
			evt.ID = rid // base row
		}
		evt, err := repo.CreateEvent(context.Background(), evt)
		if err != nil {
			t.Fatalf("createSeries() failed: %v", err)
		}
		rows = append(rows, evt)
	}
	return rows
}

func mondays(weeks ...int) []time.Time {
	out := make([]time.Time, 0, len(weeks))
	for _, w := range weeks {
		out = append(out, anchor.AddDate(0, 0, 7*w))
	}
	return out
}

func TestService_Create(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	t.Run("recurring event gets its own id as series id", func(t *testing.T) {
		evt, err := svc.Create(ctx, event.NewEvent{
			Title:          "Staff meeting",
			StartDate:      anchor,
			EndDate:        anchor.Add(time.Hour),
			IsRecurring:    true,
			RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO;COUNT=4",
		})
		require.NoError(t, err)
		assert.Equal(t, evt.ID, evt.RecurrenceID)
		assert.True(t, evt.IsBase())

		got, err := repo.GetEventByID(ctx, evt.ID)
		require.NoError(t, err)
		assert.Equal(t, evt.RecurrenceID, got.RecurrenceID)
	})

	t.Run("standalone event has no series bookkeeping", func(t *testing.T) {
		evt, err := svc.Create(ctx, event.NewEvent{
			Title:     "Parents day",
			StartDate: anchor,
			EndDate:   anchor.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		assert.Empty(t, evt.RecurrenceID)
		assert.Empty(t, evt.RecurrenceRule)
	})
}

func TestNewEvent_Validate(t *testing.T) {
	validate, _ := newTestValidator()

	tests := []struct {
		name    string
		data    event.NewEvent
		wantErr bool
	}{
		{
			name: "valid recurring",
			data: event.NewEvent{
				Title: "Staff meeting", StartDate: anchor, EndDate: anchor.Add(time.Hour),
				IsRecurring: true, RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO;COUNT=4",
			},
		},
		{
			name: "valid standalone",
			data: event.NewEvent{Title: "Exam", StartDate: anchor, EndDate: anchor.Add(time.Hour)},
		},
		{
			name:    "missing title",
			data:    event.NewEvent{StartDate: anchor, EndDate: anchor.Add(time.Hour)},
			wantErr: true,
		},
		{
			name:    "end before start",
			data:    event.NewEvent{Title: "Exam", StartDate: anchor, EndDate: anchor.Add(-time.Hour)},
			wantErr: true,
		},
		{
			name: "malformed rule",
			data: event.NewEvent{
				Title: "Broken", StartDate: anchor, EndDate: anchor.Add(time.Hour),
				IsRecurring: true, RecurrenceRule: "FREQ=FOO",
			},
			wantErr: true,
		},
		{
			name: "recurring without rule",
			data: event.NewEvent{
				Title: "No rule", StartDate: anchor, EndDate: anchor.Add(time.Hour),
				IsRecurring: true,
			},
			wantErr: true,
		},
		{
			name: "rule on standalone event",
			data: event.NewEvent{
				Title: "Sneaky", StartDate: anchor, EndDate: anchor.Add(time.Hour),
				RecurrenceRule: "FREQ=DAILY",
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate(validate)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateEvent_Validate(t *testing.T) {
	validate, _ := newTestValidator()
	orig := event.Event{
		ID:             uuid.New().String(),
		Title:          "Staff meeting",
		StartDate:      anchor,
		EndDate:        anchor.Add(time.Hour),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO;COUNT=4",
	}
	sPtr := func(s string) *string { return &s }

	t.Run("zero fields fall back to the original", func(t *testing.T) {
		ue := event.UpdateEvent{}
		require.NoError(t, ue.Validate(validate, orig))
		assert.Equal(t, orig.Title, ue.Title)
		assert.True(t, ue.StartDate.Equal(orig.StartDate))
		assert.True(t, ue.EndDate.Equal(orig.EndDate))
	})

	t.Run("end before start rejected after merge", func(t *testing.T) {
		ue := event.UpdateEvent{EndDate: anchor.Add(-time.Hour)}
		err := ue.Validate(validate, orig)
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("malformed replacement rule rejected", func(t *testing.T) {
		ue := event.UpdateEvent{RecurrenceRule: sPtr("FREQ=FOO")}
		assert.Error(t, ue.Validate(validate, orig))
	})

	t.Run("rule change on a standalone event rejected", func(t *testing.T) {
		standalone := orig
		standalone.IsRecurring = false
		standalone.RecurrenceRule = ""
		ue := event.UpdateEvent{RecurrenceRule: sPtr("FREQ=DAILY")}
		err := ue.Validate(validate, standalone)
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))
	})
}

func TestService_QueryWindow(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	t.Run("expands a series within the window", func(t *testing.T) {
		rows := createSeries(t, repo, "Staff meeting", mondays(0)...)
		instances, err := svc.QueryWindow(ctx, event.QueryFilter{From: windowStart, To: windowEnd})
		require.NoError(t, err)

		got := seriesInstances(instances, rows[0].RecurrenceID)
		require.Len(t, got, 4)
		for i, want := range mondays(0, 1, 2, 3) {
			assert.True(t, got[i].StartDate.Equal(want), "instance %d start", i)
			assert.True(t, got[i].EndDate.Equal(want.Add(time.Hour)), "instance %d end", i)
		}
	})

	t.Run("exception dates drop their occurrence", func(t *testing.T) {
		svc2, repo2, _ := setup(t)
		rows := createSeries(t, repo2, "Staff meeting", mondays(0)...)

		base := rows[0]
		base.ExceptionDates = mondays(1)
		_, err := repo2.UpdateEvent(ctx, base)
		require.NoError(t, err)

		instances, err := svc2.QueryWindow(ctx, event.QueryFilter{From: windowStart, To: windowEnd})
		require.NoError(t, err)

		got := seriesInstances(instances, base.RecurrenceID)
		require.Len(t, got, 3)
		for _, inst := range got {
			assert.False(t, inst.StartDate.Equal(mondays(1)[0]), "excluded occurrence still present")
		}
	})

	t.Run("persisted sibling overrides its generated slot", func(t *testing.T) {
		svc2, repo2, _ := setup(t)
		rows := createSeries(t, repo2, "Staff meeting", mondays(0, 2)...)

		renamed := rows[1]
		renamed.Title = "Extended staff meeting"
		_, err := repo2.UpdateEvent(ctx, renamed)
		require.NoError(t, err)

		instances, err := svc2.QueryWindow(ctx, event.QueryFilter{From: windowStart, To: windowEnd})
		require.NoError(t, err)

		got := seriesInstances(instances, rows[0].RecurrenceID)
		require.Len(t, got, 4)
		assert.Equal(t, "Extended staff meeting", got[2].Title)
		assert.Equal(t, renamed.ID, got[2].EventID)
		assert.Equal(t, "Staff meeting", got[1].Title)
	})

	t.Run("standalone events come back directly", func(t *testing.T) {
		svc2, repo2, _ := setup(t)
		createEvent(t, repo2, "Parents day", anchor.AddDate(0, 0, 2), "", "")
		createEvent(t, repo2, "Out of window", windowEnd.AddDate(0, 1, 0), "", "")

		instances, err := svc2.QueryWindow(ctx, event.QueryFilter{From: windowStart, To: windowEnd})
		require.NoError(t, err)
		require.Len(t, instances, 1)
		assert.Equal(t, "Parents day", instances[0].Title)
	})
}

func seriesInstances(instances []event.Instance, recurrenceID string) []event.Instance {
	out := make([]event.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.RecurrenceID == recurrenceID {
			out = append(out, inst)
		}
	}
	return out
}

func TestService_Update_scopes(t *testing.T) {
	ctx := context.Background()
	newTitle := "Renamed meeting"

	t.Run("future scope touches the target and later rows only", func(t *testing.T) {
		svc, repo, _ := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1, 2, 3)...)

		_, err := svc.Update(ctx, rows[2].ID, event.ScopeFuture, event.UpdateEvent{
			Title:     newTitle,
			StartDate: rows[2].StartDate,
			EndDate:   rows[2].EndDate,
		})
		require.NoError(t, err)

		wantTitles := []string{"Staff meeting", "Staff meeting", newTitle, newTitle}
		for i, row := range rows {
			got, err := repo.GetEventByID(ctx, row.ID)
			require.NoError(t, err)
			assert.Equal(t, wantTitles[i], got.Title, "row %d", i)
		}
	})

	t.Run("all scope touches every row of the series and nothing else", func(t *testing.T) {
		svc, repo, _ := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1, 2, 3)...)
		other := createSeries(t, repo, "Science club", mondays(0, 1)...)

		_, err := svc.Update(ctx, rows[1].ID, event.ScopeAll, event.UpdateEvent{
			Title:     newTitle,
			StartDate: rows[1].StartDate,
			EndDate:   rows[1].EndDate,
		})
		require.NoError(t, err)

		for i, row := range rows {
			got, err := repo.GetEventByID(ctx, row.ID)
			require.NoError(t, err)
			assert.Equal(t, newTitle, got.Title, "row %d", i)
		}
		for i, row := range other {
			got, err := repo.GetEventByID(ctx, row.ID)
			require.NoError(t, err)
			assert.Equal(t, "Science club", got.Title, "foreign series row %d", i)
		}
	})

	t.Run("bulk scopes never move occurrence times", func(t *testing.T) {
		svc, repo, _ := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1, 2)...)

		moved := rows[1].StartDate.Add(5 * time.Hour)
		_, err := svc.Update(ctx, rows[1].ID, event.ScopeAll, event.UpdateEvent{
			Title:     newTitle,
			StartDate: moved,
			EndDate:   moved.Add(time.Hour),
		})
		require.NoError(t, err)

		for i, row := range rows {
			got, err := repo.GetEventByID(ctx, row.ID)
			require.NoError(t, err)
			assert.True(t, got.StartDate.Equal(row.StartDate), "row %d start moved by bulk scope", i)
		}
	})

	t.Run("single scope moves one row and notifies reminders", func(t *testing.T) {
		svc, repo, reminders := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1, 2, 3)...)

		oldStart := rows[2].StartDate           // 2025-01-20 09:00
		newStart := oldStart.Add(5 * time.Hour) // 2025-01-20 14:00
		_, err := svc.Update(ctx, rows[2].ID, event.ScopeSingle, event.UpdateEvent{
			Title:     rows[2].Title,
			StartDate: newStart,
			EndDate:   newStart.Add(time.Hour),
		})
		require.NoError(t, err)

		got, err := repo.GetEventByID(ctx, rows[2].ID)
		require.NoError(t, err)
		assert.True(t, got.StartDate.Equal(newStart))
		assert.True(t, got.EndDate.Equal(newStart.Add(time.Hour)))

		require.Len(t, reminders.notified, 1)
		assert.Equal(t, rows[2].ID, reminders.notified[0].eventID)
		assert.True(t, reminders.notified[0].oldStart.Equal(oldStart))
		assert.True(t, reminders.notified[0].newStart.Equal(newStart))

		// siblings untouched
		for _, i := range []int{0, 1, 3} {
			sibling, err := repo.GetEventByID(ctx, rows[i].ID)
			require.NoError(t, err)
			assert.True(t, sibling.StartDate.Equal(rows[i].StartDate), "row %d moved by single scope", i)
		}
	})

	t.Run("single scope without a time change stays quiet", func(t *testing.T) {
		svc, repo, reminders := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1)...)

		_, err := svc.Update(ctx, rows[0].ID, event.ScopeSingle, event.UpdateEvent{
			Title:     newTitle,
			StartDate: rows[0].StartDate,
			EndDate:   rows[0].EndDate,
		})
		require.NoError(t, err)
		assert.Empty(t, reminders.notified)
	})

	t.Run("invalid scope fails before any mutation", func(t *testing.T) {
		svc, repo, _ := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1)...)

		_, err := svc.Update(ctx, rows[0].ID, "everything", event.UpdateEvent{Title: newTitle})
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))

		got, err := repo.GetEventByID(ctx, rows[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "Staff meeting", got.Title)
	})

	t.Run("unknown event id fails with a validation error", func(t *testing.T) {
		svc, _, _ := setup(t)
		_, err := svc.Update(ctx, uuid.New().String(), event.ScopeSingle, event.UpdateEvent{Title: newTitle})
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))
	})
}

func TestService_Delete_scopes(t *testing.T) {
	ctx := context.Background()

	exists := func(t *testing.T, repo event.Repository, id string) bool {
		t.Helper()
		_, err := repo.GetEventByID(ctx, id)
		if err == event.ErrNotFound {
			return false
		}
		require.NoError(t, err)
		return true
	}

	t.Run("single removes one row", func(t *testing.T) {
		svc, repo, _ := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1, 2)...)

		require.NoError(t, svc.Delete(ctx, rows[1].ID, event.ScopeSingle))
		assert.False(t, exists(t, repo, rows[1].ID))
		assert.True(t, exists(t, repo, rows[0].ID))
		assert.True(t, exists(t, repo, rows[2].ID))
	})

	t.Run("future removes the target and later rows", func(t *testing.T) {
		svc, repo, _ := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1, 2, 3)...)

		require.NoError(t, svc.Delete(ctx, rows[2].ID, event.ScopeFuture))
		assert.True(t, exists(t, repo, rows[0].ID))
		assert.True(t, exists(t, repo, rows[1].ID))
		assert.False(t, exists(t, repo, rows[2].ID))
		assert.False(t, exists(t, repo, rows[3].ID))
	})

	t.Run("all removes the whole series and only it", func(t *testing.T) {
		svc, repo, _ := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0, 1)...)
		other := createEvent(t, repo, "Parents day", anchor, "", "")

		require.NoError(t, svc.Delete(ctx, rows[0].ID, event.ScopeAll))
		assert.False(t, exists(t, repo, rows[0].ID))
		assert.False(t, exists(t, repo, rows[1].ID))
		assert.True(t, exists(t, repo, other.ID))
	})

	t.Run("invalid scope fails", func(t *testing.T) {
		svc, repo, _ := setup(t)
		rows := createSeries(t, repo, "Staff meeting", mondays(0)...)

		err := svc.Delete(ctx, rows[0].ID, "someday")
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))
		assert.True(t, exists(t, repo, rows[0].ID))
	})

	t.Run("unknown id fails", func(t *testing.T) {
		svc, _, _ := setup(t)
		err := svc.Delete(ctx, uuid.New().String(), event.ScopeAll)
		require.Error(t, err)
		assert.True(t, core.IsValidationError(err))
	})
}
