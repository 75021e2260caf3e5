package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shulesoft/ratiba/core/event"
)

// seed creates demo events: a mix of standalone events and a weekly
// recurring staff meeting series.
func (cli *commandLine) seed(count int) error {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Hour)

	for i := 0; i < count; i++ {
		evt := event.Event{
			ID:             uuid.New().String(),
			Title:          fmt.Sprintf("Demo event %d", i+1),
			Description:    "Seeded demo event",
			CategoryID:     "demo",
			VisibleToRoles: []string{"admin:", "teacher:"},
			StartDate:      now.AddDate(0, 0, i),
			EndDate:        now.AddDate(0, 0, i).Add(time.Hour),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if i == 0 {
			evt.Title = "Staff meeting"
			evt.IsRecurring = true
			evt.RecurrenceRule = "FREQ=WEEKLY;BYDAY=MO"
			evt.RecurrenceID = evt.ID
		}
		if _, err := cli.evtRepo.CreateEvent(ctx, evt); err != nil {
			return err
		}
	}
	logger.Printf("seeded %d events\n", count)
	return nil
}
