package inmemdb

import (
	"sync"

	"github.com/shulesoft/ratiba/core/event"
)

type (
	DB struct {
		event *eventTable
	}

	eventTable struct {
		sync.RWMutex
		table map[string]*event.Event
	}
)

func Open() (*DB, error) {
	db := &DB{
		event: &eventTable{table: make(map[string]*event.Event)},
	}
	return db, nil
}
