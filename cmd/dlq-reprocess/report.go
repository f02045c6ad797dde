package main

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

type outcome int

const (
	outcomeReplayed outcome = iota
	outcomeFiltered
	outcomeBroken
)

// foreignEvent: счётчик для сообщений, в которых не удалось найти тип события.
const foreignEvent = "unknown"

// eventTally: итог по одному типу события.
type eventTally struct {
	Replayed int
	Filtered int
	Broken   int
}

// report собирает счётчики из всех partition'ов сразу.
type report struct {
	mu      sync.Mutex
	scanned int
	events  map[string]*eventTally
}

func newReport() *report {
	return &report{events: make(map[string]*eventTally)}
}

// record учитывает одно сообщение и возвращает, сколько всего просмотрено.
func (r *report) record(eventType string, o outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eventType == "" {
		eventType = foreignEvent
	}
	tally, ok := r.events[eventType]
	if !ok {
		tally = &eventTally{}
		r.events[eventType] = tally
	}
	switch o {
	case outcomeReplayed:
		tally.Replayed++
	case outcomeFiltered:
		tally.Filtered++
	case outcomeBroken:
		tally.Broken++
	}
	r.scanned++
	return r.scanned
}

func (r *report) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanned
}

// tally возвращает копию счётчиков по типу события.
func (r *report) tally(eventType string) eventTally {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.events[eventType]; ok {
		return *t
	}
	return eventTally{}
}

func (r *report) log(cfg config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	names := make([]string, 0, len(r.events))
	for name := range r.events {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tally := r.events[name]
		log.WithFields(log.Fields{
			"event_type": name,
			"replayed":   tally.Replayed,
			"filtered":   tally.Filtered,
			"broken":     tally.Broken,
		}).Info("dlq replay summary")
	}
	log.WithFields(log.Fields{
		"mode":    mode,
		"scanned": r.scanned,
		"events":  eventNames(cfg.events),
	}).Info("dlq replay finished")
}
