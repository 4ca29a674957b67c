package effects

import (
	"context"
	"sync"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
)

// Journal counts effect executions per event id. The simulator uses it to
// show that duplicate deliveries did not duplicate effects.
type Journal struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewJournal() *Journal {
	return &Journal{counts: make(map[string]int)}
}

func (j *Journal) Apply(_ context.Context, ev event.DomainEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.counts[ev.ID]++
	return nil
}

// Count returns how often the effect ran for id.
func (j *Journal) Count(id string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts[id]
}

// Duplicates returns the ids whose effect ran more than once.
func (j *Journal) Duplicates() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []string
	for id, n := range j.counts {
		if n > 1 {
			out = append(out, id)
		}
	}
	return out
}

// Total returns the number of effect executions.
func (j *Journal) Total() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	total := 0
	for _, n := range j.counts {
		total += n
	}
	return total
}
