// Package effects holds the business actions consumers run once per event.
package effects

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/consumer"
	"github.com/redis/go-redis/v9"
)

const (
	NameNotify  = "notify"
	NameRevenue = "revenue"
	NameJournal = "journal"
)

var ErrUnknownEffect = errors.New("unknown effect")

// Deps are the collaborators an effect may need. Nil fields are only an
// error for effects that use them.
type Deps struct {
	Logger  *slog.Logger
	Redis   redis.Cmdable
	Journal *Journal
}

// Build returns the effect registered under name.
func Build(name string, deps Deps) (consumer.Effect, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch name {
	case NameNotify:
		return NewNotifier(logger), nil
	case NameRevenue:
		if deps.Redis == nil {
			return nil, fmt.Errorf("effect %s: redis client required", name)
		}
		return NewRevenueLedger(deps.Redis, ""), nil
	case NameJournal:
		if deps.Journal == nil {
			return NewJournal(), nil
		}
		return deps.Journal, nil
	default:
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownEffect, name, Names())
	}
}

// Names lists the registered effects.
func Names() []string {
	names := []string{NameNotify, NameRevenue, NameJournal}
	sort.Strings(names)
	return names
}
