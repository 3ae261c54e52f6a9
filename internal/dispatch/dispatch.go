// Package dispatch delivers stored notifications to users over the
// available channels.
package dispatch

import (
	"context"
	"errors"

	"github.com/example/spot-finder/internal/models"
)

// ErrNoSession is returned when the user has no open socket.
var ErrNoSession = errors.New("no ws session")

type Deliverer interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// Fanout hands a notification to every channel. A user without an open
// socket is not an error.
type Fanout []Deliverer

func (f Fanout) Deliver(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, d := range f {
		if err := d.Deliver(ctx, n); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
