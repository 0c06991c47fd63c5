// Package source defines the upstream boundary of the pipeline. Concrete
// adapters (logical replication clients, binlog readers) live outside this
// module; the pipeline only depends on this interface.
package source

import (
	"context"
	"errors"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

// ErrEndOfStream is returned by NextEvent when the source has no more events
// and will never produce any. Bounded sources use it to signal completion;
// live replication sources never return it.
var ErrEndOfStream = errors.New("end of change stream")

// Source is a pull-based change event stream. NextEvent blocks until an
// event is available, the context is cancelled, or the stream ends.
// Positions are monotonic within one source.
type Source interface {
	NextEvent(ctx context.Context) (*event.Event, error)
	CurrentPosition() event.Position
	// Seek repositions the stream so the next event is the first one
	// strictly after pos. Used at startup to resume from a checkpoint.
	Seek(pos event.Position) error
}
