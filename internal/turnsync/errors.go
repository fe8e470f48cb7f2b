package turnsync

import "errors"

// ErrNotSynchronized is returned by AdvancePhase/AdvanceTurn when the
// synchronizer is not in a synchronized state and the caller did not force
// the transition.
var ErrNotSynchronized = errors.New("turn synchronizer is not synchronized")

// ErrUnknownTurn is returned by Rollback when the requested turn has no
// retained snapshot.
var ErrUnknownTurn = errors.New("no rollback snapshot for requested turn")
