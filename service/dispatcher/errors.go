package dispatcher

import "errors"

// ErrProtocol indicates a worker violated the message protocol, for example
// by sending a non-result envelope or a result for a task it does not hold.
// The run aborts since peer state is no longer known.
var ErrProtocol = errors.New("protocol violation")
