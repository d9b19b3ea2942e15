package gate

import "errors"

var ErrSessionNotFound = errors.New("gate: session has no local connection")
