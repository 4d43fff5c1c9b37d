package sink

import "errors"

var (
	ErrClosed       = errors.New("sink is closed")
	ErrEncode       = errors.New("failed to encode message")
	ErrNilConn      = errors.New("websocket connection is required")
	ErrUpgradeFails = errors.New("websocket upgrade failed")
)
