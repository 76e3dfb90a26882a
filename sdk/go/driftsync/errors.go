package driftsync

import "errors"

var (
	ErrClientClosed      = errors.New("client is closed")
	ErrInvalidConfig     = errors.New("invalid client configuration")
	ErrUnknownTransport  = errors.New("unknown transport")
	ErrKindNotRegistered = errors.New("kind is not registered")
)
