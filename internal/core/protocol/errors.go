package protocol

import "errors"

var (
	// ErrChecksumMismatch means a frame's body does not match its checksum.
	ErrChecksumMismatch = errors.New("protocol: frame checksum mismatch")
	// ErrFrameTooShort means the raw data cannot even hold a checksum header.
	ErrFrameTooShort = errors.New("protocol: frame too short")
	// ErrFrameTooLarge means a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")
	// ErrAlreadyListening means Listen was called twice on one transport.
	ErrAlreadyListening = errors.New("protocol: transport already listening")
	// ErrListenerClosed means Accept was called on a closed listener.
	ErrListenerClosed = errors.New("protocol: listener closed")
	// ErrUnexpectedFrame means the peer answered with the wrong frame type.
	ErrUnexpectedFrame = errors.New("protocol: unexpected frame type")
)
