package call

import "errors"

var (
	ErrAlreadyStarted        = errors.New("call already started")
	ErrNotStarted            = errors.New("call not started")
	ErrNoLocalDescription    = errors.New("local description is not set")
	ErrAlreadyAnswered       = errors.New("remote description already set")
	ErrEncryptionUnsupported = errors.New("encryption is not supported")
	ErrCallNotStartedYet     = errors.New("call not started yet, will add candidates later")
	ErrCannotEnableMedia     = errors.New("cannot enable media source")
	ErrCannotReplaceMedia    = errors.New("cannot replace media source")
	ErrUnknownCommand        = errors.New("unknown command")
)
