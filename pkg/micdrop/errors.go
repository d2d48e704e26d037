package micdrop

import "errors"

var (
	ErrSelfNodeNotFound       = errors.New("micdrop: no audio stream node belongs to this process")
	ErrSelfOutputPortNotFound = errors.New("micdrop: own audio stream node has no output port")
	ErrExecutableName         = errors.New("micdrop: cannot determine own executable name")
	ErrAlreadyRunning         = errors.New("micdrop: another instance is already playing")
)
