package pipewire

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedResponse = errors.New("pipewire: response kind does not match command")
	ErrSend               = errors.New("pipewire: reactor is gone, command not sent")
	ErrRecv               = errors.New("pipewire: reactor closed without answering")
	ErrLinkNotFound       = errors.New("pipewire: no link registered for handle")
	ErrServer             = errors.New("pipewire: server call failed")
	ErrMalformedObject    = errors.New("pipewire: malformed global object")
	ErrConnClosed         = errors.New("pipewire: connection closed")
)

// CommandError attributes a failure to the command that triggered it
type CommandError struct {
	Kind commandKind
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
