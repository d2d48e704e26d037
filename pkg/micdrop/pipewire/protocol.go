package pipewire

import "fmt"

type commandKind uint8

const (
	cmdQuit commandKind = iota
	cmdListNodes
	cmdListPorts
	cmdCreateLink
	cmdRemoveLink
)

func (k commandKind) String() string {
	switch k {
	case cmdQuit:
		return "quit"
	case cmdListNodes:
		return "list_nodes"
	case cmdListPorts:
		return "list_ports"
	case cmdCreateLink:
		return "create_link"
	case cmdRemoveLink:
		return "remove_link"
	default:
		return fmt.Sprintf("command(%d)", uint8(k))
	}
}

// command is sent from the caller goroutine to the reactor.
// Only the field matching kind is meaningful.
type command struct {
	kind   commandKind
	link   LinkInfo
	handle LinkHandle
}

// response answers exactly one command and carries the same kind
type response struct {
	kind   commandKind
	nodes  []Node
	ports  []Port
	handle LinkHandle
	err    error
}

func (r response) expect(kind commandKind) error {
	if r.kind != kind {
		return fmt.Errorf("%w: sent %s, got %s", ErrUnexpectedResponse, kind, r.kind)
	}

	return r.err
}
