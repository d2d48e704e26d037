package pipewire

import "fmt"

// Node is one audio stream endpoint tracked by the server
type Node struct {
	ID uint32

	// ApplicationName is empty when the server did not report one
	ApplicationName string
	NodeName        string
}

// PortDirection tells whether a port produces or consumes audio
type PortDirection uint8

const (
	PortDirectionOut PortDirection = iota
	PortDirectionIn
)

func (d PortDirection) String() string {
	switch d {
	case PortDirectionIn:
		return "in"
	case PortDirectionOut:
		return "out"
	default:
		return fmt.Sprintf("PortDirection(%d)", uint8(d))
	}
}

// Port is a directional connection point on a Node.
// NodeID is not validated against known nodes, a port may be announced before its node.
type Port struct {
	ID        uint32
	NodeID    uint32
	PortID    uint32
	Direction PortDirection
}

// LinkInfo describes the endpoints of a link to be created
type LinkInfo struct {
	OutputNodeID uint32
	OutputPortID uint32
	InputNodeID  uint32
	InputPortID  uint32
}

// NewLinkInfo connects the given output port to the given input port
func NewLinkInfo(out, in Port) LinkInfo {
	return LinkInfo{
		OutputNodeID: out.NodeID,
		OutputPortID: out.PortID,
		InputNodeID:  in.NodeID,
		InputPortID:  in.PortID,
	}
}

// LinkHandle is the caller-side reference to a created link.
// Handles start at 1 and are never reused within a process.
type LinkHandle uint64

func (h LinkHandle) String() string {
	return fmt.Sprintf("link#%d", uint64(h))
}
