package pipewire

const (
	ObjectTypeNode = "PipeWire:Interface:Node"
	ObjectTypePort = "PipeWire:Interface:Port"
	ObjectTypeLink = "PipeWire:Interface:Link"

	LinkFactory = "link-factory"

	PropMediaType       = "media.type"
	PropMediaClass      = "media.class"
	PropApplicationName = "application.name"
	PropNodeName        = "node.name"
	PropNodeID          = "node.id"
	PropPortID          = "port.id"
	PropPortDirection   = "port.direction"

	PropLinkOutputNode = "link.output.node"
	PropLinkOutputPort = "link.output.port"
	PropLinkInputNode  = "link.input.node"
	PropLinkInputPort  = "link.input.port"
	PropObjectLinger   = "object.linger"
)

// Props is the key/value dictionary attached to a global object
type Props map[string]string

type GlobalEventKind uint8

const (
	GlobalAdded GlobalEventKind = iota
	GlobalRemoved
)

// GlobalEvent is one registry announcement. Type and Props are only set for GlobalAdded.
type GlobalEvent struct {
	Kind  GlobalEventKind
	ID    uint32
	Type  string
	Props Props
}

// Object is a server-side object created through a Conn.
// It carries destructive capability and never leaves the reactor goroutine.
type Object interface {
	Factory() string
}

// Conn represents a session with the audio graph server.
// Implementations are not safe for concurrent use: only the reactor calls into them.
type Conn interface {
	// Globals delivers registry add/remove events. It is closed when the session ends.
	Globals() <-chan GlobalEvent

	CreateObject(factory string, props Props) (Object, error)

	DestroyObject(obj Object) error

	Close() error
}
