package pipewire

import (
	"sort"

	"go.uber.org/zap"
)

// projection mirrors the admitted subset of the server registry.
// Only the reactor goroutine touches it, callers get copies.
type projection struct {
	logger *zap.SugaredLogger

	nodes map[uint32]Node
	ports map[uint32]Port
}

func newProjection(logger *zap.SugaredLogger) *projection {
	return &projection{
		logger: logger,
		nodes:  make(map[uint32]Node),
		ports:  make(map[uint32]Port),
	}
}

// apply reports whether ev changed the projection
func (p *projection) apply(ev GlobalEvent) bool {
	switch ev.Kind {
	case GlobalAdded:
		return p.add(ev)
	case GlobalRemoved:
		return p.remove(ev.ID)
	default:
		return false
	}
}

func (p *projection) add(ev GlobalEvent) bool {
	switch ev.Type {
	case ObjectTypeNode:
		if !isStreamNode(ev.Props) {
			// a re-announced node may have stopped qualifying
			if _, ok := p.nodes[ev.ID]; ok {
				delete(p.nodes, ev.ID)
				return true
			}
			return false
		}

		node, err := nodeFromGlobal(ev)
		if err != nil {
			p.logger.Warnw("Skipping node", "error", err)
			return false
		}

		p.nodes[node.ID] = node
		return true

	case ObjectTypePort:
		port, err := portFromGlobal(ev)
		if err != nil {
			p.logger.Warnw("Skipping port", "error", err)
			return false
		}

		p.ports[port.ID] = port
		return true
	}

	return false
}

// remove drops id from both mappings, node and port removals never cascade
func (p *projection) remove(id uint32) bool {
	_, isNode := p.nodes[id]
	_, isPort := p.ports[id]

	delete(p.nodes, id)
	delete(p.ports, id)

	return isNode || isPort
}

func (p *projection) nodeSnapshot() []Node {
	nodes := make([]Node, 0, len(p.nodes))
	for _, node := range p.nodes {
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return nodes
}

func (p *projection) portSnapshot() []Port {
	ports := make([]Port, 0, len(p.ports))
	for _, port := range p.ports {
		ports = append(ports, port)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].ID < ports[j].ID })

	return ports
}
