package pipewire

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	admittedMediaType        = "Audio"
	admittedMediaClassPrefix = "Stream/"
)

// isStreamNode selects application playback/capture streams, leaving out devices and monitors
func isStreamNode(props Props) bool {
	mediaClass, ok := props[PropMediaClass]
	if !ok {
		return false
	}

	return props[PropMediaType] == admittedMediaType && strings.HasPrefix(mediaClass, admittedMediaClassPrefix)
}

func nodeFromGlobal(ev GlobalEvent) (Node, error) {
	nodeName, ok := ev.Props[PropNodeName]
	if !ok {
		return Node{}, fmt.Errorf("%w: node %d has no %s", ErrMalformedObject, ev.ID, PropNodeName)
	}

	return Node{
		ID:              ev.ID,
		ApplicationName: ev.Props[PropApplicationName],
		NodeName:        nodeName,
	}, nil
}

func portFromGlobal(ev GlobalEvent) (Port, error) {
	var direction PortDirection
	switch ev.Props[PropPortDirection] {
	case "in":
		direction = PortDirectionIn
	case "out":
		direction = PortDirectionOut
	default:
		return Port{}, fmt.Errorf("%w: port %d has unexpected %s %q",
			ErrMalformedObject, ev.ID, PropPortDirection, ev.Props[PropPortDirection])
	}

	nodeID, err := uintProp(ev.Props, PropNodeID)
	if err != nil {
		return Port{}, fmt.Errorf("%w: port %d: %w", ErrMalformedObject, ev.ID, err)
	}

	portID, err := uintProp(ev.Props, PropPortID)
	if err != nil {
		return Port{}, fmt.Errorf("%w: port %d: %w", ErrMalformedObject, ev.ID, err)
	}

	return Port{
		ID:        ev.ID,
		NodeID:    nodeID,
		PortID:    portID,
		Direction: direction,
	}, nil
}

func uintProp(props Props, key string) (uint32, error) {
	raw, ok := props[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}

	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	return uint32(v), nil
}

// linkProps builds the link-factory properties for info
func linkProps(info LinkInfo) Props {
	return Props{
		PropLinkOutputNode: strconv.FormatUint(uint64(info.OutputNodeID), 10),
		PropLinkOutputPort: strconv.FormatUint(uint64(info.OutputPortID), 10),
		PropLinkInputNode:  strconv.FormatUint(uint64(info.InputNodeID), 10),
		PropLinkInputPort:  strconv.FormatUint(uint64(info.InputPortID), 10),
		PropObjectLinger:   "1",
	}
}
