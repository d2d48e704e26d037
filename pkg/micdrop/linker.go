package micdrop

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/MixyLabs/micdrop/pkg/micdrop/pipewire"
)

// GraphClient is the part of pipewire.Client the linker needs
type GraphClient interface {
	ListNodes() ([]pipewire.Node, error)
	ListPorts() ([]pipewire.Port, error)
	CreateLink(info pipewire.LinkInfo) (pipewire.LinkHandle, error)
	RemoveLink(handle pipewire.LinkHandle) error
}

// findSelfNode matches nodes by application name containing exeName.
// This is a loose heuristic: another program whose name contains ours would match too.
func findSelfNode(nodes []pipewire.Node, exeName string) (pipewire.Node, error) {
	found := funk.Find(nodes, func(node pipewire.Node) bool {
		return node.ApplicationName != "" && strings.Contains(node.ApplicationName, exeName)
	})

	if found == nil {
		return pipewire.Node{}, fmt.Errorf("%w: looked for application name containing %q among %d nodes",
			ErrSelfNodeNotFound, exeName, len(nodes))
	}

	return found.(pipewire.Node), nil
}

// planLinks connects our first output port to every input port of the other stream nodes
func planLinks(self pipewire.Node, nodes []pipewire.Node, ports []pipewire.Port) ([]pipewire.LinkInfo, error) {
	found := funk.Find(ports, func(port pipewire.Port) bool {
		return port.NodeID == self.ID && port.Direction == pipewire.PortDirectionOut
	})
	if found == nil {
		return nil, fmt.Errorf("%w: node %d (%s)", ErrSelfOutputPortNotFound, self.ID, self.NodeName)
	}
	selfOut := found.(pipewire.Port)

	streamNodeIDs := funk.Map(nodes, func(node pipewire.Node) uint32 {
		return node.ID
	}).([]uint32)

	targets := funk.Filter(ports, func(port pipewire.Port) bool {
		return port.Direction == pipewire.PortDirectionIn &&
			port.NodeID != self.ID &&
			funk.Contains(streamNodeIDs, port.NodeID)
	}).([]pipewire.Port)

	links := make([]pipewire.LinkInfo, 0, len(targets))
	for _, target := range targets {
		links = append(links, pipewire.NewLinkInfo(selfOut, target))
	}

	return links, nil
}

// createLinks creates every planned link. On failure the links created so far
// are removed again before the error is returned.
func (d *MicDrop) createLinks(client GraphClient, infos []pipewire.LinkInfo) ([]pipewire.LinkHandle, error) {
	handles := make([]pipewire.LinkHandle, 0, len(infos))

	for _, info := range infos {
		handle, err := client.CreateLink(info)
		if err != nil {
			d.logger.Warnw("Failed to create link, rolling back", "link", info, "created", len(handles), "error", err)

			if rollbackErr := d.removeLinks(client, handles); rollbackErr != nil {
				return nil, fmt.Errorf("create link: %w", errors.Join(err, rollbackErr))
			}

			return nil, fmt.Errorf("create link: %w", err)
		}

		d.logger.Debugw("Created link", "handle", handle, "link", info)
		handles = append(handles, handle)
	}

	return handles, nil
}

// removeLinks tries every handle even if some fail
func (d *MicDrop) removeLinks(client GraphClient, handles []pipewire.LinkHandle) error {
	var errs []error

	for _, handle := range handles {
		if err := client.RemoveLink(handle); err != nil {
			d.logger.Warnw("Failed to remove link", "handle", handle, "error", err)
			errs = append(errs, err)
			continue
		}

		d.logger.Debugw("Removed link", "handle", handle)
	}

	if len(errs) > 0 {
		return fmt.Errorf("remove %d of %d links: %w", len(errs), len(handles), errors.Join(errs...))
	}

	return nil
}

// linkToCaptureStreams finds our own stream and links it to every capture stream
func (d *MicDrop) linkToCaptureStreams(client GraphClient, exeName string) ([]pipewire.LinkHandle, error) {
	nodes, err := client.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	self, err := findSelfNode(nodes, exeName)
	if err != nil {
		d.logger.Warnw("Failed to find own audio stream", "executable", exeName, "nodes", len(nodes))
		return nil, err
	}

	d.logger.Infow("Found own audio stream", "node", self.ID, "nodeName", self.NodeName, "application", self.ApplicationName)

	ports, err := client.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}

	infos, err := planLinks(self, nodes, ports)
	if err != nil {
		return nil, err
	}

	if len(infos) == 0 {
		d.logger.Info("No capture streams to link to")
		return nil, nil
	}

	handles, err := d.createLinks(client, infos)
	if err != nil {
		return nil, err
	}

	d.logger.Infow("Linked to capture streams", "links", len(handles))

	return handles, nil
}
