// Package pipewire bridges blocking callers to a single goroutine that owns a
// session with the PipeWire server.
//
// The reactor goroutine is the only one that calls into the server connection
// or mutates the tracked nodes, ports and links. Callers talk to it through a
// Client, which sends one command and blocks for its one response. Nothing is
// shared between the two goroutines except the channels.
package pipewire

import (
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

// Client is a synchronous proxy to the reactor. It holds no state of its own.
//
// Only one command may be outstanding at a time: callers sharing a Client
// across goroutines must serialize access themselves.
type Client struct {
	commands  chan<- command
	responses <-chan response
	done      <-chan struct{}
}

// NewClient takes ownership of conn and starts the reactor goroutine.
// Call Quit to stop it.
func NewClient(conn Conn, opts ...Option) *Client {
	cfg := config{
		logger:  zap.NewNop().Sugar(),
		metrics: metrics.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.Named("pipewire")

	commands := make(chan command)
	responses := make(chan response, 1)

	r := newReactor(conn, &cfg, commands, responses)
	go r.run()

	cfg.logger.Debug("Created pipewire client")

	return &Client{
		commands:  commands,
		responses: responses,
		done:      r.done,
	}
}

// Quit stops the reactor once it has answered. Links still registered are not destroyed.
func (c *Client) Quit() error {
	resp, err := c.request(command{kind: cmdQuit})
	if err != nil {
		return err
	}

	return resp.expect(cmdQuit)
}

// ListNodes returns a snapshot of the audio stream nodes known right now
func (c *Client) ListNodes() ([]Node, error) {
	resp, err := c.request(command{kind: cmdListNodes})
	if err != nil {
		return nil, err
	}

	if err := resp.expect(cmdListNodes); err != nil {
		return nil, err
	}

	return resp.nodes, nil
}

// ListPorts returns a snapshot of every port known right now
func (c *Client) ListPorts() ([]Port, error) {
	resp, err := c.request(command{kind: cmdListPorts})
	if err != nil {
		return nil, err
	}

	if err := resp.expect(cmdListPorts); err != nil {
		return nil, err
	}

	return resp.ports, nil
}

func (c *Client) CreateLink(info LinkInfo) (LinkHandle, error) {
	resp, err := c.request(command{kind: cmdCreateLink, link: info})
	if err != nil {
		return 0, err
	}

	if err := resp.expect(cmdCreateLink); err != nil {
		return 0, err
	}

	return resp.handle, nil
}

// RemoveLink destroys the link behind handle. Removing an unknown or already
// removed handle fails with ErrLinkNotFound.
func (c *Client) RemoveLink(handle LinkHandle) error {
	resp, err := c.request(command{kind: cmdRemoveLink, handle: handle})
	if err != nil {
		return err
	}

	return resp.expect(cmdRemoveLink)
}

func (c *Client) request(cmd command) (response, error) {
	select {
	case c.commands <- cmd:
	case <-c.done:
		return response{}, ErrSend
	}

	select {
	case resp := <-c.responses:
		return resp, nil
	case <-c.done:
		// the reactor answers before it stops, prefer that answer
		select {
		case resp := <-c.responses:
			return resp, nil
		default:
			return response{}, ErrRecv
		}
	}
}
