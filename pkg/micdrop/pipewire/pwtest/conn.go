// Package pwtest provides an in-memory pipewire.Conn for tests.
package pwtest

import (
	"errors"
	"strconv"
	"sync"

	"github.com/MixyLabs/micdrop/pkg/micdrop/pipewire"
)

var ErrInjected = errors.New("pwtest: injected failure")

// Object is what Conn hands back from CreateObject
type Object struct {
	Seq     int
	factory string
	Props   pipewire.Props
}

func (o *Object) Factory() string {
	return o.factory
}

// Conn records every server call.
// Events passed to NewConn are queued up front. On a Conn created without any,
// Emit blocks until the reactor has taken the event.
type Conn struct {
	globals chan pipewire.GlobalEvent

	mu          sync.Mutex
	created     []*Object
	destroyed   []*Object
	failCreate  bool
	createLimit int
	failDelete  bool
	closed      bool
	closeOnce   sync.Once
}

func NewConn(initial ...pipewire.GlobalEvent) *Conn {
	c := &Conn{
		globals:     make(chan pipewire.GlobalEvent, len(initial)),
		createLimit: -1,
	}
	for _, ev := range initial {
		c.globals <- ev
	}

	return c
}

func (c *Conn) Globals() <-chan pipewire.GlobalEvent {
	return c.globals
}

func (c *Conn) Emit(ev pipewire.GlobalEvent) {
	c.globals <- ev
}

// EndGlobals simulates the server closing the registry stream
func (c *Conn) EndGlobals() {
	c.closeOnce.Do(func() { close(c.globals) })
}

func NodeEvent(id uint32, mediaType, mediaClass, appName, nodeName string) pipewire.GlobalEvent {
	props := pipewire.Props{
		pipewire.PropMediaType:  mediaType,
		pipewire.PropMediaClass: mediaClass,
		pipewire.PropNodeName:   nodeName,
	}
	if appName != "" {
		props[pipewire.PropApplicationName] = appName
	}

	return pipewire.GlobalEvent{
		Kind:  pipewire.GlobalAdded,
		ID:    id,
		Type:  pipewire.ObjectTypeNode,
		Props: props,
	}
}

func PortEvent(id, nodeID, portID uint32, direction string) pipewire.GlobalEvent {
	return pipewire.GlobalEvent{
		Kind: pipewire.GlobalAdded,
		ID:   id,
		Type: pipewire.ObjectTypePort,
		Props: pipewire.Props{
			pipewire.PropNodeID:        strconv.FormatUint(uint64(nodeID), 10),
			pipewire.PropPortID:        strconv.FormatUint(uint64(portID), 10),
			pipewire.PropPortDirection: direction,
		},
	}
}

func (c *Conn) AddNode(id uint32, mediaType, mediaClass, appName, nodeName string) {
	c.Emit(NodeEvent(id, mediaType, mediaClass, appName, nodeName))
}

func (c *Conn) AddPort(id, nodeID, portID uint32, direction string) {
	c.Emit(PortEvent(id, nodeID, portID, direction))
}

func (c *Conn) Remove(id uint32) {
	c.Emit(pipewire.GlobalEvent{Kind: pipewire.GlobalRemoved, ID: id})
}

func (c *Conn) FailCreate(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCreate = fail
}

// FailCreateAfter lets n more creations succeed and fails the rest
func (c *Conn) FailCreateAfter(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createLimit = len(c.created) + n
}

func (c *Conn) FailDestroy(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failDelete = fail
}

func (c *Conn) CreateObject(factory string, props pipewire.Props) (pipewire.Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, pipewire.ErrConnClosed
	}
	if c.failCreate || (c.createLimit >= 0 && len(c.created) >= c.createLimit) {
		return nil, ErrInjected
	}

	obj := &Object{Seq: len(c.created), factory: factory, Props: props}
	c.created = append(c.created, obj)

	return obj, nil
}

func (c *Conn) DestroyObject(obj pipewire.Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return pipewire.ErrConnClosed
	}
	if c.failDelete {
		return ErrInjected
	}

	o, ok := obj.(*Object)
	if !ok {
		return errors.New("pwtest: foreign object")
	}
	for _, d := range c.destroyed {
		if d == o {
			return errors.New("pwtest: object destroyed twice")
		}
	}
	c.destroyed = append(c.destroyed, o)

	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	return nil
}

func (c *Conn) Created() []*Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Object(nil), c.created...)
}

func (c *Conn) Destroyed() []*Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Object(nil), c.destroyed...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
