package pipewire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubObject struct{ n int }

func (o *stubObject) Factory() string { return LinkFactory }

type stubConn struct {
	created   []Props
	destroyed []Object
	err       error
}

func (c *stubConn) Globals() <-chan GlobalEvent { return nil }

func (c *stubConn) CreateObject(factory string, props Props) (Object, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.created = append(c.created, props)
	return &stubObject{n: len(c.created)}, nil
}

func (c *stubConn) DestroyObject(obj Object) error {
	if c.err != nil {
		return c.err
	}
	c.destroyed = append(c.destroyed, obj)
	return nil
}

func (c *stubConn) Close() error { return nil }

func TestHandleMap_NeverReusesKeys(t *testing.T) {
	m := newHandleMap[string]()

	require.Equal(t, LinkHandle(1), m.insert("a"))
	require.Equal(t, LinkHandle(2), m.insert("b"))

	v, ok := m.remove(2)
	require.True(t, ok)
	require.Equal(t, "b", v)

	_, ok = m.remove(2)
	require.False(t, ok)

	require.Equal(t, LinkHandle(3), m.insert("c"), "a freed key is not handed out again")
	require.ElementsMatch(t, []LinkHandle{1, 3}, m.handles())
	require.Equal(t, 2, m.len())
}

func TestLinkRegistry_CreateSendsLinkFactoryProps(t *testing.T) {
	conn := &stubConn{}
	r := newLinkRegistry()

	handle, err := r.create(conn, LinkInfo{OutputNodeID: 1, OutputPortID: 0, InputNodeID: 2, InputPortID: 5})
	require.NoError(t, err)
	require.Equal(t, LinkHandle(1), handle)

	require.Equal(t, []Props{{
		PropLinkOutputNode: "1",
		PropLinkOutputPort: "0",
		PropLinkInputNode:  "2",
		PropLinkInputPort:  "5",
		PropObjectLinger:   "1",
	}}, conn.created)
}

func TestLinkRegistry_RemoveTwiceFails(t *testing.T) {
	conn := &stubConn{}
	r := newLinkRegistry()

	handle, err := r.create(conn, LinkInfo{})
	require.NoError(t, err)

	require.NoError(t, r.remove(conn, handle))
	require.ErrorIs(t, r.remove(conn, handle), ErrLinkNotFound)
	require.Len(t, conn.destroyed, 1)
}

func TestLinkRegistry_ServerFailures(t *testing.T) {
	boom := errors.New("boom")
	conn := &stubConn{}
	r := newLinkRegistry()

	handle, err := r.create(conn, LinkInfo{})
	require.NoError(t, err)

	conn.err = boom

	_, err = r.create(conn, LinkInfo{})
	require.ErrorIs(t, err, ErrServer)
	require.ErrorIs(t, err, boom)

	err = r.remove(conn, handle)
	require.ErrorIs(t, err, ErrServer)
	require.ErrorIs(t, r.remove(conn, handle), ErrLinkNotFound, "a failed destroy still consumes the handle")

	conn.err = nil
	next, err := r.create(conn, LinkInfo{})
	require.NoError(t, err)
	require.Equal(t, LinkHandle(2), next, "failed creations do not mint handles")
}
