package pipewire

import "fmt"

// handleMap hands out monotonically increasing keys starting at 1.
// A removed key is never handed out again.
type handleMap[V any] struct {
	entries map[LinkHandle]V
	last    LinkHandle
}

func newHandleMap[V any]() *handleMap[V] {
	return &handleMap[V]{
		entries: make(map[LinkHandle]V),
	}
}

func (m *handleMap[V]) insert(value V) LinkHandle {
	m.last++
	m.entries[m.last] = value

	return m.last
}

func (m *handleMap[V]) remove(handle LinkHandle) (V, bool) {
	value, ok := m.entries[handle]
	if ok {
		delete(m.entries, handle)
	}

	return value, ok
}

func (m *handleMap[V]) handles() []LinkHandle {
	handles := make([]LinkHandle, 0, len(m.entries))
	for handle := range m.entries {
		handles = append(handles, handle)
	}

	return handles
}

func (m *handleMap[V]) len() int {
	return len(m.entries)
}

// linkRegistry owns the real link objects, callers only ever see handles
type linkRegistry struct {
	links *handleMap[Object]
}

func newLinkRegistry() *linkRegistry {
	return &linkRegistry{links: newHandleMap[Object]()}
}

func (r *linkRegistry) create(conn Conn, info LinkInfo) (LinkHandle, error) {
	obj, err := conn.CreateObject(LinkFactory, linkProps(info))
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrServer, LinkFactory, err)
	}

	return r.links.insert(obj), nil
}

// remove forgets handle before asking the server to destroy the link,
// so a failed destroy still consumes the handle
func (r *linkRegistry) remove(conn Conn, handle LinkHandle) error {
	obj, ok := r.links.remove(handle)
	if !ok {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, handle)
	}

	if err := conn.DestroyObject(obj); err != nil {
		return fmt.Errorf("%w: destroy %s: %w", ErrServer, handle, err)
	}

	return nil
}
