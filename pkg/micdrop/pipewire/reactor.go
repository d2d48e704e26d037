package pipewire

import (
	"time"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

// reactor is the only goroutine allowed to call into the Conn or touch graph state.
// Each turn it either applies one registry event or runs one command to completion.
type reactor struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	conn    Conn
	globals <-chan GlobalEvent

	commands  <-chan command
	responses chan<- response
	done      chan struct{}

	state *projection
	links *linkRegistry
}

func newReactor(conn Conn, cfg *config, commands <-chan command, responses chan<- response) *reactor {
	logger := cfg.logger.Named("reactor")

	return &reactor{
		logger:    logger,
		metrics:   cfg.metrics,
		conn:      conn,
		globals:   conn.Globals(),
		commands:  commands,
		responses: responses,
		done:      make(chan struct{}),
		state:     newProjection(logger),
		links:     newLinkRegistry(),
	}
}

func (r *reactor) run() {
	defer close(r.done)
	defer r.closeConn()

	r.logger.Debug("Reactor loop starting")

	for {
		select {
		case ev, ok := <-r.globals:
			if !ok {
				r.onGlobalsClosed()
				continue
			}
			r.applyGlobal(ev)

		case cmd := <-r.commands:
			// a command observes every event delivered before it
			r.drainGlobals()

			resp := r.handle(cmd)

			if cmd.kind == cmdQuit {
				r.logger.Debug("Reactor loop stopping")
				r.responses <- resp
				return
			}

			// responses is buffered for the one outstanding command, so this never blocks
			r.responses <- resp
		}
	}
}

func (r *reactor) drainGlobals() {
	for {
		select {
		case ev, ok := <-r.globals:
			if !ok {
				r.onGlobalsClosed()
				return
			}
			r.applyGlobal(ev)
		default:
			return
		}
	}
}

func (r *reactor) onGlobalsClosed() {
	r.logger.Warn("Registry stream ended, server calls will fail from now on")

	// a nil channel blocks forever, commands keep being served
	r.globals = nil
}

func (r *reactor) applyGlobal(ev GlobalEvent) {
	if !r.state.apply(ev) {
		return
	}

	switch ev.Kind {
	case GlobalAdded:
		r.metrics.IncrCounterWithLabels(MetricGlobalAddedCount, 1, []metrics.Label{LabelType.M(ev.Type)})
		r.logger.Debugw("Global tracked", "id", ev.ID, "type", ev.Type)
	case GlobalRemoved:
		r.metrics.IncrCounter(MetricGlobalRemoveCount, 1)
		r.logger.Debugw("Global forgotten", "id", ev.ID)
	}

	r.metrics.SetGauge(MetricTrackedNodes, float32(len(r.state.nodes)))
	r.metrics.SetGauge(MetricTrackedPorts, float32(len(r.state.ports)))
}

// handle never lets a failure escape: it becomes the command's error response
func (r *reactor) handle(cmd command) response {
	start := time.Now()
	labels := []metrics.Label{LabelCommand.M(cmd.kind.String())}

	defer r.metrics.MeasureSinceWithLabels(MetricCommandDuration, start, labels)
	r.metrics.IncrCounterWithLabels(MetricCommandCount, 1, labels)

	resp := response{kind: cmd.kind}

	switch cmd.kind {
	case cmdQuit:
		if leaked := r.links.links.handles(); len(leaked) > 0 {
			r.logger.Warnw("Quitting with links still registered, they are left to the server",
				"handles", leaked)
		}

	case cmdListNodes:
		resp.nodes = r.state.nodeSnapshot()

	case cmdListPorts:
		resp.ports = r.state.portSnapshot()

	case cmdCreateLink:
		handle, err := r.links.create(r.conn, cmd.link)
		if err != nil {
			resp.err = err
			break
		}
		resp.handle = handle
		r.logger.Debugw("Link created", "handle", handle, "link", cmd.link)

	case cmdRemoveLink:
		if err := r.links.remove(r.conn, cmd.handle); err != nil {
			resp.err = err
			break
		}
		r.logger.Debugw("Link removed", "handle", cmd.handle)
	}

	r.metrics.SetGauge(MetricTrackedLinks, float32(r.links.links.len()))

	if resp.err != nil {
		r.metrics.IncrCounterWithLabels(MetricCommandErrorCount, 1, labels)
		r.logger.Warnw("Command failed", "command", cmd.kind, "error", resp.err)
		resp.err = &CommandError{Kind: cmd.kind, Err: resp.err}
	}

	return resp
}

func (r *reactor) closeConn() {
	if err := r.conn.Close(); err != nil {
		r.logger.Warnw("Failed to close server connection", "error", err)
	}
}
