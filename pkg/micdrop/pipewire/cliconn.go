package pipewire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultDumpCommand = "pw-dump"
	DefaultCLICommand  = "pw-cli"

	globalsBacklog = 512

	defaultAnnounceTimeout = 5 * time.Second
)

// CLIConfig names the stock PipeWire tools CLIConn drives
type CLIConfig struct {
	DumpCommand string
	CLICommand  string
}

// CLIConn is a Conn backed by `pw-dump --monitor` for the registry stream and
// `pw-cli` for object creation and destruction. Objects created this way must
// carry object.linger, since every pw-cli invocation is its own short session.
type CLIConn struct {
	logger *zap.SugaredLogger
	cfg    CLIConfig

	dump       *exec.Cmd
	decoder    *json.Decoder
	globals    chan GlobalEvent
	stop       chan struct{}
	streamDone chan struct{}
	wg         sync.WaitGroup

	cli             func(args ...string) (string, error)
	announceTimeout time.Duration

	// globals seen on the registry stream. Links are keyed by node ids and
	// global port ids, the form the server announces them in.
	lk          sync.Mutex
	portIDs     map[portKey]uint32
	portByID    map[uint32]portKey
	linkIDs     map[linkKey]uint32
	linkByID    map[uint32]linkKey
	linkWaiters map[linkKey]chan uint32
	closed      bool
	closeOnce   sync.Once
}

type linkKey struct {
	outNode, outPort, inNode, inPort string
}

func (k linkKey) String() string {
	return fmt.Sprintf("%s:%s -> %s:%s", k.outNode, k.outPort, k.inNode, k.inPort)
}

// portKey locates a port by its node and node-local index
type portKey struct {
	node, port, direction string
}

func linkKeyFromProps(props Props) (linkKey, bool) {
	key := linkKey{
		outNode: props[PropLinkOutputNode],
		outPort: props[PropLinkOutputPort],
		inNode:  props[PropLinkInputNode],
		inPort:  props[PropLinkInputPort],
	}

	return key, key.outNode != "" && key.outPort != "" && key.inNode != "" && key.inPort != ""
}

type cliObject struct {
	factory string
	// global id of the link, zero for other factories
	id uint32
}

func (o *cliObject) Factory() string {
	return o.factory
}

// NewCLIConn starts the registry monitor and returns once the initial graph
// has been queued on Globals.
func NewCLIConn(logger *zap.SugaredLogger, cfg CLIConfig) (*CLIConn, error) {
	logger = logger.Named("cliconn")

	if cfg.DumpCommand == "" {
		cfg.DumpCommand = DefaultDumpCommand
	}
	if cfg.CLICommand == "" {
		cfg.CLICommand = DefaultCLICommand
	}

	dump := exec.Command(cfg.DumpCommand, "--monitor", "--no-colors")
	stdout, err := dump.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe %s output: %w", cfg.DumpCommand, err)
	}

	if err := dump.Start(); err != nil {
		logger.Warnw("Failed to start registry monitor", "command", cfg.DumpCommand, "error", err)
		return nil, fmt.Errorf("start %s: %w", cfg.DumpCommand, err)
	}

	c := newCLIConn(logger, cfg, stdout)
	c.dump = dump

	initial, err := c.nextBatch()
	if err != nil {
		_ = c.killDump()
		return nil, fmt.Errorf("read initial registry dump: %w", err)
	}

	c.start(initial)

	logger.Debugw("Created registry monitor", "initialObjects", len(initial))

	return c, nil
}

func newCLIConn(logger *zap.SugaredLogger, cfg CLIConfig, dump io.Reader) *CLIConn {
	c := &CLIConn{
		logger:          logger,
		cfg:             cfg,
		decoder:         json.NewDecoder(dump),
		stop:            make(chan struct{}),
		streamDone:      make(chan struct{}),
		announceTimeout: defaultAnnounceTimeout,
		portIDs:         make(map[portKey]uint32),
		portByID:        make(map[uint32]portKey),
		linkIDs:         make(map[linkKey]uint32),
		linkByID:        make(map[uint32]linkKey),
		linkWaiters:     make(map[linkKey]chan uint32),
	}
	c.decoder.UseNumber()
	c.cli = c.runCLI

	return c
}

// start queues the initial graph and follows the monitor from then on
func (c *CLIConn) start(initial []GlobalEvent) {
	// the initial graph fits in the buffer, so the first command sees all of it
	c.globals = make(chan GlobalEvent, len(initial)+globalsBacklog)
	for _, ev := range initial {
		c.globals <- ev
	}

	c.wg.Add(1)
	go c.readGlobals()
}

func (c *CLIConn) Globals() <-chan GlobalEvent {
	return c.globals
}

// CreateObject runs the factory through pw-cli. For links it returns only once
// the server has announced the new link, so it can always be destroyed again.
func (c *CLIConn) CreateObject(factory string, props Props) (Object, error) {
	if c.isClosed() {
		return nil, ErrConnClosed
	}

	encoded, err := encodeProps(props)
	if err != nil {
		return nil, err
	}

	key, isLink := linkKeyFromProps(props)
	if factory != LinkFactory || !isLink {
		if _, err := c.cli("create-object", factory, encoded); err != nil {
			return nil, err
		}
		return &cliObject{factory: factory}, nil
	}

	global, err := c.globalLinkKey(key)
	if err != nil {
		return nil, err
	}

	announced := c.expectLink(global)
	defer c.forgetLinkWaiter(global)

	if _, err := c.cli("create-object", factory, encoded); err != nil {
		return nil, err
	}

	id, err := c.awaitLink(global, announced)
	if err != nil {
		c.logger.Warnw("Created link was not announced", "link", global, "error", err)
		return nil, err
	}

	c.logger.Debugw("Link announced", "id", id, "link", global)

	return &cliObject{factory: factory, id: id}, nil
}

func (c *CLIConn) DestroyObject(obj Object) error {
	if c.isClosed() {
		return ErrConnClosed
	}

	o, ok := obj.(*cliObject)
	if !ok {
		return fmt.Errorf("destroy %s object: not created by this connection", obj.Factory())
	}
	if o.id == 0 {
		return fmt.Errorf("destroy %s object: global id cannot be resolved", o.factory)
	}

	c.lk.Lock()
	_, alive := c.linkByID[o.id]
	c.lk.Unlock()

	// the server drops links together with either of their nodes
	if !alive {
		c.logger.Debugw("Link already removed by the server", "id", o.id)
		return nil
	}

	if _, err := c.cli("destroy", strconv.FormatUint(uint64(o.id), 10)); err != nil {
		return err
	}

	return nil
}

func (c *CLIConn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.lk.Lock()
		c.closed = true
		c.lk.Unlock()

		close(c.stop)
		err = c.killDump()
		c.wg.Wait()

		c.logger.Debug("Closed registry monitor")
	})

	return err
}

func (c *CLIConn) isClosed() bool {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.closed
}

func (c *CLIConn) killDump() error {
	if c.dump == nil || c.dump.Process == nil {
		return nil
	}

	if err := c.dump.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop %s: %w", c.cfg.DumpCommand, err)
	}

	// the exit status of a killed monitor carries no information
	_ = c.dump.Wait()

	return nil
}

// globalLinkKey swaps the node-local port indexes the link factory takes for
// the global port ids the server reports on the created link
func (c *CLIConn) globalLinkKey(key linkKey) (linkKey, error) {
	c.lk.Lock()
	defer c.lk.Unlock()

	out, ok := c.portIDs[portKey{node: key.outNode, port: key.outPort, direction: "out"}]
	if !ok {
		return linkKey{}, fmt.Errorf("resolve output port %s of node %s: not announced by the server", key.outPort, key.outNode)
	}

	in, ok := c.portIDs[portKey{node: key.inNode, port: key.inPort, direction: "in"}]
	if !ok {
		return linkKey{}, fmt.Errorf("resolve input port %s of node %s: not announced by the server", key.inPort, key.inNode)
	}

	return linkKey{
		outNode: key.outNode,
		outPort: strconv.FormatUint(uint64(out), 10),
		inNode:  key.inNode,
		inPort:  strconv.FormatUint(uint64(in), 10),
	}, nil
}

// expectLink registers interest in the next announcement of key. It must be
// called before the link is created, an existing identical link is not ours.
func (c *CLIConn) expectLink(key linkKey) <-chan uint32 {
	ch := make(chan uint32, 1)

	c.lk.Lock()
	defer c.lk.Unlock()
	c.linkWaiters[key] = ch

	return ch
}

func (c *CLIConn) forgetLinkWaiter(key linkKey) {
	c.lk.Lock()
	defer c.lk.Unlock()
	delete(c.linkWaiters, key)
}

func (c *CLIConn) awaitLink(key linkKey, announced <-chan uint32) (uint32, error) {
	timer := time.NewTimer(c.announceTimeout)
	defer timer.Stop()

	select {
	case id := <-announced:
		return id, nil
	case <-c.streamDone:
		return 0, fmt.Errorf("await link %s: %w", key, ErrConnClosed)
	case <-c.stop:
		return 0, fmt.Errorf("await link %s: %w", key, ErrConnClosed)
	case <-timer.C:
		return 0, fmt.Errorf("await link %s: not announced within %s", key, c.announceTimeout)
	}
}

func (c *CLIConn) readGlobals() {
	defer c.wg.Done()
	defer close(c.globals)
	defer close(c.streamDone)

	for {
		batch, err := c.nextBatch()
		if err != nil {
			select {
			case <-c.stop:
			default:
				c.logger.Warnw("Registry monitor stopped", "error", err)
			}
			return
		}

		for _, ev := range batch {
			select {
			case c.globals <- ev:
			case <-c.stop:
				return
			}
		}
	}
}

type dumpObject struct {
	ID   uint32          `json:"id"`
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

type dumpInfo struct {
	Props map[string]any `json:"props"`
}

// nextBatch decodes one JSON array printed by the monitor
func (c *CLIConn) nextBatch() ([]GlobalEvent, error) {
	var objects []dumpObject
	if err := c.decoder.Decode(&objects); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnClosed
		}
		return nil, fmt.Errorf("decode registry dump: %w", err)
	}

	events := make([]GlobalEvent, 0, len(objects))
	for _, obj := range objects {
		ev, ok := c.toGlobalEvent(obj)
		if !ok {
			continue
		}
		c.trackGlobal(ev)
		events = append(events, ev)
	}

	return events, nil
}

func (c *CLIConn) toGlobalEvent(obj dumpObject) (GlobalEvent, bool) {
	// a removed object is printed as {"id": N, "info": null}
	if bytes.Equal(bytes.TrimSpace(obj.Info), []byte("null")) {
		return GlobalEvent{Kind: GlobalRemoved, ID: obj.ID}, true
	}

	// metadata and friends have no info block
	if len(obj.Info) == 0 {
		return GlobalEvent{}, false
	}

	var info dumpInfo
	dec := json.NewDecoder(bytes.NewReader(obj.Info))
	dec.UseNumber()
	if err := dec.Decode(&info); err != nil {
		c.logger.Warnw("Failed to decode object info", "id", obj.ID, "type", obj.Type, "error", err)
		return GlobalEvent{}, false
	}

	// updates without props carry nothing we track
	if info.Props == nil {
		return GlobalEvent{}, false
	}

	return GlobalEvent{
		Kind:  GlobalAdded,
		ID:    obj.ID,
		Type:  obj.Type,
		Props: normalizeProps(info.Props),
	}, true
}

// trackGlobal remembers ports and links so created links can be resolved to
// their global ids. It runs on the monitor goroutine.
func (c *CLIConn) trackGlobal(ev GlobalEvent) {
	c.lk.Lock()
	defer c.lk.Unlock()

	switch ev.Kind {
	case GlobalAdded:
		switch ev.Type {
		case ObjectTypePort:
			key := portKey{
				node:      ev.Props[PropNodeID],
				port:      ev.Props[PropPortID],
				direction: ev.Props[PropPortDirection],
			}
			if key.node == "" || key.port == "" || key.direction == "" {
				return
			}
			if old, ok := c.portByID[ev.ID]; ok {
				delete(c.portIDs, old)
			}
			c.portIDs[key] = ev.ID
			c.portByID[ev.ID] = key

		case ObjectTypeLink:
			key, ok := linkKeyFromProps(ev.Props)
			if !ok {
				return
			}
			c.linkIDs[key] = ev.ID
			c.linkByID[ev.ID] = key

			if waiter, ok := c.linkWaiters[key]; ok {
				select {
				case waiter <- ev.ID:
				default:
				}
			}
		}

	case GlobalRemoved:
		if key, ok := c.portByID[ev.ID]; ok {
			delete(c.portByID, ev.ID)
			if c.portIDs[key] == ev.ID {
				delete(c.portIDs, key)
			}
		}
		if key, ok := c.linkByID[ev.ID]; ok {
			delete(c.linkByID, ev.ID)
			if c.linkIDs[key] == ev.ID {
				delete(c.linkIDs, key)
			}
		}
	}
}

func (c *CLIConn) runCLI(args ...string) (string, error) {
	cmd := exec.Command(c.cfg.CLICommand, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		c.logger.Warnw("pw-cli call failed", "args", args, "stderr", msg, "error", err)
		return "", fmt.Errorf("%s %s: %w (%s)", c.cfg.CLICommand, args[0], err, msg)
	}

	// pw-cli reports some failures on stdout with a zero exit status
	output := strings.TrimSpace(string(out))
	if strings.HasPrefix(output, "Error:") {
		return "", fmt.Errorf("%s %s: %s", c.cfg.CLICommand, args[0], output)
	}

	c.logger.Debugw("pw-cli call", "args", args, "output", output)

	return output, nil
}

// normalizeProps flattens dump values to the string form the server stores them in
func normalizeProps(raw map[string]any) Props {
	props := make(Props, len(raw))

	for key, value := range raw {
		switch v := value.(type) {
		case string:
			props[key] = v
		case json.Number:
			props[key] = v.String()
		case bool:
			props[key] = strconv.FormatBool(v)
		case nil:
			continue
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			props[key] = string(encoded)
		}
	}

	return props
}

func encodeProps(props Props) (string, error) {
	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, key := range keys {
		k, err := json.Marshal(key)
		if err != nil {
			return "", fmt.Errorf("encode property %q: %w", key, err)
		}
		v, err := json.Marshal(props[key])
		if err != nil {
			return "", fmt.Errorf("encode property %q: %w", key, err)
		}

		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		sb.Write(k)
		sb.WriteString(": ")
		sb.Write(v)
	}
	sb.WriteString(" }")

	return sb.String(), nil
}
