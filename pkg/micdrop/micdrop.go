// Package micdrop plays an audio file into every application that is
// currently recording, by linking its own PipeWire stream to their inputs.
package micdrop

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/nightlyone/lockfile"
	"go.uber.org/zap"

	"github.com/MixyLabs/micdrop/pkg/micdrop/pipewire"
	"github.com/MixyLabs/micdrop/pkg/micdrop/player"
	"github.com/MixyLabs/micdrop/pkg/micdrop/util"
)

const instanceLockFilename = "micdrop.pid"

// AudioOutput is the playback side, implemented by player.Player
type AudioOutput interface {
	PlayFile(path string) error
	SetVolume(volume float32)
	WaitUntilEnd()
	Stop()
	Close() error
}

// MicDrop is the main entity managing all subcomponents
type MicDrop struct {
	logger    *zap.SugaredLogger
	notifier  Notifier
	toast     *ToastNotifier
	configMan *ConfigManager
	metrics   *metrics.Metrics
	sink      *metrics.InmemSink

	exeName    func() (string, error)
	openOutput func(appName string, cfg Config) (AudioOutput, error)
	dial       func(cfg Config) (pipewire.Conn, error)
	interrupts <-chan os.Signal

	// empty skips the single instance check
	instanceLock string

	volumeOverride *float32
	verbose        bool

	crash crashReport
}

func NewMicDrop(logger *zap.SugaredLogger, configFilepath string, verbose bool) (*MicDrop, error) {
	logger = logger.Named("micdrop")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier, configFilepath)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	metricsConfig := metrics.DefaultConfig("micdrop")
	metricsConfig.EnableHostname = false
	metricsConfig.EnableRuntimeMetrics = false

	m, err := metrics.New(metricsConfig, sink)
	if err != nil {
		logger.Errorw("Failed to create metrics", "error", err)
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	d := &MicDrop{
		logger:     logger,
		notifier:   notifier,
		toast:      notifier,
		configMan:  config,
		metrics:    m,
		sink:       sink,
		exeName:    util.ExecutableName,
		openOutput: openPlayer(logger),
		dial:       dialCLI(logger),
		interrupts: util.SetupCloseHandler(),
		verbose:    verbose,

		instanceLock: filepath.Join(os.TempDir(), instanceLockFilename),
	}

	logger.Debug("Created micdrop instance")

	return d, nil
}

func openPlayer(logger *zap.SugaredLogger) func(string, Config) (AudioOutput, error) {
	return func(appName string, cfg Config) (AudioOutput, error) {
		return player.New(logger, player.Options{
			ApplicationName: appName,
			Latency:         cfg.PlaybackLatency,
		})
	}
}

func dialCLI(logger *zap.SugaredLogger) func(Config) (pipewire.Conn, error) {
	return func(cfg Config) (pipewire.Conn, error) {
		return pipewire.NewCLIConn(logger, pipewire.CLIConfig{
			DumpCommand: cfg.PipeWire.DumpCommand,
			CLICommand:  cfg.PipeWire.CLICommand,
		})
	}
}

// Initialize loads the config. It must be called before Play or List.
func (d *MicDrop) Initialize() error {
	d.logger.Debug("Initializing")

	if err := d.configMan.Load(); err != nil {
		d.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	if d.toast != nil {
		d.toast.SetEnabled(d.configMan.Current().Notifications)
	}

	return nil
}

// SetVolumeOverride pins the volume, config reloads no longer change it
func (d *MicDrop) SetVolumeOverride(volume float32) {
	d.volumeOverride = &volume
}

func (d *MicDrop) volume(cfg Config) float32 {
	if d.volumeOverride != nil {
		return *d.volumeOverride
	}

	return cfg.Volume
}

// Play links our stream into every capture stream, plays audioFile through it
// and tears the links down again
func (d *MicDrop) Play(audioFile string) (err error) {
	defer d.recoverFromPanic()

	defer func() {
		if err != nil {
			d.notifier.Notify("Playback failed!", err.Error())
		}
		d.logMetrics()
	}()

	if d.instanceLock != "" {
		release, err := util.AcquireInstanceLock(d.instanceLock)
		if err != nil {
			d.logger.Errorw("Failed to acquire instance lock", "path", d.instanceLock, "error", err)
			if errors.Is(err, lockfile.ErrBusy) {
				return fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
			}
			return err
		}

		defer func() {
			if unlockErr := release(); unlockErr != nil {
				d.logger.Warnw("Failed to release instance lock", "path", d.instanceLock, "error", unlockErr)
			}
		}()
	}

	d.crash = crashReport{audioFile: audioFile}

	cfg := d.configMan.Current()

	exeName, err := d.exeName()
	if err != nil {
		d.logger.Errorw("Failed to resolve executable name", "error", err)
		return fmt.Errorf("%w: %w", ErrExecutableName, err)
	}

	d.logger.Debugw("Resolved executable name", "name", exeName)

	output, err := d.openOutput(exeName, cfg)
	if err != nil {
		d.logger.Errorw("Failed to open audio output", "error", err)
		return fmt.Errorf("open audio output: %w", err)
	}

	defer func() {
		if closeErr := output.Close(); closeErr != nil {
			d.logger.Warnw("Failed to close audio output", "error", closeErr)
		}
	}()

	output.SetVolume(d.volume(cfg))

	client, err := d.connect(cfg)
	if err != nil {
		return err
	}

	defer func() {
		if quitErr := client.Quit(); quitErr != nil {
			d.logger.Warnw("Failed to stop graph client", "error", quitErr)
			err = errors.Join(err, fmt.Errorf("quit graph client: %w", quitErr))
		}
	}()

	handles, err := d.linkToCaptureStreams(client, exeName)
	if err != nil {
		d.logger.Errorw("Failed to link to capture streams", "error", err)
		return fmt.Errorf("link to capture streams: %w", err)
	}

	d.crash.activeLinks = len(handles)

	defer func() {
		removeErr := d.removeLinks(client, handles)
		if removeErr != nil {
			err = errors.Join(err, removeErr)
			return
		}
		d.crash.activeLinks = 0
	}()

	if err := output.PlayFile(audioFile); err != nil {
		d.logger.Errorw("Failed to play audio file", "path", audioFile, "error", err)
		return fmt.Errorf("play %s: %w", audioFile, err)
	}

	stopVolumeUpdates := d.followVolume(output)
	defer stopVolumeUpdates()

	d.waitForPlayback(output)

	return nil
}

// List prints the stream nodes and their ports
func (d *MicDrop) List(w io.Writer) (err error) {
	defer d.logMetrics()

	cfg := d.configMan.Current()

	client, err := d.connect(cfg)
	if err != nil {
		return err
	}

	defer func() {
		if quitErr := client.Quit(); quitErr != nil {
			err = errors.Join(err, fmt.Errorf("quit graph client: %w", quitErr))
		}
	}()

	nodes, err := client.ListNodes()
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}

	ports, err := client.ListPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}

	for _, node := range nodes {
		fmt.Fprintf(w, "node %d\t%s\t(%s)\n", node.ID, node.NodeName, node.ApplicationName)

		for _, port := range ports {
			if port.NodeID == node.ID {
				fmt.Fprintf(w, "  port %d\t%s %d\n", port.ID, port.Direction, port.PortID)
			}
		}
	}

	return nil
}

// connect opens the server session and gives the registry time to announce the graph
func (d *MicDrop) connect(cfg Config) (*pipewire.Client, error) {
	conn, err := d.dial(cfg)
	if err != nil {
		d.logger.Errorw("Failed to connect to PipeWire", "error", err)
		return nil, fmt.Errorf("connect to pipewire: %w", err)
	}

	client := pipewire.NewClient(conn,
		pipewire.WithLogger(d.logger),
		pipewire.WithMetrics(d.metrics))

	if cfg.DiscoveryDelay > 0 {
		d.logger.Debugw("Waiting for graph discovery", "delay", cfg.DiscoveryDelay)
		time.Sleep(cfg.DiscoveryDelay)
	}

	return client, nil
}

// followVolume applies volume changes from config reloads until the returned func is called
func (d *MicDrop) followVolume(output AudioOutput) func() {
	reloaded := d.configMan.SubscribeToChanges()
	stop := make(chan struct{})
	done := make(chan struct{})

	go d.configMan.WatchConfigFileChanges()

	go func() {
		defer close(done)

		for {
			select {
			case <-stop:
				return
			case <-reloaded:
				if d.volumeOverride != nil {
					d.logger.Debug("Config reloaded, volume pinned from the command line")
					continue
				}

				volume := d.configMan.Current().Volume
				output.SetVolume(volume)
				d.logger.Infow("Applied volume from reloaded config", "volume", volume)
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		d.configMan.StopWatchingConfigFile()
	}
}

func (d *MicDrop) waitForPlayback(output AudioOutput) {
	finished := make(chan struct{})

	go func() {
		output.WaitUntilEnd()
		close(finished)
	}()

	select {
	case <-finished:
		d.logger.Info("Playback finished")
	case signal := <-d.interrupts:
		d.logger.Infow("Interrupted, stopping playback", "signal", signal)
		output.Stop()
		<-finished
	}
}

func (d *MicDrop) logMetrics() {
	if !d.verbose || d.sink == nil {
		return
	}

	for _, interval := range d.sink.Data() {
		interval.RLock()
		for _, counter := range interval.Counters {
			d.logger.Debugw("Counter", "name", counter.Name, "count", counter.Count, "sum", counter.Sum)
		}
		for _, gauge := range interval.Gauges {
			d.logger.Debugw("Gauge", "name", gauge.Name, "value", gauge.Value)
		}
		interval.RUnlock()
	}
}
