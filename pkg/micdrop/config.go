package micdrop

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MixyLabs/micdrop/pkg/micdrop/util"
)

type ConfigManager struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig     *viper.Viper
	configFilepath string

	lock    sync.Mutex
	current Config
}

type Config struct {
	Volume          float32       `mapstructure:"volume"`
	DiscoveryDelay  time.Duration `mapstructure:"discovery_delay"`
	PlaybackLatency time.Duration `mapstructure:"playback_latency"`
	Notifications   bool          `mapstructure:"notifications"`

	PipeWire struct {
		DumpCommand string `mapstructure:"dump_command"`
		CLICommand  string `mapstructure:"cli_command"`
	} `mapstructure:"pipewire"`
}

const (
	userConfigFilepath = "config.yaml"

	configType = "yaml"

	configKeyVolume          = "volume"
	configKeyDiscoveryDelay  = "discovery_delay"
	configKeyPlaybackLatency = "playback_latency"
	configKeyNotifications   = "notifications"
	configKeyDumpCommand     = "pipewire.dump_command"
	configKeyCLICommand      = "pipewire.cli_command"

	defaultVolume          = 1.0
	defaultDiscoveryDelay  = 250 * time.Millisecond
	defaultPlaybackLatency = 100 * time.Millisecond
)

func NewConfig(logger *zap.SugaredLogger, notifier Notifier, configFilepath string) (*ConfigManager, error) {
	logger = logger.Named("config")

	if configFilepath == "" {
		configFilepath = userConfigFilepath
	}

	cc := &ConfigManager{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
		configFilepath:     configFilepath,
	}

	userConfig := viper.New()
	userConfig.SetConfigFile(configFilepath)
	userConfig.SetConfigType(configType)

	userConfig.SetDefault(configKeyVolume, defaultVolume)
	userConfig.SetDefault(configKeyDiscoveryDelay, defaultDiscoveryDelay)
	userConfig.SetDefault(configKeyPlaybackLatency, defaultPlaybackLatency)
	userConfig.SetDefault(configKeyNotifications, true)
	userConfig.SetDefault(configKeyDumpCommand, "pw-dump")
	userConfig.SetDefault(configKeyCLICommand, "pw-cli")

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads the config file if there is one, defaults cover everything else
func (cc *ConfigManager) Load() error {
	cc.logger.Debugw("Loading config", "path", cc.configFilepath)

	if !util.FileExists(cc.configFilepath) {
		cc.logger.Infow("Config file not found, using defaults", "path", cc.configFilepath)
	} else if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		// if the error is yaml-format-related, show a sensible error. otherwise, show 'em to the logs
		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", filepath.Base(cc.configFilepath)))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check micdrop's logs for more details.")
		}

		return fmt.Errorf("read user config: %w", err)
	}

	// canonize the configuration with viper's helpers
	if err := cc.populateFromViper(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		return fmt.Errorf("populate config fields: %w", err)
	}

	current := cc.Current()

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"volume", current.Volume,
		"discoveryDelay", current.DiscoveryDelay,
		"playbackLatency", current.PlaybackLatency,
		"dumpCommand", current.PipeWire.DumpCommand,
		"cliCommand", current.PipeWire.CLICommand)

	return nil
}

// Current returns a copy of the most recently loaded config
func (cc *ConfigManager) Current() Config {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	return cc.current
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *ConfigManager) SubscribeToChanges() chan bool {
	c := make(chan bool, 1)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *ConfigManager) WatchConfigFileChanges() {
	if !util.FileExists(cc.configFilepath) {
		cc.logger.Debugw("No config file to watch", "path", cc.configFilepath)
		<-cc.stopWatcherChannel
		return
	}

	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.configFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write == fsnotify.Write {
			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.onConfigReloaded()
				}

				lastAttemptedReload = now
			}
		}
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *ConfigManager) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true
}

func (cc *ConfigManager) populateFromViper() error {
	var next Config

	err := cc.userConfig.Unmarshal(&next, func(dConf *mapstructure.DecoderConfig) {
		dConf.WeaklyTypedInput = false
		dConf.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	})
	if err != nil {
		return err
	}

	if next.Volume < 0 {
		return fmt.Errorf("volume must not be negative, got %v", next.Volume)
	}

	cc.lock.Lock()
	cc.current = next
	cc.lock.Unlock()

	cc.logger.Debug("Populated config fields from viper")

	return nil
}

func (cc *ConfigManager) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	// a consumer that hasn't caught up yet will read the newest config anyway
	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- true:
		default:
		}
	}
}
