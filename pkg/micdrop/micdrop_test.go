package micdrop

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/MixyLabs/micdrop/pkg/micdrop/pipewire"
	"github.com/MixyLabs/micdrop/pkg/micdrop/pipewire/pwtest"
)

const testExeName = "micdrop.test"

type mockOutput struct {
	mock.Mock
}

func (o *mockOutput) PlayFile(path string) error {
	return o.Called(path).Error(0)
}

func (o *mockOutput) SetVolume(volume float32) {
	o.Called(volume)
}

func (o *mockOutput) WaitUntilEnd() {
	o.Called()
}

func (o *mockOutput) Stop() {
	o.Called()
}

func (o *mockOutput) Close() error {
	return o.Called().Error(0)
}

// graph with our playback stream, two recording apps and a sink that is not a stream
func testGraph() []pipewire.GlobalEvent {
	return []pipewire.GlobalEvent{
		pwtest.NodeEvent(30, "Audio", "Stream/Output/Audio", testExeName, "playback"),
		pwtest.PortEvent(31, 30, 0, "out"),
		pwtest.PortEvent(32, 30, 1, "out"),
		pwtest.NodeEvent(40, "Audio", "Stream/Input/Audio", "Firefox", "webrtc"),
		pwtest.PortEvent(41, 40, 0, "in"),
		pwtest.NodeEvent(50, "Audio", "Stream/Input/Audio", "OBS", "obs-mic"),
		pwtest.PortEvent(51, 50, 0, "in"),
		pwtest.PortEvent(52, 50, 1, "in"),
		pwtest.NodeEvent(60, "Audio", "Audio/Sink", "", "speakers"),
		pwtest.PortEvent(61, 60, 0, "in"),
	}
}

type testRig struct {
	d        *MicDrop
	conn     *pwtest.Conn
	output   *mockOutput
	notifier *mockNotifier
	signals  chan os.Signal
}

func newTestRig(t *testing.T, conn *pwtest.Conn) *testRig {
	t.Helper()

	rig := newTestRigWithConfig(t, conn, zaptest.NewLogger(t).Sugar(), filepath.Join(t.TempDir(), "config.yaml"))

	rig.d.configMan.lock.Lock()
	rig.d.configMan.current.DiscoveryDelay = time.Millisecond
	rig.d.configMan.current.Volume = 0.8
	rig.d.configMan.lock.Unlock()

	return rig
}

func newTestRigWithConfig(t *testing.T, conn *pwtest.Conn, logger *zap.SugaredLogger, configPath string) *testRig {
	t.Helper()

	notifier := &mockNotifier{}

	configMan, err := NewConfig(logger, notifier, configPath)
	require.NoError(t, err)
	require.NoError(t, configMan.Load())

	rig := &testRig{
		conn:     conn,
		output:   &mockOutput{},
		notifier: notifier,
		signals:  make(chan os.Signal, 1),
	}

	rig.d = &MicDrop{
		logger:    logger,
		notifier:  notifier,
		configMan: configMan,
		exeName:   func() (string, error) { return testExeName, nil },
		openOutput: func(appName string, cfg Config) (AudioOutput, error) {
			require.Equal(t, testExeName, appName)
			return rig.output, nil
		},
		dial:       func(Config) (pipewire.Conn, error) { return rig.conn, nil },
		interrupts: rig.signals,
	}

	return rig
}

func (r *testRig) requireClosed(t *testing.T) {
	t.Helper()
	require.Eventually(t, r.conn.Closed, time.Second, time.Millisecond, "connection is closed on the way out")
}

func TestPlay_LinksPlaysAndUnlinks(t *testing.T) {
	rig := newTestRig(t, pwtest.NewConn(testGraph()...))
	rig.d.instanceLock = filepath.Join(t.TempDir(), "micdrop.pid")

	rig.output.On("SetVolume", float32(0.8)).Once()
	rig.output.On("PlayFile", "drop.wav").Return(nil).Once()
	rig.output.On("WaitUntilEnd").Run(func(mock.Arguments) {
		// links are in place while the file plays
		assert.Len(t, rig.conn.Created(), 3)
		assert.Empty(t, rig.conn.Destroyed())
		assert.FileExists(t, rig.d.instanceLock)
	}).Once()
	rig.output.On("Close").Return(nil).Once()

	require.NoError(t, rig.d.Play("drop.wav"))

	created := rig.conn.Created()
	require.Len(t, created, 3)
	for _, obj := range created {
		require.Equal(t, pipewire.LinkFactory, obj.Factory())
		require.Equal(t, "30", obj.Props[pipewire.PropLinkOutputNode])
		require.Equal(t, "0", obj.Props[pipewire.PropLinkOutputPort])
		require.NotEqual(t, "60", obj.Props[pipewire.PropLinkInputNode], "sinks are not linked")
	}

	require.ElementsMatch(t, created, rig.conn.Destroyed())
	rig.requireClosed(t)
	require.NoFileExists(t, rig.d.instanceLock)

	rig.output.AssertExpectations(t)
	rig.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestPlay_VolumeOverride(t *testing.T) {
	rig := newTestRig(t, pwtest.NewConn(testGraph()...))
	rig.d.SetVolumeOverride(0.3)

	rig.output.On("SetVolume", float32(0.3)).Once()
	rig.output.On("PlayFile", mock.Anything).Return(nil)
	rig.output.On("WaitUntilEnd")
	rig.output.On("Close").Return(nil)

	require.NoError(t, rig.d.Play("drop.wav"))
	rig.output.AssertExpectations(t)
}

func TestPlay_SelfNodeMissing(t *testing.T) {
	graph := testGraph()[3:]
	rig := newTestRig(t, pwtest.NewConn(graph...))

	rig.output.On("SetVolume", mock.Anything)
	rig.output.On("Close").Return(nil).Once()
	rig.notifier.On("Notify", "Playback failed!", mock.Anything).Once()

	err := rig.d.Play("drop.wav")
	require.ErrorIs(t, err, ErrSelfNodeNotFound)

	require.Empty(t, rig.conn.Created())
	rig.requireClosed(t)

	rig.output.AssertNotCalled(t, "PlayFile", mock.Anything)
	rig.output.AssertExpectations(t)
	rig.notifier.AssertExpectations(t)
}

func TestPlay_SelfOutputPortMissing(t *testing.T) {
	graph := append(testGraph()[:1], testGraph()[3:]...)
	rig := newTestRig(t, pwtest.NewConn(graph...))

	rig.output.On("SetVolume", mock.Anything)
	rig.output.On("Close").Return(nil)
	rig.notifier.On("Notify", mock.Anything, mock.Anything)

	err := rig.d.Play("drop.wav")
	require.ErrorIs(t, err, ErrSelfOutputPortNotFound)
	require.Empty(t, rig.conn.Created())
}

func TestPlay_RollsBackOnCreateFailure(t *testing.T) {
	conn := pwtest.NewConn(testGraph()...)
	conn.FailCreateAfter(2)
	rig := newTestRig(t, conn)

	rig.output.On("SetVolume", mock.Anything)
	rig.output.On("Close").Return(nil)
	rig.notifier.On("Notify", mock.Anything, mock.Anything)

	err := rig.d.Play("drop.wav")
	require.ErrorIs(t, err, pwtest.ErrInjected)
	require.ErrorIs(t, err, pipewire.ErrServer)

	require.Len(t, conn.Created(), 2)
	require.ElementsMatch(t, conn.Created(), conn.Destroyed(), "links created before the failure are removed")
	rig.requireClosed(t)

	rig.output.AssertNotCalled(t, "PlayFile", mock.Anything)
}

func TestPlay_UnlinksWhenPlaybackFails(t *testing.T) {
	rig := newTestRig(t, pwtest.NewConn(testGraph()...))

	rig.output.On("SetVolume", mock.Anything)
	rig.output.On("PlayFile", "missing.wav").Return(errors.New("no such file"))
	rig.output.On("Close").Return(nil)
	rig.notifier.On("Notify", mock.Anything, mock.Anything)

	require.Error(t, rig.d.Play("missing.wav"))

	require.Len(t, rig.conn.Created(), 3)
	require.ElementsMatch(t, rig.conn.Created(), rig.conn.Destroyed())
	rig.output.AssertNotCalled(t, "WaitUntilEnd")
}

func TestPlay_RemoveFailureIsReported(t *testing.T) {
	rig := newTestRig(t, pwtest.NewConn(testGraph()...))

	rig.output.On("SetVolume", mock.Anything)
	rig.output.On("PlayFile", mock.Anything).Return(nil)
	rig.output.On("WaitUntilEnd").Run(func(mock.Arguments) {
		rig.conn.FailDestroy(true)
	})
	rig.output.On("Close").Return(nil)
	rig.notifier.On("Notify", mock.Anything, mock.Anything)

	err := rig.d.Play("drop.wav")
	require.ErrorIs(t, err, pwtest.ErrInjected)
	require.Empty(t, rig.conn.Destroyed())
	rig.requireClosed(t)
}

func TestPlay_InterruptStopsPlayback(t *testing.T) {
	rig := newTestRig(t, pwtest.NewConn(testGraph()...))

	stopped := make(chan struct{})

	rig.output.On("SetVolume", mock.Anything)
	rig.output.On("PlayFile", mock.Anything).Return(nil)
	rig.output.On("WaitUntilEnd").Run(func(mock.Arguments) {
		rig.signals <- os.Interrupt
		<-stopped
	})
	rig.output.On("Stop").Run(func(mock.Arguments) {
		close(stopped)
	}).Once()
	rig.output.On("Close").Return(nil)

	require.NoError(t, rig.d.Play("drop.wav"))

	require.ElementsMatch(t, rig.conn.Created(), rig.conn.Destroyed())
	rig.output.AssertExpectations(t)
}

func TestPlay_ExecutableNameFailure(t *testing.T) {
	rig := newTestRig(t, pwtest.NewConn())
	rig.d.exeName = func() (string, error) { return "", errors.New("no process table") }
	rig.notifier.On("Notify", mock.Anything, mock.Anything)

	err := rig.d.Play("drop.wav")
	require.ErrorIs(t, err, ErrExecutableName)
	rig.output.AssertNotCalled(t, "Close")
}

func TestList(t *testing.T) {
	rig := newTestRig(t, pwtest.NewConn(testGraph()...))

	var out bytes.Buffer
	require.NoError(t, rig.d.List(&out))

	require.Equal(t, ""+
		"node 30\tplayback\t(micdrop.test)\n"+
		"  port 31\tout 0\n"+
		"  port 32\tout 1\n"+
		"node 40\twebrtc\t(Firefox)\n"+
		"  port 41\tin 0\n"+
		"node 50\tobs-mic\t(OBS)\n"+
		"  port 51\tin 0\n"+
		"  port 52\tin 1\n", out.String())

	rig.requireClosed(t)
}

// rewriteUntil keeps rewriting the config file until done reports true.
// The watcher ignores writes in its first half second and coalesces bursts.
func rewriteUntil(t *testing.T, path, contents string, done func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Errorf("rewrite config: %v", err)
			return false
		}

		for wait := time.Now().Add(200 * time.Millisecond); time.Now().Before(wait); time.Sleep(5 * time.Millisecond) {
			if done() {
				return true
			}
		}
	}

	return false
}

func TestPlay_ConfigVolumeAppliesLive(t *testing.T) {
	// the viper watcher outlives the test, keep it away from the test logger
	path := writeConfig(t, "volume: 0.8\ndiscovery_delay: 1ms\n")
	rig := newTestRigWithConfig(t, pwtest.NewConn(testGraph()...), zap.NewNop().Sugar(), path)

	applied := make(chan struct{})
	var once sync.Once

	rig.output.On("SetVolume", float32(0.8)).Once()
	rig.output.On("SetVolume", float32(0.4)).Run(func(mock.Arguments) {
		once.Do(func() { close(applied) })
	})
	rig.output.On("PlayFile", mock.Anything).Return(nil)
	rig.output.On("WaitUntilEnd").Run(func(mock.Arguments) {
		ok := rewriteUntil(t, path, "volume: 0.4\ndiscovery_delay: 1ms\n", func() bool {
			select {
			case <-applied:
				return true
			default:
				return false
			}
		})
		assert.True(t, ok, "volume from the rewritten config was not applied")
	})
	rig.output.On("Close").Return(nil)

	require.NoError(t, rig.d.Play("drop.wav"))
	rig.output.AssertCalled(t, "SetVolume", float32(0.4))
}

func TestPlay_ConfigVolumeIgnoredWhenPinned(t *testing.T) {
	path := writeConfig(t, "volume: 0.8\ndiscovery_delay: 1ms\n")
	rig := newTestRigWithConfig(t, pwtest.NewConn(testGraph()...), zap.NewNop().Sugar(), path)
	rig.d.SetVolumeOverride(0.3)

	rig.output.On("SetVolume", mock.Anything)
	rig.output.On("PlayFile", mock.Anything).Return(nil)
	rig.output.On("WaitUntilEnd").Run(func(mock.Arguments) {
		ok := rewriteUntil(t, path, "volume: 0.4\ndiscovery_delay: 1ms\n", func() bool {
			return rig.d.configMan.Current().Volume == 0.4
		})
		assert.True(t, ok, "config was not reloaded")

		// give the reload consumer a chance to act on it
		time.Sleep(100 * time.Millisecond)
	})
	rig.output.On("Close").Return(nil)

	require.NoError(t, rig.d.Play("drop.wav"))

	rig.output.AssertNumberOfCalls(t, "SetVolume", 1)
	rig.output.AssertCalled(t, "SetVolume", float32(0.3))
}
