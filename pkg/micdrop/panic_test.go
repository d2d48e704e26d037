package micdrop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MixyLabs/micdrop/pkg/micdrop/pipewire/pwtest"
)

func TestWriteCrashlog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2026, 10, 18, 9, 30, 15, 0, time.UTC)

	path, err := writeCrashlog(dir, now, crashReport{audioFile: "airhorn.mp3", activeLinks: 2}, "boom", []byte("goroutine 1 [running]:"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "micdrop-crash-2026.10.18-09.30.15.log"), path)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "Audio file:   airhorn.mp3")
	require.Contains(t, string(contents), "Active links: 2")
	require.Contains(t, string(contents), "Panic:        boom")
	require.Contains(t, string(contents), "goroutine 1 [running]:")
}

func TestPlay_CrashReportTracksLinks(t *testing.T) {
	rig := newTestRig(t, pwtest.NewConn(testGraph()...))

	rig.output.On("SetVolume", mock.Anything)
	rig.output.On("PlayFile", mock.Anything).Return(nil)
	rig.output.On("WaitUntilEnd").Run(func(mock.Arguments) {
		assert.Equal(t, crashReport{audioFile: "drop.wav", activeLinks: 3}, rig.d.crash)
	})
	rig.output.On("Close").Return(nil)

	require.NoError(t, rig.d.Play("drop.wav"))
	require.Equal(t, crashReport{audioFile: "drop.wav"}, rig.d.crash, "every link was removed")
}
