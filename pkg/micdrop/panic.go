package micdrop

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/MixyLabs/micdrop/pkg/micdrop/util"
)

const (
	crashlogFilename        = "micdrop-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"

	crashMessage = `micdrop crashed while playing into recording applications.
If the crash repeats, please attach this file to an issue at
https://github.com/MixyLabs/micdrop/issues/new

Time:         %s
Audio file:   %s
Active links: %d
Panic:        %v

%s
`
)

// crashReport is what Play knows at the moment it panics
type crashReport struct {
	audioFile   string
	activeLinks int
}

// writeCrashlog stores the report in dir and returns the file path
func writeCrashlog(dir string, now time.Time, report crashReport, r any, stack []byte) (string, error) {
	if err := util.EnsureDirExists(dir); err != nil {
		return "", fmt.Errorf("ensure crashlog dir exists: %w", err)
	}

	stamp := now.Format(crashlogTimestampFormat)
	contents := fmt.Sprintf(crashMessage, stamp, report.audioFile, report.activeLinks, r, stack)
	path := filepath.Join(dir, fmt.Sprintf(crashlogFilename, stamp))

	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return "", fmt.Errorf("write crashlog: %w", err)
	}

	return path, nil
}

// recoverFromPanic is Play's outermost defer. By the time it runs the other
// defers have already tried to remove our links and close the session, so
// activeLinks counts the links that could not be removed.
func (d *MicDrop) recoverFromPanic() {
	r := recover()

	if r == nil {
		return
	}

	crashlogPath, err := writeCrashlog(logDirectory, time.Now(), d.crash, r, debug.Stack())
	if err != nil {
		panic(fmt.Errorf("%w (while handling panic: %v)", err, r))
	}

	d.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"audioFile", d.crash.audioFile,
		"activeLinks", d.crash.activeLinks,
		"error", r)

	d.notifier.Notify("micdrop crashed",
		fmt.Sprintf("%d links may still be active. Details in %s", d.crash.activeLinks, crashlogPath))

	d.logger.Errorw("Quitting", "exitCode", 1)
	os.Exit(1)
}
