// Package logging wires up the kernel's boot-time and runtime log
// output: logrus for structured leveled logging, lumberjack for
// rotating it to a file, and pkg/errors for wrapping errors that cross
// a package boundary on their way into a log line.
//
// Grounded on containerd-nydus-snapshotter/internal/logging's
// SetUp: level parse, text formatter with RFC3339Nano timestamps, and
// a stdout-or-rotating-file output switch.
package logging

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	// RFC3339NanoFixed keeps the fractional-second width constant so
	// log lines from different boots still line up in a column.
	RFC3339NanoFixed = "2006-01-02T15:04:05.000000000Z07:00"

	defaultLogFileName = "fennix-kernel.log"
)

// RotateArgs configures lumberjack's file rotation.
type RotateArgs struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	LocalTime  bool
	Compress   bool
}

// SetUp configures the package-global logrus logger: level, output
// destination (stdout or a rotating file under logDir), and the text
// formatter used throughout the kernel's log lines. cmd/kernel calls
// Quiet instead of SetUp when --quiet is given.
func SetUp(level string, toStdout bool, logDir string, rotate *RotateArgs) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}
	logrus.SetLevel(lvl)

	if toStdout {
		logrus.SetOutput(os.Stdout)
	} else {
		if rotate == nil {
			return errors.New("rotate args required when not logging to stdout")
		}
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return errors.Wrapf(err, "create log dir %s", logDir)
		}
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, defaultLogFileName),
			MaxSize:    rotate.MaxSizeMB,
			MaxBackups: rotate.MaxBackups,
			MaxAge:     rotate.MaxAgeDays,
			LocalTime:  rotate.LocalTime,
			Compress:   rotate.Compress,
		})
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: RFC3339NanoFixed,
		FullTimestamp:   true,
	})
	return nil
}

// Quiet suppresses boot log output entirely (cmdline's --quiet),
// short of disabling panic diagnostics, which always log regardless.
func Quiet() {
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err == nil {
		logrus.SetOutput(devnull)
	}
}
