package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Color constants for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorGray   = "\033[37m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorPurple = "\033[35m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

// PrettyFormatter is a logrus.Formatter that outputs human-readable lines:
//
//	15:04:05.000 [INFO ] Downloaded file=out/a.png
type PrettyFormatter struct {
	// Colors enables ANSI escapes.
	Colors bool
}

// Format renders a single entry.
func (f *PrettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(f.paint(ColorDim, e.Time.Format("15:04:05.000")))
	buf.WriteByte(' ')
	buf.WriteString(f.formatLevel(e.Level))
	buf.WriteByte(' ')
	buf.WriteString(f.paint(ColorBold, e.Message))

	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf.WriteByte(' ')
			buf.WriteString(f.formatField(k, e.Data[k]))
		}
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (f *PrettyFormatter) paint(color, s string) string {
	if !f.Colors {
		return s
	}
	return color + s + ColorReset
}

// formatLevel returns a fixed-width, optionally colored level tag
func (f *PrettyFormatter) formatLevel(level logrus.Level) string {
	var color, levelStr string

	switch {
	case level <= logrus.ErrorLevel:
		color, levelStr = ColorRed, "ERROR"
	case level == logrus.WarnLevel:
		color, levelStr = ColorYellow, "WARN "
	case level == logrus.InfoLevel:
		color, levelStr = ColorGreen, "INFO "
	case level == logrus.DebugLevel:
		color, levelStr = ColorCyan, "DEBUG"
	default:
		color, levelStr = ColorGray, "TRACE"
	}

	return f.paint(color, "["+levelStr+"]")
}

func (f *PrettyFormatter) formatField(key string, value interface{}) string {
	var s string
	switch v := value.(type) {
	case error:
		s = v.Error()
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}
	if strings.ContainsAny(s, " \t\"") {
		s = fmt.Sprintf("%q", s)
	}
	if !f.Colors {
		return key + "=" + s
	}
	return ColorPurple + key + ColorReset + "=" + ColorCyan + s + ColorReset
}

// Options configures the process-wide logrus logger.
type Options struct {
	Level logrus.Level
	// Output receives console lines. Defaults to os.Stdout.
	Output io.Writer
	// Colors enables ANSI colors on Output.
	Colors bool
	// File, when set, additionally receives uncolored lines and is rotated.
	File string
}

// fileHook mirrors entries into a rotated log file.
type fileHook struct {
	w         io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fileHook) Fire(e *logrus.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init configures the standard logrus logger. The returned closer releases
// the log file, if any.
func Init(opts Options) io.Closer {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logrus.SetOutput(out)
	logrus.SetLevel(opts.Level)
	logrus.SetFormatter(&PrettyFormatter{Colors: opts.Colors})
	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))

	if opts.File == "" {
		return nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	logrus.AddHook(&fileHook{w: lj, formatter: &PrettyFormatter{}})
	return lj
}

// LevelForVerbosity maps the -v count to a logrus level.
func LevelForVerbosity(verbose int) logrus.Level {
	switch {
	case verbose <= 1:
		return logrus.InfoLevel
	case verbose == 2:
		return logrus.DebugLevel
	default: // 3 or more
		return logrus.TraceLevel
	}
}

// IsTerminal reports whether w looks like an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
