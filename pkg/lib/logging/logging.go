// Package logging configures the diagnostic output of init.
//
// Init has no log files and no structured protocol: every diagnostic is a
// human-readable line on stdout, prefixed so it can be told apart from the
// output of the rc scripts sharing the console.
package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultPrefix = "Init: "

// Formatter renders entries as plain "Init: message" lines. Fields are only
// rendered when the logger runs at debug level.
type Formatter struct {
	Prefix string
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	prefix := f.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	var b strings.Builder
	b.WriteString(prefix)
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		b.WriteString("ERROR: ")
	case logrus.WarnLevel:
		b.WriteString("WARNING: ")
	}
	b.WriteString(strings.TrimRight(entry.Message, "\n"))

	if entry.Logger != nil && entry.Logger.IsLevelEnabled(logrus.DebugLevel) && len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(fieldValue(entry.Data[k]))
		}
	}
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

func fieldValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, " \t\"") {
			return `"` + strings.ReplaceAll(val, `"`, `\"`) + `"`
		}
		return val
	case error:
		return fieldValue(val.Error())
	default:
		return fieldValue(fmt.Sprint(val))
	}
}

// Setup points the standard logrus logger, shared by every package-level
// logger in this module, at out.
func Setup(out io.Writer, debug bool) {
	Configure(logrus.StandardLogger(), out, debug)
}

// Configure applies the init output settings to l.
func Configure(l *logrus.Logger, out io.Writer, debug bool) {
	l.SetOutput(out)
	l.SetFormatter(&Formatter{})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
}

// For returns the entry a package logs through.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
