// Package logging builds the structured logger shared by the engine components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/huangsam/feedmirror/schema"
	"github.com/sirupsen/logrus"
)

// New returns a logrus logger writing to out with the given level and format.
// Format is "text" or "json". A nil writer means os.Stderr.
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return logger, nil
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Component returns an entry tagged with the component name.
func Component(logger logrus.FieldLogger, name string) *logrus.Entry {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField("component", name)
}

// ForCollection returns an entry scoped to one collection of one project.
func ForCollection(logger logrus.FieldLogger, name string, ct schema.CollectionType, project string) *logrus.Entry {
	return Component(logger, name).WithFields(logrus.Fields{
		"collection": ct,
		"project":    project,
	})
}
