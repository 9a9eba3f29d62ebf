package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/huangsam/feedmirror/schema"
)

// Health label constants.
const (
	HealthyValue  = "Healthy"  // valid and fresh
	StaleValue    = "Stale"    // valid but past the refresh interval
	DegradedValue = "Degraded" // served but failing integrity checks
	EmptyValue    = "Empty"    // nothing to serve
)

// Color variables for console output.
var (
	HealthyColor  = color.New(color.FgGreen)
	StaleColor    = color.New(color.FgYellow)
	DegradedColor = color.New(color.FgMagenta, color.Bold)
	EmptyColor    = color.New(color.FgRed, color.Bold)
)

// GetPlainLabel returns a plain text label summarizing cache health.
// This is the core logic used for JSON and table printing.
func GetPlainLabel(h schema.CacheHealth) string {
	switch {
	case h.Source == schema.FromEmpty || h.ItemCount == 0:
		return EmptyValue
	case !h.Valid:
		return DegradedValue
	case h.ShouldRefresh:
		return StaleValue
	default:
		return HealthyValue
	}
}

// GetColorLabel returns a colored text label for console output (table).
func GetColorLabel(h schema.CacheHealth) string {
	text := GetPlainLabel(h)

	switch text {
	case EmptyValue:
		return EmptyColor.Sprint(text)
	case DegradedValue:
		return DegradedColor.Sprint(text)
	case StaleValue:
		return StaleColor.Sprint(text)
	default:
		return HealthyColor.Sprint(text)
	}
}

// SelectOutputFile returns the appropriate file handle for output.
// An empty path selects os.Stdout.
func SelectOutputFile(filePath string) (*os.File, error) {
	if filePath == "" {
		return os.Stdout, nil
	}
	return os.Create(filePath)
}

// LogFatal logs an error and exits the program.
func LogFatal(msg string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Fatal %s: %v\n", msg, err)
	os.Exit(1)
}

// LogWarn logs a warning message to stderr.
func LogWarn(msg string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Warn %s: %v\n", msg, err)
}

// GetStoreDBFilePath returns the path to the SQLite DB file for snapshot storage.
func GetStoreDBFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".feedmirror_store.db"
	}
	return filepath.Join(homeDir, ".feedmirror_store.db")
}

// GetLedgerDBFilePath returns the path to the SQLite DB file for the run ledger.
func GetLedgerDBFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".feedmirror_ledger.db"
	}
	return filepath.Join(homeDir, ".feedmirror_ledger.db")
}

// ParseBoolString parses a string value into a boolean.
// Accepts "yes", "no", "true", "false", "1", "0" (case-insensitive).
// Returns an error for invalid values.
func ParseBoolString(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean string: %s (expected yes/no/true/false/1/0)", s)
	}
}
