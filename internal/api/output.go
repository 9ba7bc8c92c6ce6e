// Package api renders command results in the format selected by the
// root command's --output flag. Commands hand it plain structs; humans
// get text, scripts get yaml or json.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

// DefaultOutput is the default output format.
var DefaultOutput OutputFormat = OutputFormatText

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat OutputFormat = DefaultOutput

// SetOutputFormat sets the global output format.
func SetOutputFormat(format string) {
	switch format {
	case "json":
		globalOutputFormat = OutputFormatJSON
	case "yaml":
		globalOutputFormat = OutputFormatYAML
	case "text":
		globalOutputFormat = OutputFormatText
	default:
		globalOutputFormat = DefaultOutput
	}
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	return globalOutputFormat
}

// TextRenderer is implemented by result types that have a human layout.
// Types without one fall back to yaml under the text format.
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		return outputYAML(w, data)
	case OutputFormatText:
		if r, ok := data.(TextRenderer); ok {
			return r.RenderText(w)
		}
		return outputYAML(w, data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func outputYAML(w io.Writer, data any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(data)
}

// IsStructuredOutput returns true when the output format is yaml or json.
// Commands use it to suppress human-only hints that would corrupt a
// machine-readable stream.
func IsStructuredOutput() bool {
	return globalOutputFormat == OutputFormatJSON || globalOutputFormat == OutputFormatYAML
}
