// Package output renders scan reports to a stream.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gateway-fm/abisig/pkg/types"
)

// Writer renders file reports as they are produced. It satisfies the
// scanner's observer interface, so output streams while the scan runs.
type Writer struct {
	w      *bufio.Writer
	format types.OutputFormat
	err    error
}

// NewWriter creates a Writer for the given format. Unknown formats fall back
// to text.
func NewWriter(w io.Writer, format types.OutputFormat) *Writer {
	if format != types.FormatJSON {
		format = types.FormatText
	}
	return &Writer{w: bufio.NewWriter(w), format: format}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (types.OutputFormat, error) {
	switch f := types.OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case types.FormatText, types.FormatJSON:
		return f, nil
	case "":
		return types.FormatText, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: text, json)", s)
	}
}

// OnFile writes one report.
func (w *Writer) OnFile(report *types.FileReport) {
	if w.err != nil {
		return
	}
	switch w.format {
	case types.FormatJSON:
		w.err = w.writeJSON(report)
	default:
		w.err = w.writeText(report)
	}
	if w.err == nil {
		w.err = w.w.Flush()
	}
}

// OnDone flushes buffered output.
func (w *Writer) OnDone(types.ScanSummary) {
	if w.err == nil {
		w.err = w.w.Flush()
	}
}

// Err returns the first write error.
func (w *Writer) Err() error {
	return w.err
}

// writeText prints the file path, then "<signature> <selector>" per entry.
// Errors are not printed here; the scanner logs them.
func (w *Writer) writeText(report *types.FileReport) error {
	if _, err := fmt.Fprintln(w.w, report.Path); err != nil {
		return err
	}
	for _, d := range report.Entries {
		if _, err := fmt.Fprintf(w.w, "%s %s\n", d.Signature, d.Selector); err != nil {
			return err
		}
	}
	if report.Dispatch != nil && len(report.Dispatch.Missing) > 0 {
		for _, sig := range report.Dispatch.Missing {
			if _, err := fmt.Fprintf(w.w, "# not dispatched (%s): %s\n", report.Dispatch.Source, sig); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeJSON(report *types.FileReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.w.Write(data)
	return err
}
