package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gateway-fm/abisig/pkg/types"
)

// Wire shapes of the directory API that have no type in pkg/types.
type signatureRecord struct {
	Selector  string `json:"selector"`
	Signature string `json:"signature"`
	Kind      string `json:"kind"`
	Topic     string `json:"topic"`
	Source    string `json:"source"`
}

type signaturePage struct {
	Signatures []signatureRecord `json:"signatures"`
	Total      int               `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

type collision struct {
	Selector   string   `json:"selector"`
	Signatures []string `json:"signatures"`
}

type sourceRecord struct {
	Path      string    `json:"path"`
	ScannedAt time.Time `json:"scannedAt"`
	Entries   int       `json:"entries"`
	Errors    int       `json:"errors"`
	Error     string    `json:"error"`
}

type sourcePage struct {
	Sources []sourceRecord `json:"sources"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

type readiness struct {
	Ready  bool `json:"ready"`
	Checks []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error"`
	} `json:"checks"`
}

// formatNumber adds comma separators to integers.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	if neg {
		result.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		result.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

// pageRange renders "1-50 of 120".
func pageRange(offset, n, total int) string {
	if n == 0 {
		return fmt.Sprintf("0 of %s", formatNumber(total))
	}
	return fmt.Sprintf("%d-%d of %s", offset+1, offset+n, formatNumber(total))
}

func formatDerived(raw json.RawMessage) string {
	var d types.Derived
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Sprintf("Error parsing derived signature: %v", err)
	}
	lines := joinLines(
		section("Derived Selector"),
		kv("Signature", d.Signature),
		kv("Kind", d.Kind),
		kv("Selector", d.Selector),
	)
	if d.Topic != "" {
		lines += "\n" + kv("Topic", d.Topic)
	}
	return lines
}

func formatLookup(selector string, raw json.RawMessage) string {
	var recs []signatureRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return fmt.Sprintf("Error parsing lookup: %v", err)
	}
	lines := section("Selector " + selector)
	for _, r := range recs {
		line := fmt.Sprintf("  %-8s %s", r.Kind, r.Signature)
		if r.Source != "" {
			line += "  (" + r.Source + ")"
		}
		lines += "\n" + line
	}
	if len(recs) > 1 {
		lines += "\n\nWarning: this selector is shared by several signatures."
	}
	return lines
}

func formatSearch(raw json.RawMessage) string {
	var page signaturePage
	if err := json.Unmarshal(raw, &page); err != nil {
		return fmt.Sprintf("Error parsing search results: %v", err)
	}
	lines := joinLines(
		section("Signatures"),
		kv("Showing", pageRange(page.Offset, len(page.Signatures), page.Total)),
	)
	for _, r := range page.Signatures {
		lines += "\n" + fmt.Sprintf("  %s  %-8s %s", r.Selector, r.Kind, r.Signature)
	}
	return lines
}

func formatCollisions(raw json.RawMessage) string {
	var cs []collision
	if err := json.Unmarshal(raw, &cs); err != nil {
		return fmt.Sprintf("Error parsing collisions: %v", err)
	}
	if len(cs) == 0 {
		return joinLines(section("Selector Collisions"), "No collisions.")
	}
	lines := joinLines(
		section("Selector Collisions"),
		kv("Selectors", formatNumber(len(cs))),
	)
	for _, c := range cs {
		lines += "\n" + c.Selector
		for _, sig := range c.Signatures {
			lines += "\n  " + sig
		}
	}
	return lines
}

func formatSources(raw json.RawMessage) string {
	var page sourcePage
	if err := json.Unmarshal(raw, &page); err != nil {
		return fmt.Sprintf("Error parsing sources: %v", err)
	}
	lines := joinLines(
		section("Scanned Artifacts"),
		kv("Showing", pageRange(page.Offset, len(page.Sources), page.Total)),
	)
	for _, s := range page.Sources {
		line := fmt.Sprintf("  %s  entries=%d errors=%d", s.Path, s.Entries, s.Errors)
		if s.Error != "" {
			line += " - " + s.Error
		}
		lines += "\n" + line
	}
	return lines
}

func formatSummary(title string, sum *types.ScanSummary) string {
	return joinLines(
		section(title),
		kv("Root", sum.Root),
		kv("Pattern", sum.Pattern),
		kv("Files", formatNumber(sum.Files)),
		kv("Files Failed", formatNumber(sum.FilesFailed)),
		kv("Entries", formatNumber(sum.Entries)),
		kv("Entry Errors", formatNumber(sum.EntryErrors)),
		kv("Skipped", formatNumber(sum.Skipped)),
		kv("Duration", sum.Duration.Round(time.Millisecond)),
	)
}

func formatScan(raw json.RawMessage) string {
	var sum types.ScanSummary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return fmt.Sprintf("Error parsing scan summary: %v", err)
	}
	return formatSummary("Scan Completed", &sum)
}

func formatStatus(raw json.RawMessage) string {
	var st types.ServerStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}
	lines := joinLines(
		section("Signature Directory Status"),
		kv("Scan", st.Status),
		kv("Signatures", formatNumber(st.Signatures)),
		kv("Selectors", formatNumber(st.Selectors)),
		kv("Collisions", formatNumber(st.Collisions)),
		kv("Uptime", st.Uptime),
	)
	if st.LastError != "" {
		lines += "\n" + kv("Last Error", st.LastError)
	}
	if st.LastScan != nil {
		lines += "\n\n" + formatSummary("Last Scan", st.LastScan)
	}
	return lines
}

func formatHealth(raw json.RawMessage) string {
	var r readiness
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}
	state := "READY"
	if !r.Ready {
		state = "NOT READY"
	}
	lines := section("Signature Directory Health: " + state)
	for _, c := range r.Checks {
		line := fmt.Sprintf("  %-15s %s (%dms)", c.Name, c.Status, c.LatencyMs)
		if c.Error != "" {
			line += " - " + c.Error
		}
		lines += "\n" + line
	}
	return lines
}
