package main

import (
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// PStateTable is the ordered set of available frequency steps in kHz.
// Index 0 is the lowest frequency (most throttled); MaxPState() is the
// highest. Built once at startup, immutable for the process lifetime.
type PStateTable []int

// MaxPState returns the highest valid index.
func (t PStateTable) MaxPState() int { return len(t) - 1 }

// NearestIndex returns the index whose frequency is closest to khz.
func (t PStateTable) NearestIndex(khz int) int {
	best := 0
	bestDist := abs(t[0] - khz)
	for i := 1; i < len(t); i++ {
		if d := abs(t[i] - khz); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// FreqControl invokes the external frequency-control tooling. The underlying
// protocol stays in the external tool; this is deliberately a narrow wrapper
// around three one-shot invocations.
type FreqControl struct {
	probeCmd []string // prints the available frequency steps
	setCmd   []string // sets the floor; frequency in kHz appended as last arg
	queryCmd []string // prints the currently configured policy
}

func newFreqControl(probeCmd, setCmd, queryCmd []string) *FreqControl {
	return &FreqControl{probeCmd: probeCmd, setCmd: setCmd, queryCmd: queryCmd}
}

// Probe queries the available frequency steps once at startup. An empty
// table is an error: there is no valid floor to set, so the process cannot
// proceed. No retries.
func (fc *FreqControl) Probe() (PStateTable, error) {
	out, err := runCommand(fc.probeCmd)
	if err != nil {
		return nil, fmt.Errorf("frequency probe: %w", err)
	}
	steps, err := parseFreqTable(out)
	if err != nil {
		return nil, fmt.Errorf("frequency probe: %w", err)
	}
	return steps, nil
}

// SetFloor translates a trip-point pstate setting into a frequency from the
// table and issues a single floor-setting invocation.
func (fc *FreqControl) SetFloor(s PStateSetting, table PStateTable) error {
	var khz int
	switch s.Mode {
	case PStateMax:
		khz = table[table.MaxPState()]
	case PStateIndex:
		if s.Index < 0 || s.Index > table.MaxPState() {
			return fmt.Errorf("pstate index %d out of range [0, %d]", s.Index, table.MaxPState())
		}
		khz = table[s.Index]
	default:
		return nil
	}

	args := append(append([]string(nil), fc.setCmd...), strconv.Itoa(khz))
	if _, err := runCommand(args); err != nil {
		return fmt.Errorf("set frequency floor to %d kHz: %w", khz, err)
	}
	return nil
}

// Current queries the configured policy and maps its upper bound to the
// nearest table index. Used once, for original-state capture.
func (fc *FreqControl) Current(table PStateTable) (int, error) {
	out, err := runCommand(fc.queryCmd)
	if err != nil {
		return 0, fmt.Errorf("frequency query: %w", err)
	}
	khz, err := parsePolicyUpper(out)
	if err != nil {
		return 0, fmt.Errorf("frequency query: %w", err)
	}
	return table.NearestIndex(khz), nil
}

func runCommand(argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	out, err := exec.Command(argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w (output: %s)", argv[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// parseFreqTable extracts frequency steps from probe output. It understands
// the cpufreq tools' "available frequency steps: 800 MHz, 1.20 GHz, ..."
// line as well as bare whitespace/comma-separated lists, with optional
// kHz/MHz/GHz units (bare numbers are kHz). The result is deduplicated and
// sorted ascending.
func parseFreqTable(out string) (PStateTable, error) {
	text := out
	for _, line := range strings.Split(out, "\n") {
		if idx := strings.Index(strings.ToLower(line), "available frequency steps"); idx >= 0 {
			if colon := strings.Index(line, ":"); colon >= 0 {
				text = line[colon+1:]
			}
			break
		}
	}

	freqs := parseFreqTokens(text)
	if len(freqs) == 0 {
		return nil, fmt.Errorf("no frequency steps parsed from output %q", strings.TrimSpace(out))
	}

	sort.Ints(freqs)
	// Dedupe in place; some tools list the same step per turbo/non-turbo.
	table := freqs[:1]
	for _, f := range freqs[1:] {
		if f != table[len(table)-1] {
			table = append(table, f)
		}
	}
	return PStateTable(table), nil
}

// parseFreqTokens scans text for frequency values. A numeric token may be
// followed by a unit token ("800 MHz") or carry the unit itself ("800MHz").
func parseFreqTokens(text string) []int {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	})

	var freqs []int
	for i := 0; i < len(fields); i++ {
		value, unit, ok := splitFreqField(fields[i])
		if !ok {
			continue
		}
		if unit == "" && i+1 < len(fields) {
			if u, isUnit := normalizeFreqUnit(fields[i+1]); isUnit {
				unit = u
				i++
			}
		}
		freqs = append(freqs, toKHz(value, unit))
	}
	return freqs
}

// splitFreqField parses tokens like "800", "800MHz" or "1.20".
func splitFreqField(field string) (value float64, unit string, ok bool) {
	cut := len(field)
	for i, r := range field {
		if (r < '0' || r > '9') && r != '.' {
			cut = i
			break
		}
	}
	if cut == 0 {
		return 0, "", false
	}
	v, err := strconv.ParseFloat(field[:cut], 64)
	if err != nil {
		return 0, "", false
	}
	if cut < len(field) {
		u, isUnit := normalizeFreqUnit(field[cut:])
		if !isUnit {
			return 0, "", false
		}
		return v, u, true
	}
	return v, "", true
}

func normalizeFreqUnit(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSuffix(s, ".")) {
	case "khz":
		return "khz", true
	case "mhz":
		return "mhz", true
	case "ghz":
		return "ghz", true
	}
	return "", false
}

func toKHz(value float64, unit string) int {
	switch unit {
	case "mhz":
		return int(math.Round(value * 1e3))
	case "ghz":
		return int(math.Round(value * 1e6))
	default: // bare numbers are kHz already
		return int(math.Round(value))
	}
}

// parsePolicyUpper extracts the upper frequency bound from policy output,
// e.g. "current policy: frequency should be within 800 MHz and 3.40 GHz.":
// the last frequency on the "current policy" line is the configured ceiling.
func parsePolicyUpper(out string) (int, error) {
	line := out
	for _, l := range strings.Split(out, "\n") {
		if strings.Contains(strings.ToLower(l), "current policy") {
			line = l
			break
		}
	}
	freqs := parseFreqTokens(line)
	if len(freqs) == 0 {
		return 0, fmt.Errorf("no frequency parsed from policy output %q", strings.TrimSpace(out))
	}
	return freqs[len(freqs)-1], nil
}
