package rule

import "fmt"

// Severity classifies how serious a finding is. The gate and the exit
// code both key off severity, so the set is closed.
type Severity string

const (
	// SeverityCritical findings always fail the gate.
	SeverityCritical Severity = "critical"

	// SeverityImportant findings fail the gate past the configured threshold.
	SeverityImportant Severity = "important"

	// SeverityMinor findings are advisory unless the gate is lowered to minor.
	SeverityMinor Severity = "minor"
)

// IsValid checks if a severity string is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityImportant, SeverityMinor:
		return true
	}
	return false
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// Rank orders severities for sorting and gate comparison. Higher is more
// severe; unknown severities rank below minor.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityImportant:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// ParseSeverity converts a string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown severity %q (want critical, important or minor)", s)
	}
	return sev, nil
}
