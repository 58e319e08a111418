package models

import "strings"

type AlertLevel string

const (
	AlertLevelNone     AlertLevel = "NONE"
	AlertLevelWatch    AlertLevel = "WATCH"
	AlertLevelAdvisory AlertLevel = "ADVISORY"
	AlertLevelWarning  AlertLevel = "WARNING"
)

// Rank orders alert levels NONE < WATCH < ADVISORY < WARNING. It doubles as the
// numeric level shown on IoT displays.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertLevelWatch:
		return 1
	case AlertLevelAdvisory:
		return 2
	case AlertLevelWarning:
		return 3
	default:
		return 0
	}
}

func (l AlertLevel) Valid() bool {
	switch l {
	case AlertLevelNone, AlertLevelWatch, AlertLevelAdvisory, AlertLevelWarning:
		return true
	}
	return false
}

// MaxAlertLevel returns the more severe of a and b.
func MaxAlertLevel(a, b AlertLevel) AlertLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseAlertLevel is case-insensitive and returns false for unknown names.
func ParseAlertLevel(s string) (AlertLevel, bool) {
	l := AlertLevel(strings.ToUpper(strings.TrimSpace(s)))
	return l, l.Valid()
}

// AlertLevelFromRank is the inverse of Rank, clamped to the known range.
func AlertLevelFromRank(rank int) AlertLevel {
	switch {
	case rank >= 3:
		return AlertLevelWarning
	case rank == 2:
		return AlertLevelAdvisory
	case rank == 1:
		return AlertLevelWatch
	default:
		return AlertLevelNone
	}
}

// AdvisoryAlertLevel maps a free-text INCOIS advisory level onto an alert level.
func AdvisoryAlertLevel(level string) AlertLevel {
	l := strings.ToLower(level)
	switch {
	case strings.Contains(l, "major"), strings.Contains(l, "warning"):
		return AlertLevelWarning
	case strings.Contains(l, "advisory"):
		return AlertLevelAdvisory
	case strings.Contains(l, "watch"):
		return AlertLevelWatch
	default:
		return AlertLevelNone
	}
}
