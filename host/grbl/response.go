package grbl

import (
	"fmt"
	"strings"
)

// Response kinds reported by the controller
const (
	KindOK     = "ok"
	KindError  = "error"
	KindAlarm  = "alarm"
	KindStatus = "status"
	KindInfo   = "info" // banner, [MSG:...], settings and anything else
)

// ResponseError is an "error:N" or "ALARM:N" reply to a command
type ResponseError struct {
	Kind    string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("grbl %s: %s", e.Kind, e.Message)
}

// Classify returns the kind of a controller line and its payload
func Classify(line string) (kind, payload string) {
	line = strings.TrimSpace(line)
	lower := strings.ToLower(line)

	switch {
	case lower == "ok":
		return KindOK, ""
	case strings.HasPrefix(lower, "error"):
		return KindError, strings.TrimSpace(strings.TrimLeft(line[len("error"):], ":"))
	case strings.HasPrefix(lower, "alarm"):
		return KindAlarm, strings.TrimSpace(strings.TrimLeft(line[len("alarm"):], ":"))
	case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
		return KindStatus, line[1 : len(line)-1]
	default:
		return KindInfo, line
	}
}

// Status is a parsed "<State|MPos:x,y,z|...>" report
type Status struct {
	State  string
	Fields map[string]string
}

// ParseStatus parses a status report line. ok is false for other lines.
func ParseStatus(line string) (Status, bool) {
	kind, payload := Classify(line)
	if kind != KindStatus {
		return Status{}, false
	}

	parts := strings.Split(payload, "|")
	st := Status{State: parts[0], Fields: make(map[string]string)}
	for _, part := range parts[1:] {
		// GRBL 0.9 separates fields with commas, which we do not split
		key, value, found := strings.Cut(part, ":")
		if !found {
			continue
		}
		st.Fields[key] = value
	}
	return st, true
}

// Idle reports whether the controller says it is idle
func (s Status) Idle() bool {
	return strings.EqualFold(s.State, "Idle")
}
