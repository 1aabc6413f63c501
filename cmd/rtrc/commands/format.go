// Package commands implements the rtrc CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// sessionEvent is a flattened view of one rtrclient.Callbacks invocation,
// independent of which hook fired, for uniform rendering.
type sessionEvent struct {
	Timestamp time.Time
	Kind      string
	Detail    string
}

func formatEvent(e sessionEvent, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatEventJSON(e)
	case formatTable:
		return formatEventTable(e), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatEventTable(e sessionEvent) string {
	return fmt.Sprintf("[%s] %-18s %s", e.Timestamp.Format(time.RFC3339), e.Kind, e.Detail)
}

type eventView struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

func formatEventJSON(e sessionEvent) (string, error) {
	data, err := json.Marshal(eventView{
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Kind:      e.Kind,
		Detail:    e.Detail,
	})
	if err != nil {
		return "", fmt.Errorf("marshal event to JSON: %w", err)
	}
	return string(data), nil
}
