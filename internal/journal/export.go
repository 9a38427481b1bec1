package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Logical columns of the export surface, one row per session, transcript
// flattened into the last column.
var exportHeader = []string{
	"id", "start_time", "end_time", "duration", "tokens_used",
	"latency", "resolution_status", "cost", "transcript",
}

const transcriptSep = " | "

// Export writes sessions as delimited text. Call with the result of
// List(Filter{From, To}) for a date-ranged export.
func Export(w io.Writer, sessions []*Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	for _, s := range sessions {
		end := ""
		if s.EndTime != nil {
			end = s.EndTime.UTC().Format(time.RFC3339)
		}
		row := []string{
			s.ID,
			s.StartTime.UTC().Format(time.RFC3339),
			end,
			strconv.Itoa(s.DurationSeconds),
			strconv.Itoa(s.TokensUsed),
			strconv.Itoa(s.LatencyMs),
			string(s.Status),
			strconv.FormatFloat(s.Cost, 'f', 4, 64),
			flattenTranscript(s.Messages),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func flattenTranscript(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("[%s]: %s", m.Role, m.Text))
	}
	return strings.Join(parts, transcriptSep)
}

// Import reads an export back into session records. Message timestamps are
// not part of the flat format and come back zeroed; counts and text
// round-trip exactly.
func Import(r io.Reader) ([]*Session, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if !equalRow(rows[0], exportHeader) {
		return nil, fmt.Errorf("unexpected header: %v", rows[0])
	}

	var out []*Session
	for i, row := range rows[1:] {
		if len(row) != len(exportHeader) {
			return nil, fmt.Errorf("row %d: want %d columns, got %d", i+1, len(exportHeader), len(row))
		}
		s := &Session{ID: row[0], Status: Status(row[6])}

		if s.StartTime, err = time.Parse(time.RFC3339, row[1]); err != nil {
			return nil, fmt.Errorf("row %d start_time: %w", i+1, err)
		}
		if row[2] != "" {
			end, err := time.Parse(time.RFC3339, row[2])
			if err != nil {
				return nil, fmt.Errorf("row %d end_time: %w", i+1, err)
			}
			s.EndTime = &end
			s.Ended = true
		}
		if s.DurationSeconds, err = strconv.Atoi(row[3]); err != nil {
			return nil, fmt.Errorf("row %d duration: %w", i+1, err)
		}
		if s.TokensUsed, err = strconv.Atoi(row[4]); err != nil {
			return nil, fmt.Errorf("row %d tokens_used: %w", i+1, err)
		}
		if s.LatencyMs, err = strconv.Atoi(row[5]); err != nil {
			return nil, fmt.Errorf("row %d latency: %w", i+1, err)
		}
		if s.Cost, err = strconv.ParseFloat(row[7], 64); err != nil {
			return nil, fmt.Errorf("row %d cost: %w", i+1, err)
		}
		s.Messages = unflattenTranscript(row[8])
		out = append(out, s)
	}
	return out, nil
}

func unflattenTranscript(flat string) []Message {
	if flat == "" {
		return nil
	}
	var out []Message
	for _, part := range strings.Split(flat, transcriptSep) {
		if role, text, ok := cutMessageHead(part); ok {
			out = append(out, Message{Role: role, Text: text})
			continue
		}
		// The separator occurred inside a message body. Splice the
		// fragment back onto the message it was cut from.
		if n := len(out); n > 0 {
			out[n-1].Text += transcriptSep + part
		}
	}
	return out
}

// cutMessageHead recognizes the "[role]: text" shape of a flattened message.
// Only the roles the engine actually records count as a message start, so a
// body that happens to contain "[something]: " does not split a transcript.
func cutMessageHead(part string) (Role, string, bool) {
	head, text, ok := strings.Cut(part, "]: ")
	if !ok || !strings.HasPrefix(head, "[") {
		return "", "", false
	}
	role := Role(strings.TrimPrefix(head, "["))
	if role != RoleUser && role != RoleAssistant {
		return "", "", false
	}
	return role, text, true
}

func equalRow(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
