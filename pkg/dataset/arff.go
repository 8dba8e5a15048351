package dataset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseARFF reads an ARFF document (the format OpenML serves) into a Frame.
// Nominal attributes become categorical columns, numeric/real/integer
// attributes become numeric columns. Comment lines and blank lines are
// skipped. A '?' cell marks a missing value and leaves the attribute absent
// from the row.
func ParseARFF(r io.Reader) (*Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var columns []string
	types := make(map[string]ColumnType)
	inData := false
	frame := (*Frame)(nil)
	lineNo := 0

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		if !inData {
			lower := strings.ToLower(line)
			switch {
			case strings.HasPrefix(lower, "@relation"):
				// relation name is informational only
			case strings.HasPrefix(lower, "@attribute"):
				name, t, err := parseAttribute(line)
				if err != nil {
					return nil, fmt.Errorf("arff line %d: %w", lineNo, err)
				}
				columns = append(columns, name)
				types[name] = t
			case strings.HasPrefix(lower, "@data"):
				if len(columns) == 0 {
					return nil, fmt.Errorf("arff line %d: @data before any @attribute", lineNo)
				}
				frame = NewFrame(columns, types)
				inData = true
			default:
				return nil, fmt.Errorf("arff line %d: unexpected header %q", lineNo, line)
			}
			continue
		}

		cells := splitARFFRow(line)
		if len(cells) != len(columns) {
			return nil, fmt.Errorf("arff line %d: %d cells, want %d", lineNo, len(cells), len(columns))
		}
		row := make(Record, len(columns))
		for i, cell := range cells {
			if cell == "?" {
				continue
			}
			col := columns[i]
			if types[col] == Numeric {
				v, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, fmt.Errorf("arff line %d: column %s: %w", lineNo, col, err)
				}
				row[col] = v
			} else {
				row[col] = cell
			}
		}
		frame.Rows = append(frame.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("arff read: %w", err)
	}
	if frame == nil {
		return nil, fmt.Errorf("arff: no @data section")
	}
	if len(frame.Rows) == 0 {
		return nil, fmt.Errorf("arff: empty @data section")
	}
	return frame, nil
}

// parseAttribute handles "@attribute <name> <type>" where type is either a
// numeric keyword or a {a,b,c} nominal list.
func parseAttribute(line string) (string, ColumnType, error) {
	rest := strings.TrimSpace(line[len("@attribute"):])
	if rest == "" {
		return "", 0, fmt.Errorf("attribute without name")
	}
	var name string
	if rest[0] == '\'' || rest[0] == '"' {
		q := rest[0]
		end := strings.IndexByte(rest[1:], q)
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated quoted attribute name")
		}
		name = rest[1 : end+1]
		rest = strings.TrimSpace(rest[end+2:])
	} else {
		sp := strings.IndexAny(rest, " \t")
		if sp < 0 {
			return "", 0, fmt.Errorf("attribute %q without type", rest)
		}
		name = rest[:sp]
		rest = strings.TrimSpace(rest[sp:])
	}

	if strings.HasPrefix(rest, "{") {
		return name, Categorical, nil
	}
	switch strings.ToLower(rest) {
	case "numeric", "real", "integer":
		return name, Numeric, nil
	case "string", "date":
		// treated as categorical; the reference dataset has neither
		return name, Categorical, nil
	default:
		return "", 0, fmt.Errorf("attribute %s: unsupported type %q", name, rest)
	}
}

// splitARFFRow splits a data row on commas, honoring single and double
// quoted cells (nominal values in the reference dataset contain spaces and
// punctuation).
func splitARFFRow(line string) []string {
	var cells []string
	var sb strings.Builder
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				sb.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ',':
			cells = append(cells, strings.TrimSpace(sb.String()))
			sb.Reset()
		default:
			sb.WriteByte(c)
		}
	}
	cells = append(cells, strings.TrimSpace(sb.String()))
	return cells
}
