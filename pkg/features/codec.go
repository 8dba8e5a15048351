package features

import (
	"fmt"
	"sort"
	"strings"

	"creditguard/pkg/dataset"
)

// Codec maps categorical column values to dense integer codes. It is fitted
// once at training time and read-only afterwards, so concurrent encoding
// during inference needs no locking.
type Codec struct {
	columns map[string]*columnCodec
}

type columnCodec struct {
	classes []string
	index   map[string]int
}

// FitCodec builds a codec over every categorical column of the frame except
// the listed ones (the label columns). Each column's observed values are
// sorted and assigned codes 0..k-1.
func FitCodec(f *dataset.Frame, skip ...string) *Codec {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	c := &Codec{columns: make(map[string]*columnCodec)}
	for _, col := range f.CategoricalColumns() {
		if skipSet[col] {
			continue
		}
		seen := make(map[string]bool)
		for _, row := range f.Rows {
			if v, ok := row.String(col); ok {
				seen[normalize(v)] = true
			}
		}
		classes := make([]string, 0, len(seen))
		for v := range seen {
			classes = append(classes, v)
		}
		sort.Strings(classes)
		index := make(map[string]int, len(classes))
		for i, v := range classes {
			index[v] = i
		}
		c.columns[col] = &columnCodec{classes: classes, index: index}
	}
	return c
}

// HasColumn reports whether the codec was fitted for the named column.
func (c *Codec) HasColumn(col string) bool {
	_, ok := c.columns[col]
	return ok
}

// Columns returns the encoded column names, sorted.
func (c *Codec) Columns() []string {
	out := make([]string, 0, len(c.columns))
	for col := range c.columns {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}

// Classes returns the known categories of a column in code order.
func (c *Codec) Classes(col string) []string {
	cc, ok := c.columns[col]
	if !ok {
		return nil
	}
	out := make([]string, len(cc.classes))
	copy(out, cc.classes)
	return out
}

// Encode maps a category string to its code. An unknown value falls back to
// the first (lowest-coded) known category; fallback is true in that case so
// callers can count the substitution. Encoding an unfitted column is an
// error.
func (c *Codec) Encode(col, value string) (code int, fallback bool, err error) {
	cc, ok := c.columns[col]
	if !ok {
		return 0, false, fmt.Errorf("codec: column %s not fitted", col)
	}
	if len(cc.classes) == 0 {
		return 0, false, fmt.Errorf("codec: column %s has no classes", col)
	}
	if i, ok := cc.index[normalize(value)]; ok {
		return i, false, nil
	}
	return 0, true, nil
}

// Decode recovers the original category string for a known code.
func (c *Codec) Decode(col string, code int) (string, error) {
	cc, ok := c.columns[col]
	if !ok {
		return "", fmt.Errorf("codec: column %s not fitted", col)
	}
	if code < 0 || code >= len(cc.classes) {
		return "", fmt.Errorf("codec: column %s has no code %d", col, code)
	}
	return cc.classes[code], nil
}

func normalize(v string) string { return strings.TrimSpace(v) }
