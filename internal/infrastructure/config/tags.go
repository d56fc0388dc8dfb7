package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoTags is returned when a tag file yields no usable tags.
var ErrNoTags = errors.New("config: no valid tags found")

// Warner receives notices about skipped tag cells.
type Warner interface {
	Warn(msg string, args ...any)
}

// LoadTags reads the tag list from a CSV file. Lines may hold any number of
// comma-separated tags; cells are trimmed and empty cells skipped.
func LoadTags(path string, warn Warner) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening tags file: %w", err)
	}
	defer f.Close()

	return ParseTags(f, warn)
}

// ParseTags reads tags in the LoadTags format from r.
func ParseTags(r io.Reader, warn Warner) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var tags []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing tags file: %w", err)
		}

		line, _ := cr.FieldPos(0)
		for _, cell := range row {
			tag := strings.TrimSpace(cell)
			if tag == "" {
				if warn != nil {
					warn.Warn("empty tag, skipping", "line", line)
				}
				continue
			}
			tags = append(tags, tag)
		}
	}

	if len(tags) == 0 {
		return nil, ErrNoTags
	}
	return tags, nil
}
