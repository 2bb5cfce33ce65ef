package dataset

import (
	"log/slog"
	"unicode/utf8"
)

// Dedup drops exact duplicate (label, question) pairs, keeping the first occurrence.
func Dedup(records []Record) []Record {
	seen := make(map[Record]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// FilterTooFewTooLong drops records whose question is longer than maxLength
// characters, then drops every label with fewer than minEachGroup records left.
// Group sizes are counted after the length filter.
func FilterTooFewTooLong(records []Record, minEachGroup, maxLength int) []Record {
	short := make([]Record, 0, len(records))
	for _, r := range records {
		if utf8.RuneCountInString(r.Question) > maxLength {
			continue
		}
		short = append(short, r)
	}

	counts := make(map[string]int)
	for _, r := range short {
		counts[r.Label]++
	}

	out := make([]Record, 0, len(short))
	for _, r := range short {
		if counts[r.Label] >= minEachGroup {
			out = append(out, r)
		}
	}
	return out
}

func Preprocess(records []Record, minEachGroup, maxLength int) []Record {
	deduped := Dedup(records)
	out := FilterTooFewTooLong(deduped, minEachGroup, maxLength)

	slog.Info("preprocessed records",
		"input", len(records),
		"deduplicated", len(deduped),
		"kept", len(out),
		"min_each_group", minEachGroup,
		"max_length", maxLength,
	)
	return out
}
