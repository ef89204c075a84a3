package common

import (
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// NewCollator returns a collator for the root locale that ignores case and
// accents, so "Émile" and "emile" compare equal. With
// numeric set, digit runs compare by value so "file2" sorts before "file10".
// A Collator is not safe for concurrent use; build one per sort.
func NewCollator(numeric bool) *collate.Collator {
	options := []collate.Option{collate.IgnoreCase, collate.IgnoreDiacritics}
	if numeric {
		options = append(options, collate.Numeric)
	}
	return collate.New(language.Und, options...)
}
