// Package results holds the client-side view over one search's result set:
// ordering by a single field and slicing into fixed-size pages.
package results

import (
	"cmp"
	"slices"
	"time"

	"golang.org/x/text/collate"

	"github.com/bruhmeric/torrentwave/internal/domain"
	"github.com/bruhmeric/torrentwave/internal/providers/common"
)

const DefaultPageSize = 50

type fieldValue struct {
	present bool
	text    string
	number  int64
	instant time.Time
}

func valueOf(result domain.TorrentResult, key domain.SortKey) fieldValue {
	switch key {
	case domain.SortKeyTitle:
		return textValue(result.Title)
	case domain.SortKeyCategoryDesc:
		return textValue(result.CategoryDesc)
	case domain.SortKeyTracker:
		return textValue(result.Tracker)
	case domain.SortKeySize:
		if result.Size == nil {
			return fieldValue{}
		}
		return fieldValue{present: true, number: *result.Size}
	case domain.SortKeySeeders:
		if result.Seeders == nil {
			return fieldValue{}
		}
		return fieldValue{present: true, number: int64(*result.Seeders)}
	case domain.SortKeyPeers:
		if result.Peers == nil {
			return fieldValue{}
		}
		return fieldValue{present: true, number: int64(*result.Peers)}
	case domain.SortKeyPublishDate:
		if result.PublishedAt.IsZero() {
			return fieldValue{}
		}
		return fieldValue{present: true, instant: result.PublishedAt}
	default:
		return fieldValue{}
	}
}

func textValue(value string) fieldValue {
	if value == "" {
		return fieldValue{}
	}
	return fieldValue{present: true, text: value}
}

// Compare orders two results by spec. A missing value sorts after any present
// one in both directions; two missing values are equal. Only comparisons
// between present values are reversed for descending order.
func Compare(a, b domain.TorrentResult, spec domain.SortSpec, collator *collate.Collator) int {
	left, right := valueOf(a, spec.Key), valueOf(b, spec.Key)
	switch {
	case !left.present && !right.present:
		return 0
	case !left.present:
		return 1
	case !right.present:
		return -1
	}

	var result int
	switch spec.Key {
	case domain.SortKeyPublishDate:
		result = left.instant.Compare(right.instant)
	case domain.SortKeyTitle, domain.SortKeyCategoryDesc, domain.SortKeyTracker:
		result = collator.CompareString(left.text, right.text)
	default:
		result = cmp.Compare(left.number, right.number)
	}
	if spec.Direction == domain.SortDescending {
		return -result
	}
	return result
}

// Sort returns a stably sorted copy; the input is left untouched.
func Sort(items []domain.TorrentResult, spec domain.SortSpec) []domain.TorrentResult {
	sorted := slices.Clone(items)
	collator := common.NewCollator(true)
	slices.SortStableFunc(sorted, func(a, b domain.TorrentResult) int {
		return Compare(a, b, spec, collator)
	})
	return sorted
}

// TotalPages is ceil(count / pageSize).
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if count <= 0 {
		return 0
	}
	return (count + pageSize - 1) / pageSize
}

// Paginate returns the 1-based page [(page-1)*size, page*size) clipped to
// the slice bounds. Pages below 1 are empty; callers clamp.
func Paginate(items []domain.TorrentResult, page, pageSize int) []domain.TorrentResult {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		return []domain.TorrentResult{}
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []domain.TorrentResult{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

func SortAndPaginate(items []domain.TorrentResult, spec domain.SortSpec, page, pageSize int) domain.PageView {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	sorted := Sort(items, spec)
	return domain.PageView{
		Items:        Paginate(sorted, page, pageSize),
		Page:         page,
		PageSize:     pageSize,
		TotalPages:   TotalPages(len(items), pageSize),
		TotalResults: len(items),
		Sort:         spec,
	}
}
