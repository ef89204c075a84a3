package domain

import (
	"strings"
	"time"
)

type SortKey string

const (
	SortKeyTitle        SortKey = "Title"
	SortKeyCategoryDesc SortKey = "CategoryDesc"
	SortKeySize         SortKey = "Size"
	SortKeySeeders      SortKey = "Seeders"
	SortKeyPeers        SortKey = "Peers"
	SortKeyPublishDate  SortKey = "PublishDate"
	SortKeyTracker      SortKey = "Tracker"
)

type SortDirection string

const (
	SortAscending  SortDirection = "ascending"
	SortDescending SortDirection = "descending"
)

type SortSpec struct {
	Key       SortKey       `json:"key"`
	Direction SortDirection `json:"direction"`
}

func DefaultSortSpec() SortSpec {
	return SortSpec{Key: SortKeySeeders, Direction: SortDescending}
}

// TorrentResult is one normalized search hit. Numeric fields are nil when the
// upstream indexer did not report them.
type TorrentResult struct {
	ID           int       `json:"Id"`
	Title        string    `json:"Title"`
	CategoryDesc string    `json:"CategoryDesc,omitempty"`
	Size         *int64    `json:"Size"`
	SizeHuman    string    `json:"sizeHuman,omitempty"`
	Seeders      *int      `json:"Seeders"`
	Peers        *int      `json:"Peers"`
	PublishDate  string    `json:"PublishDate"`
	PublishedAt  time.Time `json:"-"`
	Tracker      string    `json:"Tracker,omitempty"`
	TrackerID    string    `json:"TrackerId,omitempty"`
	Details      string    `json:"Details,omitempty"`
	Link         string    `json:"Link,omitempty"`
	InfoHash     string    `json:"InfoHash,omitempty"`
	MagnetURI    string    `json:"MagnetUri,omitempty"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type IndexerStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  int    `json:"status"`
	Results int    `json:"results"`
	Error   string `json:"error,omitempty"`
}

type PageView struct {
	Items        []TorrentResult `json:"items"`
	Page         int             `json:"page"`
	PageSize     int             `json:"pageSize"`
	TotalPages   int             `json:"totalPages"`
	TotalResults int             `json:"totalResults"`
	Sort         SortSpec        `json:"sort"`
}

// ParseSortKey accepts the field name in any case. Unknown keys report false.
func ParseSortKey(raw string) (SortKey, bool) {
	value := strings.TrimSpace(raw)
	for _, key := range []SortKey{
		SortKeyTitle,
		SortKeyCategoryDesc,
		SortKeySize,
		SortKeySeeders,
		SortKeyPeers,
		SortKeyPublishDate,
		SortKeyTracker,
	} {
		if strings.EqualFold(value, string(key)) {
			return key, true
		}
	}
	return "", false
}

func NormalizeSortDirection(raw string) SortDirection {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "asc", "ascending":
		return SortAscending
	default:
		return SortDescending
	}
}

func IntPtr(value int) *int {
	return &value
}

func Int64Ptr(value int64) *int64 {
	return &value
}
