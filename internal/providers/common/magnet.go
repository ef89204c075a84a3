package common

import (
	"net/url"
	"strings"
)

// PublicTrackers are appended to synthesized magnet links so clients can find
// peers without the indexer's own announce list.
var PublicTrackers = []string{
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://open.tracker.cl:1337/announce",
	"udp://p4p.arenabg.com:1337/announce",
	"udp://tracker.dler.org:6969/announce",
}

// NormalizeInfoHash trims the value and drops a leading urn:btih: prefix.
// Case is preserved so the hash appears in the magnet exactly as reported.
func NormalizeInfoHash(raw string) string {
	value := strings.TrimSpace(raw)
	if len(value) >= len("urn:btih:") && strings.EqualFold(value[:len("urn:btih:")], "urn:btih:") {
		value = strings.TrimSpace(value[len("urn:btih:"):])
	}
	return value
}

func BuildMagnet(infoHash, name string, trackers []string) string {
	hash := NormalizeInfoHash(infoHash)
	if hash == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("magnet:?xt=urn:btih:")
	builder.WriteString(hash)
	builder.WriteString("&dn=")
	builder.WriteString(EscapeComponent(name))
	for _, tracker := range trackers {
		value := strings.TrimSpace(tracker)
		if value == "" {
			continue
		}
		builder.WriteString("&tr=")
		builder.WriteString(EscapeComponent(value))
	}
	return builder.String()
}

// EscapeComponent percent-encodes a magnet parameter value. Spaces become %20
// rather than '+', which several torrent clients do not decode.
func EscapeComponent(raw string) string {
	return strings.ReplaceAll(url.QueryEscape(raw), "+", "%20")
}
