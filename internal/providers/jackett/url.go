package jackett

import "strings"

const (
	searchPath       = "/api/v2.0/indexers/all/results"
	capabilitiesPath = "/api/v2.0/indexers/all/results/torznab/api"
)

// SanitizeBaseURL turns a user-supplied server address into a base URL:
// surrounding whitespace and one trailing slash are removed and http:// is
// prepended when no http(s) scheme is present. The result is not validated.
func SanitizeBaseURL(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimSuffix(value, "/")
	if !hasHTTPScheme(value) {
		value = "http://" + value
	}
	return value
}

func hasHTTPScheme(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Settings identifies the Jackett server a call goes to.
type Settings struct {
	ServerURL string `json:"serverUrl"`
	APIKey    string `json:"apiKey"`
}

func (s Settings) Configured() bool {
	return strings.TrimSpace(s.ServerURL) != "" && strings.TrimSpace(s.APIKey) != ""
}
