package jackett

import "testing"

func TestSanitizeBaseURL(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"host and port with trailing slash", "example.com:9117/", "http://example.com:9117"},
		{"already http", "http://example.com:9117", "http://example.com:9117"},
		{"already https with slash", "https://jackett.local/", "https://jackett.local"},
		{"uppercase scheme kept", "HTTPS://Jackett.Local", "HTTPS://Jackett.Local"},
		{"surrounding whitespace", "  10.0.0.5:9117  ", "http://10.0.0.5:9117"},
		{"only one slash stripped", "http://example.com//", "http://example.com/"},
		{"path prefix kept", "https://example.com/jackett/", "https://example.com/jackett"},
		{"empty", "", "http://"},
		{"other scheme gets prefixed", "ftp://example.com", "http://ftp://example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeBaseURL(tc.input); got != tc.want {
				t.Fatalf("SanitizeBaseURL(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestSettingsConfigured(t *testing.T) {
	if (Settings{ServerURL: "http://x"}).Configured() {
		t.Fatalf("expected unconfigured without api key")
	}
	if (Settings{APIKey: "k"}).Configured() {
		t.Fatalf("expected unconfigured without server url")
	}
	if (Settings{ServerURL: "  ", APIKey: "k"}).Configured() {
		t.Fatalf("expected whitespace server url to count as empty")
	}
	if !(Settings{ServerURL: "http://x", APIKey: "k"}).Configured() {
		t.Fatalf("expected configured")
	}
}
