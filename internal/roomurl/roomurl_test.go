package roomurl

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"bare host and path", "doxy.me/alice", "https://doxy.me/alice", true},
		{"already https", "https://doxy.me/bob", "https://doxy.me/bob", true},
		{"http kept", "http://doxy.me/carol", "http://doxy.me/carol", true},
		{"surrounding space", "   doxy.me/dave  ", "https://doxy.me/dave", true},
		{"subdomain", "https://www.doxy.me/erin", "https://www.doxy.me/erin", true},
		{"host lowercased", "HTTPS://Doxy.Me/Frank", "https://doxy.me/Frank", true},
		{"bare host gets root path", "doxy.me", "https://doxy.me/", true},
		{"bare host with query", "https://doxy.me?x=1", "https://doxy.me/?x=1", true},
		{"root path kept", "https://www.doxy.me/", "https://www.doxy.me/", true},
		{"foreign host", "https://evil.com", "", false},
		{"suffix without dot", "https://notdoxy.me/x", "", false},
		{"userinfo trick", "https://doxy.me@evil.com/x", "", false},
		{"empty", "", "", false},
		{"blank", "   ", "", false},
		{"garbage", "https://%zz", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.in, DefaultDomain)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("Normalize(%q) = (%q,%v), want (%q,%v)", tc.in, got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestNormalize_CustomDomain(t *testing.T) {
	if got, ok := Normalize("rooms.example.org/a", "example.org"); !ok || got != "https://rooms.example.org/a" {
		t.Fatalf("custom domain: got (%q,%v)", got, ok)
	}
	if _, ok := Normalize("doxy.me/a", "example.org"); ok {
		t.Fatalf("default domain must not leak when a custom one is set")
	}
	if got, ok := Normalize("doxy.me/a", ""); !ok || got != "https://doxy.me/a" {
		t.Fatalf("empty domain should fall back to default, got (%q,%v)", got, ok)
	}
}
