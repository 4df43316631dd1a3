package sources

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseAddress(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "Plain host port",
			raw:  "203.0.113.10:8080",
			want: "203.0.113.10:8080",
		},
		{
			name: "Scheme stripped",
			raw:  "socks5://203.0.113.10:1080",
			want: "203.0.113.10:1080",
		},
		{
			name: "Trailing path stripped",
			raw:  "http://203.0.113.10:8080/some/path",
			want: "203.0.113.10:8080",
		},
		{
			name: "Credentials preserved",
			raw:  "user:secret@203.0.113.10:8080",
			want: "user:secret@203.0.113.10:8080",
		},
		{
			name: "Password containing at sign",
			raw:  "user:p@ss@203.0.113.10:8080",
			want: "user:p@ss@203.0.113.10:8080",
		},
		{
			name: "Host lowercased",
			raw:  "Proxy.Example.COM:3128",
			want: "proxy.example.com:3128",
		},
		{
			name: "Surrounding whitespace trimmed",
			raw:  "  203.0.113.10:8080\t",
			want: "203.0.113.10:8080",
		},
		{
			name:    "Missing port",
			raw:     "203.0.113.10",
			wantErr: true,
		},
		{
			name:    "Port out of range",
			raw:     "203.0.113.10:70000",
			wantErr: true,
		},
		{
			name:    "Empty input",
			raw:     "   ",
			wantErr: true,
		},
		{
			name:    "Garbage input",
			raw:     "not a proxy at all",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAddress(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseAddress(%q) error = nil, want error", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("ParseAddress(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestFilterAccept(t *testing.T) {
	filter := NewFilter([]int{80, 443, 8080, 3128, 8888}, []string{"104.16.", "172.67."})

	testCases := []struct {
		name    string
		address string
		want    bool
	}{
		{
			name:    "Public IP on allowed port",
			address: "203.0.113.10:8080",
			want:    true,
		},
		{
			name:    "Hostname on allowed port",
			address: "proxy.example.com:3128",
			want:    true,
		},
		{
			name:    "Credentialed address on allowed port",
			address: "user:secret@203.0.113.10:443",
			want:    true,
		},
		{
			name:    "Disallowed port",
			address: "203.0.113.10:9999",
			want:    false,
		},
		{
			name:    "Loopback",
			address: "127.0.0.1:8080",
			want:    false,
		},
		{
			name:    "Private range",
			address: "10.1.2.3:8080",
			want:    false,
		},
		{
			name:    "Link local",
			address: "169.254.10.20:8080",
			want:    false,
		},
		{
			name:    "Unspecified",
			address: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "CDN prefix",
			address: "104.16.55.3:443",
			want:    false,
		},
		{
			name:    "Second CDN prefix",
			address: "172.67.1.1:80",
			want:    false,
		},
		{
			name:    "Near miss on CDN prefix",
			address: "104.160.55.3:443",
			want:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := filter.Accept(tc.address); got != tc.want {
				t.Errorf("Accept(%q) = %v, want %v", tc.address, got, tc.want)
			}
		})
	}
}
