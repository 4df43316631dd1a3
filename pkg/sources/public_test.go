package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/models"
)

func TestPublicTextFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("request") != "get" {
			t.Errorf("request param = %q, want %q", q.Get("request"), "get")
		}
		if q.Get("protocol") != "socks5" {
			t.Errorf("protocol param = %q, want %q", q.Get("protocol"), "socks5")
		}
		if q.Get("format") != "textplain" {
			t.Errorf("format param = %q, want %q", q.Get("format"), "textplain")
		}
		if q.Get("country") != "US,CA" {
			t.Errorf("country param = %q, want %q", q.Get("country"), "US,CA")
		}
		if q.Get("ssl") != "yes" {
			t.Errorf("ssl param = %q, want %q", q.Get("ssl"), "yes")
		}
		if q.Get("anonymity") != "elite,anonymous" {
			t.Errorf("anonymity param = %q, want %q", q.Get("anonymity"), "elite,anonymous")
		}
		if q.Get("uptime") != "80" {
			t.Errorf("uptime param = %q, want %q", q.Get("uptime"), "80")
		}
		if q.Get("timeout") != "8000" {
			t.Errorf("timeout param = %q, want %q", q.Get("timeout"), "8000")
		}

		fmt.Fprintln(w, "203.0.113.10:8080")
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "203.0.113.11:3128")
		fmt.Fprintln(w, "garbage line")
		fmt.Fprintln(w, "10.0.0.5:8080")
		fmt.Fprintln(w, "203.0.113.12:9999")
		fmt.Fprintln(w, "203.0.113.10:8080")
	}))
	defer ts.Close()

	filter := NewFilter([]int{80, 443, 8080, 3128, 8888}, nil)
	provider := newPublicProvider(config.PublicConfig{
		Feeds:      []string{ts.URL},
		Protocol:   "socks5",
		Countries:  []string{"US", "CA"},
		SSL:        true,
		Anonymity:  "elite,anonymous",
		MinUptime:  80,
		TimeoutMs:  8000,
		RatePerSec: 100,
	}, filter, testLogger())

	candidates, err := provider.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("Acquire() returned %d candidates, want 2: %v", len(candidates), candidates)
	}
	seen := make(map[string]bool)
	for _, c := range candidates {
		seen[c.Address] = true
		if c.Tier != models.TierPublic {
			t.Errorf("candidate %s has tier %v, want %v", c.Address, c.Tier, models.TierPublic)
		}
	}
	if !seen["203.0.113.10:8080"] || !seen["203.0.113.11:3128"] {
		t.Errorf("unexpected candidate set: %v", candidates)
	}
}

func TestPublicHTMLFeed(t *testing.T) {
	page := `<html><body><table>
	<thead><tr><th>IP</th><th>Port</th><th>Code</th><th>Country</th><th>Anonymity</th><th>Google</th><th>Https</th></tr></thead>
	<tbody>
	<tr><td>203.0.113.20</td><td>8080</td><td>US</td><td>United States</td><td>elite proxy</td><td>no</td><td>yes</td></tr>
	<tr><td>203.0.113.21</td><td>3128</td><td>DE</td><td>Germany</td><td>anonymous</td><td>no</td><td>yes</td></tr>
	<tr><td>203.0.113.22</td><td>8080</td><td>FR</td><td>France</td><td>transparent</td><td>no</td><td>yes</td></tr>
	<tr><td>203.0.113.23</td><td>8080</td><td>NL</td><td>Netherlands</td><td>elite proxy</td><td>no</td><td>no</td></tr>
	</tbody></table></body></html>`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer ts.Close()

	filter := NewFilter([]int{80, 443, 8080, 3128, 8888}, nil)
	provider := newPublicProvider(config.PublicConfig{
		HTMLFeeds:  []string{ts.URL},
		SSL:        true,
		RatePerSec: 100,
	}, filter, testLogger())

	candidates, err := provider.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("Acquire() returned %d candidates, want 2: %v", len(candidates), candidates)
	}
	regions := make(map[string]string)
	for _, c := range candidates {
		regions[c.Address] = c.Region
	}
	if regions["203.0.113.20:8080"] != "US" {
		t.Errorf("region for elite row = %q, want %q", regions["203.0.113.20:8080"], "US")
	}
	if regions["203.0.113.21:3128"] != "DE" {
		t.Errorf("region for anonymous row = %q, want %q", regions["203.0.113.21:3128"], "DE")
	}
}

func TestPublicAllFeedsFailing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "temporarily banned", http.StatusForbidden)
	}))
	defer ts.Close()

	filter := NewFilter([]int{8080}, nil)
	provider := newPublicProvider(config.PublicConfig{
		Feeds:      []string{ts.URL},
		HTMLFeeds:  []string{ts.URL},
		RatePerSec: 100,
	}, filter, testLogger())

	if _, err := provider.Acquire(context.Background()); err == nil {
		t.Fatal("Acquire() error = nil, want error when every feed fails")
	}
}
