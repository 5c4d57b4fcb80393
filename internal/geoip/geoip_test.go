package geoip

import "testing"

func TestNew_EmptyPathDisablesLookups(t *testing.T) {
	r, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if country, city := r.Lookup("8.8.8.8"); country != "" || city != "" {
		t.Errorf("expected empty results when disabled, got %q/%q", country, city)
	}
	if err := r.Close(); err != nil {
		t.Errorf("close should be a no-op: %v", err)
	}
}

func TestNew_MissingFileDisablesLookups(t *testing.T) {
	r, err := New("/nonexistent/geoip.mmdb")
	if err != nil {
		t.Fatalf("missing database should not error: %v", err)
	}
	if country, _ := r.Lookup("8.8.8.8"); country != "" {
		t.Errorf("expected empty country when disabled, got %q", country)
	}
}

func TestLookup_HostPortAndGarbage(t *testing.T) {
	r := &Resolver{}
	if country, _ := r.Lookup("10.0.0.1:443"); country != "" {
		t.Errorf("expected empty result, got %q", country)
	}
	if country, _ := r.Lookup("not-an-ip"); country != "" {
		t.Errorf("expected empty result for garbage input, got %q", country)
	}
}
