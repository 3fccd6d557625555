package utils

import "testing"

func TestURLHost(t *testing.T) {
	host, err := URLHost("https://Example.com/path?utm_source=test&x=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "example.com" {
		t.Fatalf("unexpected host: %s", host)
	}
}

func TestCollapseURLs(t *testing.T) {
	got := CollapseURLs("look at https://Example.com/a/very/long/path?x=1 now")
	if got != "look at example.com now" {
		t.Fatalf("unexpected collapse: %q", got)
	}
}

func TestDomainMatch(t *testing.T) {
	domains := map[string]struct{}{"good.com": {}}
	if !DomainMatch("good.com", domains) {
		t.Fatalf("expected exact match")
	}
	if !DomainMatch("cdn.Good.com", domains) {
		t.Fatalf("expected subdomain match")
	}
	if DomainMatch("notgood.com", domains) {
		t.Fatalf("did not expect suffix-only match")
	}
}
