package utils

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>]+`)

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// URLHost returns the lower-cased ASCII host of raw.
func URLHost(raw string) (string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(parsed.Hostname())
	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}
	return host, nil
}

// CollapseURLs replaces every link in content with its host so long
// query strings do not crowd the classifier's token budget.
func CollapseURLs(content string) string {
	return urlRegex.ReplaceAllStringFunc(content, func(raw string) string {
		host, err := URLHost(raw)
		if err != nil || host == "" {
			return raw
		}
		return host
	})
}

// DomainMatch reports whether host equals a listed domain or is a subdomain of one.
func DomainMatch(host string, domains map[string]struct{}) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for host != "" {
		if _, ok := domains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
	return false
}
