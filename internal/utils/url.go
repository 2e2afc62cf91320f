package utils

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>]+`)

// invite path prefix per host; "" means any non-empty path is a code
var inviteHosts = map[string]string{
	"discord.gg":         "",
	"discord.com":        "/invite/",
	"discordapp.com":     "/invite/",
	"www.discord.com":    "/invite/",
	"www.discordapp.com": "/invite/",
}

func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// Host parses raw, assuming https when no scheme is given, and returns
// it together with its host folded to lower-case ASCII.
func Host(raw string) (*url.URL, string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, "", err
	}
	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return parsed, host, nil
}

// IsInviteURL reports whether raw points at a server invite.
func IsInviteURL(raw string) bool {
	parsed, host, err := Host(raw)
	if err != nil {
		return false
	}
	prefix, ok := inviteHosts[host]
	if !ok {
		return false
	}
	path := parsed.EscapedPath()
	if prefix == "" {
		return len(strings.Trim(path, "/")) > 0
	}
	return strings.HasPrefix(path, prefix) && len(path) > len(prefix)
}
