package urlutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidateURL performs comprehensive URL validation
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: must be http or https, got %s", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}

	return nil
}

// ResolveURL resolves a possibly-relative href against a base URL and returns a string
func ResolveURL(base, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.IsAbs() {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(u).String()
}

// SiteURL is the public origin channel and video links point to
const SiteURL = "https://www.youtube.com"

var (
	channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)
	handlePattern    = regexp.MustCompile(`^@[0-9A-Za-z._-]{3,30}$`)
	videoIDPattern   = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
)

// ChannelRef identifies a channel by exactly one of its id, @handle or legacy username
type ChannelRef struct {
	ID       string
	Handle   string
	Username string
}

// String returns the canonical form used in logs and job payloads
func (r ChannelRef) String() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.Handle != "":
		return r.Handle
	default:
		return r.Username
	}
}

// URL returns the public channel page
func (r ChannelRef) URL() string {
	switch {
	case r.ID != "":
		return SiteURL + "/channel/" + r.ID
	case r.Handle != "":
		return SiteURL + "/" + r.Handle
	default:
		return SiteURL + "/user/" + r.Username
	}
}

// VideosURL returns the channel's uploads tab
func (r ChannelRef) VideosURL() string {
	return r.URL() + "/videos"
}

// IsChannelID reports whether s looks like a channel id
func IsChannelID(s string) bool {
	return channelIDPattern.MatchString(s)
}

// ParseChannel accepts a channel id, an @handle, or a channel URL in the
// /channel/, /@handle, /user/ or /c/ forms
func ParseChannel(input string) (ChannelRef, error) {
	s := strings.TrimSpace(input)
	switch {
	case s == "":
		return ChannelRef{}, fmt.Errorf("empty channel reference")
	case IsChannelID(s):
		return ChannelRef{ID: s}, nil
	case handlePattern.MatchString(s):
		return ChannelRef{Handle: s}, nil
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ChannelRef{}, fmt.Errorf("invalid channel reference %q: %w", input, err)
	}
	if !isSiteHost(u.Hostname()) {
		return ChannelRef{}, fmt.Errorf("invalid channel reference %q: not a channel URL", input)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) >= 2 && parts[0] == "channel" && IsChannelID(parts[1]):
		return ChannelRef{ID: parts[1]}, nil
	case len(parts) >= 1 && handlePattern.MatchString(parts[0]):
		return ChannelRef{Handle: parts[0]}, nil
	case len(parts) >= 2 && (parts[0] == "user" || parts[0] == "c") && parts[1] != "":
		return ChannelRef{Username: parts[1]}, nil
	}
	return ChannelRef{}, fmt.Errorf("invalid channel reference %q: unrecognized path", input)
}

// VideoURL returns the watch page of a video
func VideoURL(id string) string {
	return SiteURL + "/watch?v=" + id
}

// ParseVideoID extracts the video id from a watch, short or youtu.be URL, or
// returns s unchanged when it is already an id
func ParseVideoID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if videoIDPattern.MatchString(s) {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}

	var id string
	switch host := u.Hostname(); {
	case host == "youtu.be":
		id = strings.Trim(u.Path, "/")
	case isSiteHost(host) && u.Path == "/watch":
		id = u.Query().Get("v")
	case isSiteHost(host) && strings.HasPrefix(u.Path, "/shorts/"):
		id = strings.TrimPrefix(u.Path, "/shorts/")
	}
	if videoIDPattern.MatchString(id) {
		return id, true
	}
	return "", false
}

func isSiteHost(host string) bool {
	switch host {
	case "youtube.com", "www.youtube.com", "m.youtube.com":
		return true
	}
	return false
}
