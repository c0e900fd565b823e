package news

import (
	"net/url"
	"strings"
)

// Field limits mirrored by the database schema.
const (
	MaxURLLength         = 2048
	MaxChannelNameLength = 255
)

// ValidateArticleURL checks that raw is a well-formed, length-bounded
// absolute HTTP(S) URL.
func ValidateArticleURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return NewValidationError("url", "url is required")
	}
	if len(raw) > MaxURLLength {
		return NewValidationError("url", "url exceeds maximum length")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("url", "url is not well-formed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("url", "url scheme must be http or https")
	}
	if u.Host == "" {
		return NewValidationError("url", "url host is required")
	}
	return nil
}

// ValidateChannelName checks the channel name constraints.
func ValidateChannelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "name is required")
	}
	if len(name) > MaxChannelNameLength {
		return NewValidationError("name", "name exceeds maximum length")
	}
	return nil
}
