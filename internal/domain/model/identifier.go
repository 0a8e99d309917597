package model

import (
	"errors"
	"regexp"
	"strings"
)

// IdentifierKind tells how an identifier is resolved to a content source.
type IdentifierKind int

const (
	// KindContentAddressed identifiers are magnet URIs carrying a 40-character hex info-hash.
	KindContentAddressed IdentifierKind = iota + 1
	// KindRemoteFetch identifiers are URLs of a descriptor (.torrent) file.
	KindRemoteFetch
)

func (k IdentifierKind) String() string {
	switch k {
	case KindContentAddressed:
		return "content_addressed"
	case KindRemoteFetch:
		return "remote_fetch"
	default:
		return "unknown"
	}
}

const magnetPrefix = "magnet:"

var infoHashPattern = regexp.MustCompile(`(?i)urn:btih:([0-9a-f]{40})(?:[^0-9a-z]|$)`)

// remoteSchemes are the URL prefixes accepted for remote-fetch identifiers.
var remoteSchemes = []string{"http://", "https://", "s3://"}

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Identifier is a parsed, immutable reference to a content source.
type Identifier struct {
	// Raw is the identifier as supplied by the client.
	Raw string
	// Kind selects the resolution strategy.
	Kind IdentifierKind
	// Token is the lowercase info-hash for content-addressed identifiers
	// and the URL itself for remote-fetch identifiers.
	Token string
}

// ParseIdentifier classifies raw as a content-addressed or remote-fetch identifier.
func ParseIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, ErrInvalidIdentifier
	}

	if strings.HasPrefix(strings.ToLower(raw), magnetPrefix) {
		m := infoHashPattern.FindStringSubmatch(raw)
		if m == nil {
			return Identifier{}, ErrInvalidIdentifier
		}
		return Identifier{
			Raw:   raw,
			Kind:  KindContentAddressed,
			Token: strings.ToLower(m[1]),
		}, nil
	}

	lower := strings.ToLower(raw)
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(lower, scheme) && len(raw) > len(scheme) {
			return Identifier{
				Raw:   raw,
				Kind:  KindRemoteFetch,
				Token: raw,
			}, nil
		}
	}

	return Identifier{}, ErrInvalidIdentifier
}

// Key returns the key used for handle lookup and catalog caching.
func (id Identifier) Key() string {
	return id.Token
}
