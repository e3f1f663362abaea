package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocumentVersion is the interchange format version written on export.
const DocumentVersion = 1

// ErrBadDocument marks an import payload that is not JSON at all. A
// parseable document never produces it; malformed entries inside one
// degrade field by field instead.
var ErrBadDocument = errors.New("profile document is not valid JSON")

// Document is the user-facing export/import JSON shape.
type Document struct {
	Version          int           `json:"version"`
	Enabled          bool          `json:"enabled"`
	Headers          []HeaderEntry `json:"headers"`
	Domains          []string      `json:"domains"`
	DomainMatchMode  MatchMode     `json:"domainMatchMode"`
	TemporaryMinutes int           `json:"temporaryMinutes"`
}

// Export renders a profile as an interchange document. A pending expiry
// is exported as the whole minutes remaining relative to now, rounded up
// so a re-import never shortens the window; an elapsed or absent expiry
// exports as zero.
func Export(p *Profile, now time.Time) Document {
	doc := Document{
		Version:         DocumentVersion,
		Enabled:         p.Enabled,
		Headers:         append([]HeaderEntry(nil), p.Headers...),
		Domains:         append([]string(nil), p.Domains...),
		DomainMatchMode: p.MatchMode,
	}
	if doc.Headers == nil {
		doc.Headers = []HeaderEntry{}
	}
	if doc.Domains == nil {
		doc.Domains = []string{}
	}
	if !p.ExpiresAt.IsZero() && p.ExpiresAt.After(now) {
		mins := int((p.ExpiresAt.Sub(now) + time.Minute - 1) / time.Minute)
		if mins > ExpiryMaxMinutes {
			mins = ExpiryMaxMinutes
		}
		doc.TemporaryMinutes = mins
	}
	return doc
}

// ParseDocument decodes an import document tolerantly. Only a document
// that is not JSON at all fails; inside a parseable document, malformed
// entries degrade field by field: non-object header entries and
// non-string domain entries are dropped, an unrecognized match mode
// falls back to the default, and a missing or invalid header list falls
// back to a single blank entry.
func ParseDocument(data []byte) (Document, error) {
	var raw struct {
		Version          json.RawMessage   `json:"version"`
		Enabled          bool              `json:"enabled"`
		Headers          []json.RawMessage `json:"headers"`
		Domains          []json.RawMessage `json:"domains"`
		DomainMatchMode  string            `json:"domainMatchMode"`
		TemporaryMinutes json.RawMessage   `json:"temporaryMinutes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}

	doc := Document{
		Version: DocumentVersion,
		Enabled: raw.Enabled,
	}

	for _, h := range raw.Headers {
		var entry HeaderEntry
		if err := json.Unmarshal(h, &entry); err != nil {
			continue
		}
		doc.Headers = append(doc.Headers, entry)
	}
	if doc.Headers == nil {
		doc.Headers = []HeaderEntry{{}}
	}

	doc.Domains = []string{}
	for _, d := range raw.Domains {
		var s string
		// A JSON null unmarshals into an unchanged target with no
		// error, so the empty string also marks a non-string entry.
		if err := json.Unmarshal(d, &s); err != nil || s == "" {
			continue
		}
		doc.Domains = append(doc.Domains, s)
	}

	switch MatchMode(raw.DomainMatchMode) {
	case MatchExactHost, MatchHostAndSubdomains, MatchSubdomainsOnly:
		doc.DomainMatchMode = MatchMode(raw.DomainMatchMode)
	default:
		doc.DomainMatchMode = DefaultMatchMode
	}

	if len(raw.TemporaryMinutes) > 0 {
		var mins int
		if err := json.Unmarshal(raw.TemporaryMinutes, &mins); err == nil && mins >= 0 {
			doc.TemporaryMinutes = mins
		}
	}

	return doc, nil
}

// RawInput converts a document back into validator input.
func (d Document) RawInput() RawInput {
	in := RawInput{
		Headers:    d.Headers,
		DomainText: strings.Join(d.Domains, "\n"),
		MatchMode:  d.DomainMatchMode,
		Enabled:    d.Enabled,
	}
	if d.TemporaryMinutes > 0 {
		in.ExpiryMinutes = strconv.Itoa(d.TemporaryMinutes)
	}
	return in
}
