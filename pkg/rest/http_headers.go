package rest

import (
	"net/http"
	"slices"
	"strings"
)

// Prefer holds the preferences of the Prefer request headers (RFC 7240)
// that the handlers honor. Unknown preferences and values are ignored.
type Prefer struct {
	Return string // minimal, representation or headers-only
	Count  string // exact, planned or estimated
}

var preferValues = map[string][]string{
	"return": {"minimal", "representation", "headers-only"},
	"count":  {"exact", "planned", "estimated"},
}

// parsePrefer returns nil when the request has no Prefer header.
func parsePrefer(r *http.Request) *Prefer {
	headers := r.Header.Values("Prefer")
	if len(headers) == 0 {
		return nil
	}

	p := &Prefer{}
	for _, header := range headers {
		for pref := range strings.SplitSeq(header, ",") {
			pref, _, _ = strings.Cut(pref, ";")
			key, value, ok := strings.Cut(pref, "=")
			if !ok {
				continue
			}
			key = strings.ToLower(strings.TrimSpace(key))
			value = strings.ToLower(strings.Trim(strings.TrimSpace(value), `"`))
			if !slices.Contains(preferValues[key], value) {
				continue
			}
			switch key {
			case "return":
				p.Return = value
			case "count":
				p.Count = value
			}
		}
	}
	return p
}

func (p *Prefer) WantsMinimal() bool {
	return p != nil && p.Return == "minimal"
}

func (p *Prefer) WantsRepresentation() bool {
	return p != nil && p.Return == "representation"
}

func (p *Prefer) WantsHeadersOnly() bool {
	return p != nil && p.Return == "headers-only"
}

// WantsCount reports whether the client wants the total in the
// Content-Range header. Planned and estimated counts are answered exactly.
func (p *Prefer) WantsCount() bool {
	return p != nil && p.Count != ""
}

// applied records an honored preference in the Preference-Applied header.
func applied(w http.ResponseWriter, pref, value string) {
	w.Header().Add("Preference-Applied", pref+"="+value)
}
