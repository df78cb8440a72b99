// Package condition assigns each device to one of the three experimental
// arms and keeps the assignment stable across visits.
//
// Resolution order per page load: a request-supplied override (query
// parameter aliases, then the fragment form), the assignment cached for
// the device, and finally the fixed default. Overrides persist; invalid
// tokens are silently ignored and fall through to the next source. There
// is no error path; storage trouble degrades to the default arm.
package condition

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ModalMetrics/GiftFlow/internal/models"
	"github.com/ModalMetrics/GiftFlow/internal/store"
)

// Assignment sources, recorded alongside the persisted condition.
const (
	SourceQuery    = "query"
	SourceFragment = "fragment"
	SourceCached   = "cached"
	SourceDefault  = "default"
)

// paramAliases are the interchangeable query parameter names carrying a
// condition override, highest priority first.
var paramAliases = []string{"cond", "condition", "c"}

// Resolution is the outcome of resolving a device's condition.
type Resolution struct {
	Condition models.Condition
	// Source says which resolution tier produced the condition.
	Source string
	// CleanURL is the page URL with every condition token stripped, so the
	// assignment is not visibly repeated in the address bar.
	CleanURL string
}

// Resolver assigns conditions, caching them per device in the store.
type Resolver struct {
	st store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{st: st}
}

// Resolve determines the condition for a device loading the given page
// URL. A valid request-supplied token overrides and replaces any cached
// assignment; otherwise the cached value is reused; otherwise the default
// arm is assigned and persisted.
func (r *Resolver) Resolve(deviceID, pageURL string) Resolution {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		slog.Warn("Resolver.Resolve: unparseable page URL", "deviceID", deviceID, "error", err)
		parsed = nil
	}

	if parsed != nil {
		if cond, source, ok := extractOverride(parsed); ok {
			r.persist(deviceID, cond, source)
			slog.Info("Resolver.Resolve: request override", "deviceID", deviceID, "condition", cond, "source", source)
			return Resolution{Condition: cond, Source: source, CleanURL: cleanURL(parsed)}
		}
	}

	clean := pageURL
	if parsed != nil {
		clean = cleanURL(parsed)
	}

	cached, err := r.st.GetConditionAssignment(deviceID)
	if err != nil {
		slog.Warn("Resolver.Resolve: assignment lookup failed, using default", "deviceID", deviceID, "error", err)
		return Resolution{Condition: models.DefaultCondition, Source: SourceDefault, CleanURL: clean}
	}
	if cached != nil && models.IsValidCondition(cached.Condition) {
		slog.Debug("Resolver.Resolve: cached assignment", "deviceID", deviceID, "condition", cached.Condition)
		return Resolution{Condition: cached.Condition, Source: SourceCached, CleanURL: clean}
	}

	r.persist(deviceID, models.DefaultCondition, SourceDefault)
	slog.Info("Resolver.Resolve: default assigned", "deviceID", deviceID, "condition", models.DefaultCondition)
	return Resolution{Condition: models.DefaultCondition, Source: SourceDefault, CleanURL: clean}
}

// persist writes the assignment, preserving the original creation time on
// override. Failures are logged and swallowed; assignment never fails.
func (r *Resolver) persist(deviceID string, cond models.Condition, source string) {
	if deviceID == "" {
		slog.Warn("Resolver.persist: no device ID, skipping persistence", "condition", cond)
		return
	}
	now := time.Now()
	a := models.ConditionAssignment{
		DeviceID:  deviceID,
		Condition: cond,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, err := r.st.GetConditionAssignment(deviceID); err == nil && prev != nil {
		a.CreatedAt = prev.CreatedAt
	}
	if err := r.st.SaveConditionAssignment(a); err != nil {
		slog.Warn("Resolver.persist: save failed", "deviceID", deviceID, "condition", cond, "error", err)
	}
}

// extractOverride pulls a valid condition token out of the request URL:
// the query aliases in priority order first, then the fragment, which may
// be either key=value ("#cond=B") or the bare token ("#B"). Invalid
// tokens are skipped.
func extractOverride(u *url.URL) (models.Condition, string, bool) {
	values := u.Query()
	for _, alias := range paramAliases {
		for key, vals := range values {
			if !strings.EqualFold(key, alias) || len(vals) == 0 {
				continue
			}
			if cond, err := models.ParseCondition(vals[0]); err == nil {
				return cond, SourceQuery, true
			}
		}
	}

	frag := strings.TrimSpace(u.Fragment)
	for _, alias := range paramAliases {
		if rest, ok := cutPrefixFold(frag, alias+"="); ok {
			if cond, err := models.ParseCondition(rest); err == nil {
				return cond, SourceFragment, true
			}
		}
	}
	if cond, err := models.ParseCondition(frag); err == nil {
		return cond, SourceFragment, true
	}
	return "", "", false
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding on the prefix.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// cleanURL strips the condition aliases from the query and the condition
// fragment forms, leaving everything else in place.
func cleanURL(u *url.URL) string {
	cleaned := *u
	values := cleaned.Query()
	for key := range values {
		for _, alias := range paramAliases {
			if strings.EqualFold(key, alias) {
				values.Del(key)
			}
		}
	}
	cleaned.RawQuery = values.Encode()

	if isConditionFragment(cleaned.Fragment) {
		cleaned.Fragment = ""
	}
	return cleaned.String()
}

// isConditionFragment reports whether a fragment carried a condition
// token, valid or not, in either form.
func isConditionFragment(frag string) bool {
	frag = strings.TrimSpace(frag)
	if frag == "" {
		return false
	}
	if _, err := models.ParseCondition(frag); err == nil {
		return true
	}
	for _, alias := range paramAliases {
		if _, ok := cutPrefixFold(frag, alias+"="); ok {
			return true
		}
	}
	return false
}
