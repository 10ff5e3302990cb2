package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

type localeDetector struct {
	matcher   language.Matcher
	canonical []string
	fallback  string
	lookup    CountryLookup
}

// Locale resolves the request locale and stores it in the context. Sources are
// tried in order: the X-Locale header, Accept-Language, the caller's country
// (header hint, then IP lookup), and finally the configured default.
func Locale(defaultLocale string, supported []string, lookup CountryLookup) func(http.Handler) http.Handler {
	d := newLocaleDetector(defaultLocale, supported, lookup)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), LocaleKey, d.detect(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newLocaleDetector(defaultLocale string, supported []string, lookup CountryLookup) *localeDetector {
	tags := make([]language.Tag, 0, len(supported))
	canonical := make([]string, 0, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		canonical = append(canonical, s)
	}
	if len(tags) == 0 {
		tags = []language.Tag{language.English}
		canonical = []string{"en"}
	}
	if defaultLocale == "" {
		defaultLocale = canonical[0]
	}
	return &localeDetector{
		matcher:   language.NewMatcher(tags),
		canonical: canonical,
		fallback:  defaultLocale,
		lookup:    lookup,
	}
}

func (d *localeDetector) detect(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		if tag, err := language.Parse(v); err == nil {
			if loc, ok := d.match(tag); ok {
				return loc
			}
		}
	}
	if al := r.Header.Get("Accept-Language"); al != "" {
		if prefs, _, err := language.ParseAcceptLanguage(al); err == nil {
			if loc, ok := d.match(prefs...); ok {
				return loc
			}
		}
	}
	if country := resolveCountry(r, d.lookup); country != "" {
		if region, err := language.ParseRegion(country); err == nil {
			// und-XX lets the matcher pick the region's likely language.
			if tag, err := language.Compose(region); err == nil {
				if loc, ok := d.match(tag); ok {
					return loc
				}
			}
		}
	}
	return d.fallback
}

func (d *localeDetector) match(prefs ...language.Tag) (string, bool) {
	if len(prefs) == 0 {
		return "", false
	}
	_, idx, conf := d.matcher.Match(prefs...)
	if conf == language.No {
		return "", false
	}
	return d.canonical[idx], true
}

// resolveCountry returns a best-effort ISO country code for the request,
// preferring proxy-provided hints over an IP lookup.
func resolveCountry(r *http.Request, lookup CountryLookup) string {
	for _, key := range []string{"X-Country-Code", "CF-IPCountry"} {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if lookup == nil {
		return ""
	}
	ip := clientIP(r)
	if ip == "" {
		return ""
	}
	country, err := lookup(ip)
	if err != nil {
		return ""
	}
	return strings.ToUpper(country)
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		if parts := strings.Split(xf, ","); len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}
