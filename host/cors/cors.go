// Package cors implements Cross-Origin Resource Sharing for the Host's
// REST surface (spec §6): it decides, per browser-originated request,
// which origins may call into the Host and PubSub REST surfaces, and
// which of Dream's own reserved wire headers (spec §3 "Reserved
// headers") a cross-origin caller may send or read.
package cors

import (
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"dream/config"
	"dream/message"
)

// Wrap fits handler with the CORS policy derived from cfg, logging every
// preflight decision when cfg.Debug is set.
func Wrap(cfg *config.CORS, staticAllowedHeaders, staticExposedHeaders []string, handler http.Handler) http.Handler {
	policy := cors.New(Options(cfg, staticAllowedHeaders, staticExposedHeaders))
	if cfg.Debug {
		logger := log.With().Str("subsystem", "cors").Logger()
		logger.Debug().Msg("cors running in debug mode, logging every preflight decision")
		policy.Log = &logger
	}
	return policy.Handler(handler)
}

// reservedHeaders are the wire headers spec §3 reserves for Dream's own
// request/event plumbing (request-id, and the event-* headers a pubsub
// recipient or upstream listener reads off a delivery). A browser client
// needs these allowed on the way in and exposed on the way out
// regardless of what a particular service's config adds.
var reservedHeaders = []string{
	message.HeaderRequestID,
	message.HeaderEventID,
	message.HeaderEventChannel,
	message.HeaderEventOrigin,
	message.HeaderEventRecipients,
	message.HeaderEventVia,
}

// Options builds the CORS policy for cfg. staticAllowedHeaders and
// staticExposedHeaders let a caller (a hosted service, via its own
// config) add headers beyond cfg's and the reserved set.
func Options(cfg *config.CORS, staticAllowedHeaders, staticExposedHeaders []string) cors.Options {
	// Sorted so AllowOriginRequestFunc below can binary-search them.
	originsWithCreds := sortedSliceCopy(cfg.AllowOriginsWithCredentials)
	originsWithoutCreds := sortedSliceCopy(cfg.AllowOriginsWithoutCredentials)
	globsWithCreds := globOrigins(cfg.AllowOriginsWithCredentials)
	globsWithoutCreds := globOrigins(cfg.AllowOriginsWithoutCredentials)

	wildcardWithoutCreds := cfg.AllowOriginsWithoutCredentials == nil || sortedSliceContains(originsWithoutCreds, "*")
	unsafeWildcardWithCreds := sortedSliceContains(originsWithCreds, config.UnsafeAllOriginWithCredentials)

	allowedHeaders := append([]string{"Authorization", "Content-Type"}, reservedHeaders...)
	allowedHeaders = append(allowedHeaders, cfg.ExtraAllowedHeaders...)
	allowedHeaders = append(allowedHeaders, staticAllowedHeaders...)

	exposedHeaders := append([]string{}, reservedHeaders...)
	exposedHeaders = append(exposedHeaders, cfg.ExtraExposedHeaders...)
	exposedHeaders = append(exposedHeaders, staticExposedHeaders...)

	// Sorted only so the resulting header lines look the same across runs.
	sort.Strings(allowedHeaders)
	sort.Strings(exposedHeaders)

	return cors.Options{
		Debug:               cfg.Debug,
		AllowCredentials:    !cfg.DisableCredentials,
		AllowedMethods:      []string{"GET", "POST", "PUT", "PATCH", "HEAD", "DELETE", "OPTIONS", "TRACE", "CONNECT"},
		AllowedHeaders:      allowedHeaders,
		ExposedHeaders:      exposedHeaders,
		AllowPrivateNetwork: cfg.AllowPrivateNetworkAccess,
		AllowOriginRequestFunc: func(r *http.Request, origin string) bool {
			// Credentials are cookies (the pubsub access-key cookie among
			// them), an Authorization header, or a TLS client certificate.
			hasCreds := len(r.Cookies()) > 0 || r.Header["Authorization"] != nil || (r.TLS != nil && len(r.TLS.PeerCertificates) > 0)
			if hasCreds {
				if unsafeWildcardWithCreds || sortedSliceContains(originsWithCreds, origin) {
					return true
				}
				return globsWithCreds.Matches(origin) || globsWithoutCreds.Matches(origin)
			}
			// Post-condition: request carries no credentials.
			if wildcardWithoutCreds {
				return true
			}
			return sortedSliceContains(originsWithoutCreds, origin)
		},
	}
}

func sortedSliceContains(haystack []string, needle string) bool {
	idx := sort.SearchStrings(haystack, needle)
	return idx < len(haystack) && haystack[idx] == needle
}

func sortedSliceCopy(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	sort.Strings(dst)
	return dst
}

// globOriginSet matches an origin against a set of glob patterns (each
// parsed once, since only the hostname component is ever wildcarded).
type globOriginSet []*url.URL

func (s globOriginSet) Matches(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, pattern := range s {
		if globMatch(pattern, u) {
			return true
		}
	}
	return false
}

func globMatch(pattern, origin *url.URL) bool {
	if pattern.Scheme != origin.Scheme {
		return false
	}
	if normalizedPort(pattern) != normalizedPort(origin) {
		return false
	}
	// Only the hostname may carry a glob; filepath.Match is adequate for
	// the single-`*`-per-label patterns this config format allows.
	matched, err := filepath.Match(pattern.Hostname(), origin.Hostname())
	return matched && err == nil
}

func normalizedPort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

func globOrigins(origins []string) globOriginSet {
	var globs globOriginSet
	for _, o := range origins {
		if o == "*" {
			// "*" is the literal wildcard-all sentinel, not a glob pattern.
			continue
		}
		if !strings.Contains(o, "*") {
			continue
		}
		if u, err := url.Parse(o); err == nil {
			globs = append(globs, u)
		}
	}
	return globs
}
