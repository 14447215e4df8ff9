package server

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	oauthcore "github.com/halcyonlabs/oauthcore"
	"github.com/halcyonlabs/oauthcore/internal/util"
	"github.com/halcyonlabs/oauthcore/storage"
)

// rfc3986Scheme matches any scheme RFC 3986 permits. Used when the
// operator has not restricted custom schemes.
var rfc3986Scheme = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)

// blockedSchemes are never acceptable in a redirect URI regardless of
// configuration. Each one is an XSS or local-file vector.
var blockedSchemes = map[string]bool{
	"javascript": true,
	"data":       true,
	"vbscript":   true,
	"file":       true,
	"blob":       true,
}

// compileSchemePatterns compiles the configured custom scheme allow-list.
func compileSchemePatterns(patterns []string) ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid custom scheme pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return res, nil
}

// resolveRedirectURI picks and validates the redirect URI for an
// authorization request. Exact string comparison only: no prefix, host or
// path normalization, so "https://a/cb" and "https://a/cb/" are distinct.
// A request may omit the URI only when the client registered exactly one.
func (s *Server) resolveRedirectURI(client *storage.Client, requested string) (string, error) {
	if requested == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", oauthcore.ErrRedirectURIMismatch
	}

	if err := s.screenRedirectURI(requested); err != nil {
		return "", err
	}

	for _, registered := range client.RedirectURIs {
		if registered == requested {
			return requested, nil
		}
	}

	s.logSecurityEvent("redirect:"+client.ID, "redirect_uri not registered",
		"client_id", client.ID,
		"redirect_uri", util.SafeTruncate(requested, 64))
	return "", oauthcore.ErrRedirectURIMismatch
}

// screenRedirectURI applies the structural security checks from the OAuth
// 2.0 Security BCP section 4.1: no fragments, no dangerous schemes, and
// plain http only on loopback interfaces.
func (s *Server) screenRedirectURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return oauthcore.ErrRedirectURIInvalid
	}

	if parsed.Fragment != "" {
		return oauthcore.ErrRedirectURIInvalid
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch {
	case scheme == "":
		return oauthcore.ErrRedirectURIInvalid
	case blockedSchemes[scheme]:
		return oauthcore.ErrRedirectURIInvalid
	case scheme == "https":
		return nil
	case scheme == "http":
		// http is tolerated for native-app loopback redirects only.
		if isLoopbackHost(parsed.Hostname()) {
			return nil
		}
		return oauthcore.ErrRedirectURIInvalid
	default:
		return s.screenCustomScheme(scheme)
	}
}

// screenCustomScheme applies the configured allow-list, falling back to
// the RFC 3986 scheme grammar when none is configured.
func (s *Server) screenCustomScheme(scheme string) error {
	if len(s.schemePatterns) == 0 {
		if rfc3986Scheme.MatchString(scheme) {
			return nil
		}
		return oauthcore.ErrRedirectURIInvalid
	}
	for _, re := range s.schemePatterns {
		if re.MatchString(scheme) {
			return nil
		}
	}
	return oauthcore.ErrRedirectURIInvalid
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validateScopes narrows a scope request against the client registration.
// An empty request falls back to the client's default scopes; a request
// naming any scope outside the client's allowed set is rejected wholesale
// rather than silently trimmed.
func validateScopes(client *storage.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		if len(client.DefaultScopes) == 0 {
			return nil, oauthcore.ErrScopeEmpty
		}
		granted := make([]string, len(client.DefaultScopes))
		copy(granted, client.DefaultScopes)
		return granted, nil
	}

	if !util.ContainsAll(client.Scopes, requested) {
		return nil, oauthcore.ErrScopeNotAllowed
	}

	granted := make([]string, len(requested))
	copy(granted, requested)
	return granted, nil
}
