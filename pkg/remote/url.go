package remote

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// URLOptions restricts which chat servers the client may talk to.
type URLOptions struct {
	// AllowHTTP permits plain HTTP base URLs. HTTPS is always allowed.
	AllowHTTP bool
	// AllowLocalNetworks permits loopback/private/link-local targets and localhost hostnames.
	AllowLocalNetworks bool
}

// ParseBaseURL validates rawURL and returns it with any trailing slash removed
// from the path.
func ParseBaseURL(rawURL string, opts URLOptions) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !opts.AllowHTTP {
			return nil, errors.Errorf("http scheme is not allowed for %s", rawURL)
		}
	default:
		return nil, errors.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, errors.New("base URL host is required")
	}

	if !opts.AllowLocalNetworks {
		if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
			return nil, errors.Errorf("local hostname %q is not allowed", host)
		}
	}

	// IP literals are checked without DNS lookups
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" && !opts.AllowLocalNetworks {
			return nil, errors.Errorf("zoned IP address %q is not allowed", host)
		}
		addr = addr.Unmap()

		if addr.IsUnspecified() || addr.IsMulticast() {
			return nil, errors.Errorf("disallowed IP address %q", host)
		}
		if !opts.AllowLocalNetworks {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
				return nil, errors.Errorf("local network IP %q is not allowed", host)
			}
		}
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}
