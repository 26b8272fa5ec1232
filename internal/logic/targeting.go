package logic

import (
	"net"
	"net/http"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/dcoserve/internal/geoip"
)

// RequestContext is the contextual data attached to recorded events.
type RequestContext struct {
	DeviceType string
	Country    string
	IsBot      bool
}

// DeviceTypeFromUA maps a raw User-Agent onto a coarse device class.
func DeviceTypeFromUA(uaString string) (deviceType string, isBot bool) {
	if uaString == "" {
		return "", false
	}
	u := uasurfer.Parse(uaString)
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "desktop"
	case uasurfer.DevicePhone:
		deviceType = "mobile"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	default:
		deviceType = "other"
	}
	return deviceType, u.IsBot()
}

// ClientIP returns the first X-Forwarded-For hop, falling back to RemoteAddr.
func ClientIP(r *http.Request) net.IP {
	ipStr := r.Header.Get("X-Forwarded-For")
	if ipStr == "" {
		ipStr = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ipStr); err == nil {
			ipStr = host
		}
	} else if idx := strings.Index(ipStr, ","); idx != -1 {
		ipStr = ipStr[:idx]
	}
	return net.ParseIP(strings.TrimSpace(ipStr))
}

// ResolveRequestContext extracts device type and country from an HTTP request.
// A nil geo database leaves Country empty.
func ResolveRequestContext(r *http.Request, geo *geoip.GeoIP) RequestContext {
	var rc RequestContext
	rc.DeviceType, rc.IsBot = DeviceTypeFromUA(r.Header.Get("User-Agent"))
	if geo != nil {
		if ip := ClientIP(r); ip != nil {
			rc.Country = geo.Country(ip)
		}
	}
	return rc
}
