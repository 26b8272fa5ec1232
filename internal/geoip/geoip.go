// Package geoip resolves client addresses to ISO country codes for event
// enrichment.
package geoip

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// Range maps a CIDR block to a country code.
type Range struct {
	Net     string `json:"net"`
	Country string `json:"country"`
}

type cidrCountry struct {
	net     *net.IPNet
	country string
}

// GeoIP answers country lookups from a MaxMind database, a static range
// table, or both. The zero value and a nil pointer resolve nothing.
type GeoIP struct {
	reader *geoip2.Reader
	ranges []cidrCountry
}

// Init opens path as a MaxMind database. Files that are not MaxMind databases
// are read as a JSON array of Range entries.
func Init(path string) (*GeoIP, error) {
	reader, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{reader: reader}, nil
	}
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, fmt.Errorf("open geoip %s: %w", path, err)
	}
	var entries []Range
	if jerr := json.Unmarshal(data, &entries); jerr != nil {
		return nil, fmt.Errorf("open geoip %s: not a maxmind db (%v) or range table (%v)", path, err, jerr)
	}
	return NewStatic(entries)
}

// NewStatic builds a lookup from ranges. Malformed CIDRs are rejected.
func NewStatic(entries []Range) (*GeoIP, error) {
	g := &GeoIP{ranges: make([]cidrCountry, 0, len(entries))}
	for _, e := range entries {
		_, n, err := net.ParseCIDR(e.Net)
		if err != nil {
			return nil, fmt.Errorf("geoip range %q: %w", e.Net, err)
		}
		g.ranges = append(g.ranges, cidrCountry{net: n, country: e.Country})
	}
	return g, nil
}

// Country returns the ISO code for ip or "" when unknown.
func (g *GeoIP) Country(ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	if g.reader != nil {
		if rec, err := g.reader.Country(ip); err == nil && rec.Country.IsoCode != "" {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.ranges {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// Close releases the MaxMind reader, if any.
func (g *GeoIP) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}
