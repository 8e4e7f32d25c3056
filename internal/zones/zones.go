// Package zones maps a report's address or coordinates to the zone whose
// worker pool is responsible for it.
package zones

import (
	"fmt"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
)

// Zone is one routing target. Keywords are matched as case-insensitive
// substrings of the address; the centroid and radius cover coordinates.
type Zone struct {
	ID       string   `toml:"id" json:"id"`
	Keywords []string `toml:"keywords" json:"keywords"`
	Lat      float64  `toml:"lat" json:"lat"`
	Lng      float64  `toml:"lng" json:"lng"`
	RadiusKm float64  `toml:"radius_km" json:"radius_km"`
}

// Config is the zone set. Zone order is rule order.
type Config struct {
	Default string `toml:"default" json:"default"`
	Zones   []Zone `toml:"zone" json:"zones"`
}

// DefaultConfig returns the built-in Gonda zone set.
func DefaultConfig() Config {
	return Config{
		Default: "Zone 5 - Central Gonda",
		Zones: []Zone{
			{ID: "Zone 1 - North Gonda", Keywords: []string{"station", "railway", "civil lines", "nehru"}, Lat: 27.1750, Lng: 81.9650, RadiusKm: 4},
			{ID: "Zone 2 - South Gonda", Keywords: []string{"colonelganj", "mankapur", "katra"}, Lat: 27.0850, Lng: 81.9650, RadiusKm: 4},
			{ID: "Zone 3 - East Gonda", Keywords: []string{"paraspur", "itiathok", "wazirganj"}, Lat: 27.1300, Lng: 82.0200, RadiusKm: 4},
			{ID: "Zone 4 - West Gonda", Keywords: []string{"bahraich", "jhilahi", "nawabganj"}, Lat: 27.1300, Lng: 81.9100, RadiusKm: 4},
			{ID: "Zone 5 - Central Gonda", Lat: 27.1324, Lng: 81.9669, RadiusKm: 3},
		},
	}
}

// LoadFile reads a zone set from a TOML file:
//
//	default = "Zone 5 - Central Gonda"
//	[[zone]]
//	id = "Zone 1 - North Gonda"
//	keywords = ["station", "railway"]
//	lat = 27.175
//	lng = 81.965
//	radius_km = 4
func LoadFile(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode zones file %s: %w", path, err)
	}
	return cfg, nil
}

// Open builds a router from path, or from the built-in zones when path
// is empty.
func Open(path string) (*Router, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	return NewRouter(cfg)
}

// Reason says which rule produced a routing decision.
type Reason string

const (
	ByAddress     Reason = "address"
	ByCoordinates Reason = "coordinates"
	ByDefault     Reason = "default"
)

// Router is immutable after construction and safe for concurrent use.
type Router struct {
	def   string
	zones []Zone
}

// NewRouter validates cfg and normalizes its keywords.
func NewRouter(cfg Config) (*Router, error) {
	if strings.TrimSpace(cfg.Default) == "" {
		return nil, fmt.Errorf("zones: default zone is required")
	}

	seen := make(map[string]bool, len(cfg.Zones))
	zones := make([]Zone, 0, len(cfg.Zones)+1)
	for _, z := range cfg.Zones {
		if z.ID == "" {
			return nil, fmt.Errorf("zones: zone with empty id")
		}
		if seen[z.ID] {
			return nil, fmt.Errorf("zones: duplicate zone %q", z.ID)
		}
		if z.RadiusKm < 0 {
			return nil, fmt.Errorf("zones: zone %q has negative radius", z.ID)
		}
		seen[z.ID] = true

		kw := make([]string, 0, len(z.Keywords))
		for _, k := range z.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		z.Keywords = kw
		zones = append(zones, z)
	}
	if !seen[cfg.Default] {
		zones = append(zones, Zone{ID: cfg.Default})
	}

	return &Router{def: cfg.Default, zones: zones}, nil
}

// Route returns the zone for a submission. It never fails: missing or
// unmatched information degrades to the default zone.
func (r *Router) Route(address string, lat, lng float64) string {
	zone, _ := r.RouteWithReason(address, lat, lng)
	return zone
}

// RouteWithReason is Route plus the rule that decided it.
//
// A non-empty address decides alone: it maps to the first zone with a
// matching keyword, or to the default zone. Coordinates are only used
// when no address was given.
func (r *Router) RouteWithReason(address string, lat, lng float64) (string, Reason) {
	if addr := strings.ToLower(strings.TrimSpace(address)); addr != "" {
		for _, z := range r.zones {
			for _, k := range z.Keywords {
				if strings.Contains(addr, k) {
					return z.ID, ByAddress
				}
			}
		}
		return r.def, ByDefault
	}

	if knownCoordinates(lat, lng) {
		best, bestDist := "", math.MaxFloat64
		for _, z := range r.zones {
			if z.RadiusKm == 0 {
				continue
			}
			d := haversineKm(lat, lng, z.Lat, z.Lng)
			if d <= z.RadiusKm && d < bestDist {
				best, bestDist = z.ID, d
			}
		}
		if best != "" {
			return best, ByCoordinates
		}
	}

	return r.def, ByDefault
}

// Default returns the fallback zone id.
func (r *Router) Default() string { return r.def }

// Zones returns a copy of the configured zones in rule order.
func (r *Router) Zones() []Zone {
	out := make([]Zone, len(r.zones))
	for i, z := range r.zones {
		z.Keywords = append([]string(nil), z.Keywords...)
		out[i] = z
	}
	return out
}

// Known reports whether id is a configured zone.
func (r *Router) Known(id string) bool {
	for _, z := range r.zones {
		if z.ID == id {
			return true
		}
	}
	return false
}

func knownCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat != 0 && lng != 0
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
