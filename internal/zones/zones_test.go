package zones

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewRouter(DefaultConfig())
	require.NoError(t, err)
	return r
}

func TestRouteByAddress(t *testing.T) {
	r := defaultRouter(t)

	tests := []struct {
		address string
		want    string
	}{
		{"Railway Station", "Zone 1 - North Gonda"},
		{"near CIVIL LINES crossing", "Zone 1 - North Gonda"},
		{"Colonelganj market", "Zone 2 - South Gonda"},
		{"Wazirganj road", "Zone 3 - East Gonda"},
		{"Nawabganj bus stand", "Zone 4 - West Gonda"},
		{"somewhere unknown", "Zone 5 - Central Gonda"},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Route(tt.address, 0, 0))
		})
	}
}

func TestRouteFirstListedZoneWins(t *testing.T) {
	r := defaultRouter(t)
	// "katra" belongs to zone 2 but "station" is listed earlier under zone 1.
	zone, reason := r.RouteWithReason("Katra station road", 0, 0)
	assert.Equal(t, "Zone 1 - North Gonda", zone)
	assert.Equal(t, ByAddress, reason)
}

func TestRouteByCoordinates(t *testing.T) {
	r := defaultRouter(t)

	zone, reason := r.RouteWithReason("", 27.1760, 81.9655)
	assert.Equal(t, "Zone 1 - North Gonda", zone)
	assert.Equal(t, ByCoordinates, reason)

	zone, reason = r.RouteWithReason("", 27.1324, 81.9669)
	assert.Equal(t, "Zone 5 - Central Gonda", zone)
	assert.Equal(t, ByCoordinates, reason)

}

func TestUnmatchedAddressIgnoresCoordinates(t *testing.T) {
	r := defaultRouter(t)

	// The point lies inside the south zone, but an address was given.
	zone, reason := r.RouteWithReason("plot 12", 27.0850, 81.9650)
	assert.Equal(t, "Zone 5 - Central Gonda", zone)
	assert.Equal(t, ByDefault, reason)

	zone, reason = r.RouteWithReason("   ", 27.0850, 81.9650)
	assert.Equal(t, "Zone 2 - South Gonda", zone)
	assert.Equal(t, ByCoordinates, reason)
}

func TestRouteDefaults(t *testing.T) {
	r := defaultRouter(t)

	cases := []struct {
		name     string
		lat, lng float64
	}{
		{"unknown point", 0, 0},
		{"far away", 28.6139, 77.2090},
		{"nan", math.NaN(), 81.9},
		{"half known", 27.13, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			zone, reason := r.RouteWithReason("", c.lat, c.lng)
			assert.Equal(t, "Zone 5 - Central Gonda", zone)
			assert.Equal(t, ByDefault, reason)
		})
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r := defaultRouter(t)
	first := r.Route("Nehru Nagar", 27.13, 82.02)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, r.Route("Nehru Nagar", 27.13, 82.02))
	}
}

func TestNewRouterValidation(t *testing.T) {
	_, err := NewRouter(Config{})
	assert.Error(t, err)

	_, err = NewRouter(Config{Default: "Z", Zones: []Zone{{ID: "A"}, {ID: "A"}}})
	assert.Error(t, err)

	_, err = NewRouter(Config{Default: "Z", Zones: []Zone{{ID: "A", RadiusKm: -1}}})
	assert.Error(t, err)

	r, err := NewRouter(Config{Default: "Z", Zones: []Zone{{ID: "A", Keywords: []string{"  Alpha "}}}})
	require.NoError(t, err)
	assert.True(t, r.Known("Z"), "default zone is always listed")
	assert.Equal(t, "A", r.Route("ALPHA street", 0, 0))
	assert.Len(t, r.Zones(), 2)
}

func TestZonesReturnsCopy(t *testing.T) {
	r := defaultRouter(t)
	zs := r.Zones()
	zs[0].Keywords[0] = "mutated"
	assert.Equal(t, "Zone 1 - North Gonda", r.Route("station", 0, 0))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.toml")
	content := `
default = "Central"

[[zone]]
id = "North"
keywords = ["depot", "Mill"]
lat = 10.0
lng = 20.0
radius_km = 2.5

[[zone]]
id = "Central"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Central", cfg.Default)
	require.Len(t, cfg.Zones, 2)
	assert.Equal(t, 2.5, cfg.Zones[0].RadiusKm)

	r, err := NewRouter(cfg)
	require.NoError(t, err)
	assert.Equal(t, "North", r.Route("old mill lane", 0, 0))
	assert.Equal(t, "North", r.Route("", 10.001, 20.001))
	assert.Equal(t, "Central", r.Route("", 50, 50))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	r, err := Open("")
	require.NoError(t, err)
	assert.Equal(t, "Zone 5 - Central Gonda", r.Default())

	_, err = Open(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
