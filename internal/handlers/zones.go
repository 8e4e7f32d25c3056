package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/greencredits/report-server/internal/zones"
)

// ZoneHandler exposes the zone configuration reports are routed against.
type ZoneHandler struct {
	router *zones.Router
}

// NewZoneHandler creates a new zone handler
func NewZoneHandler(router *zones.Router) *ZoneHandler {
	return &ZoneHandler{router: router}
}

// List handles GET /api/v1/zones
func (h *ZoneHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"default": h.router.Default(),
		"zones":   h.router.Zones(),
	})
}

// Route handles GET /api/v1/zones/route?address=..&lat=..&lng=..
// It previews which zone a report would be sent to.
func (h *ZoneHandler) Route(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := parseCoord(q.Get("lat"))
	lng, err2 := parseCoord(q.Get("lng"))
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "lat and lng must be numbers")
		return
	}
	zone, reason := h.router.RouteWithReason(q.Get("address"), lat, lng)
	respondJSON(w, http.StatusOK, map[string]string{
		"zone":   zone,
		"reason": string(reason),
	})
}

func parseCoord(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
