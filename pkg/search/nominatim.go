package search

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/muesli/gominatim"

	"github.com/rubiojr/minaplatser/pkg/logger"
)

// DefaultNominatimServer is the public OSM instance.
const DefaultNominatimServer = "https://nominatim.openstreetmap.org"

var (
	serverOnce sync.Once
	serverURL  string
)

// Nominatim geocodes with a Nominatim server.
type Nominatim struct{}

// NewNominatim configures the server used by all Nominatim geocoders. The
// client library keeps the server globally, so only the first call wins.
func NewNominatim(server string) *Nominatim {
	if strings.TrimSpace(server) == "" {
		server = DefaultNominatimServer
	}
	serverOnce.Do(func() {
		serverURL = server
		gominatim.SetServer(server)
	})
	if server != serverURL {
		logger.Warn("search: nominatim server already set to %s, ignoring %s", serverURL, server)
	}
	return &Nominatim{}
}

func (n *Nominatim) Geocode(ctx context.Context, q string, limit int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qObj := gominatim.SearchQuery{
		Q:     q,
		Limit: limit,
	}
	res, err := qObj.Get()
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(res))
	for _, r := range res {
		if r.DisplayName == "" {
			continue
		}
		lat, _ := strconv.ParseFloat(r.Lat, 64)
		lon, _ := strconv.ParseFloat(r.Lon, 64)
		out = append(out, Result{
			Name:   r.DisplayName,
			Lat:    lat,
			Lng:    lon,
			Source: "geocode",
			Class:  r.Class,
			Type:   r.Type,
		})
	}
	return out, nil
}
