package places

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/metrics"
)

// GPX exchange of places. Each place is a <wpt>; the radius travels in
// <desc> as "radius=N".

type gpxWaypoint struct {
	Lat  string `xml:"lat,attr"`
	Lon  string `xml:"lon,attr"`
	Time string `xml:"time"`
	Name string `xml:"name"`
	Desc string `xml:"desc"`
}

// latLng parses the waypoint position. Missing, malformed and out of range
// coordinates are rejected.
func (w gpxWaypoint) latLng() ([2]float64, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(w.Lat), 64)
	if err != nil || !(lat >= -90 && lat <= 90) {
		return [2]float64{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(w.Lon), 64)
	if err != nil || !(lon >= -180 && lon <= 180) {
		return [2]float64{}, false
	}
	return [2]float64{lat, lon}, true
}

type gpxRoot struct {
	Waypoints []gpxWaypoint `xml:"wpt"`
}

// ExportGPX writes every place as a GPX 1.1 waypoint.
func (s *Store) ExportGPX(w io.Writer) error {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<gpx version="1.1" creator="minaplatser" xmlns="http://www.topografix.com/GPX/1/1">` + "\n")
	for _, p := range s.All() {
		fmt.Fprintf(&b, "  <wpt lat=\"%s\" lon=\"%s\">\n", formatCoord(p.LatLng[0]), formatCoord(p.LatLng[1]))
		if p.Timestamp != "" {
			fmt.Fprintf(&b, "    <time>%s</time>\n", escapeXML(p.Timestamp))
		}
		if p.Name != "" {
			fmt.Fprintf(&b, "    <name>%s</name>\n", escapeXML(p.Name))
		}
		fmt.Fprintf(&b, "    <desc>radius=%d</desc>\n", p.Radius)
		b.WriteString("  </wpt>\n")
	}
	b.WriteString("</gpx>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// ImportGPX adds the waypoints of a GPX document as places, skipping
// coordinates that already have one and waypoints without a valid position.
// Waypoints without a time get now.
// The collection is persisted once.
func (s *Store) ImportGPX(ctx context.Context, r io.Reader, now time.Time) (ImportResult, error) {
	var root gpxRoot
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return ImportResult{}, fmt.Errorf("places: parse gpx: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res ImportResult
	next := append([]Place(nil), s.places...)
	seen := make(map[string]struct{}, len(next)+len(root.Waypoints))
	for _, p := range next {
		seen[coordKey(p.LatLng)] = struct{}{}
	}
	for _, w := range root.Waypoints {
		latlng, ok := w.latLng()
		if !ok {
			logger.Debug("places: skipping waypoint %q at lat=%q lon=%q", w.Name, w.Lat, w.Lon)
			res.Skipped++
			continue
		}
		if _, ok := seen[coordKey(latlng)]; ok {
			res.Skipped++
			continue
		}
		seen[coordKey(latlng)] = struct{}{}
		next = append(next, Place{
			LatLng:    latlng,
			Radius:    parseRadius(w.Desc),
			Name:      strings.TrimSpace(w.Name),
			Timestamp: normalizeTime(w.Time, now),
		})
		res.Added++
	}
	if res.Added == 0 {
		return res, nil
	}
	if err := s.persistLocked(ctx, next); err != nil {
		return ImportResult{}, err
	}
	s.places = next
	metrics.PlaceMutationsTotal.WithLabelValues("import").Add(float64(res.Added))
	logger.Info("places: imported %d place(s), skipped %d", res.Added, res.Skipped)
	return res, nil
}

func parseRadius(desc string) int {
	var r int
	if _, err := fmt.Sscanf(strings.TrimSpace(desc), "radius=%d", &r); err != nil || r < 0 {
		return 0
	}
	return r
}

func normalizeTime(ts string, now time.Time) string {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(ts)); err == nil {
		return Timestamp(t)
	}
	return Timestamp(now)
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// escapeXML performs minimal escaping for XML content nodes.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
