package places

import "strconv"

// coordKey is the identity key of a place: both coordinates formatted with
// the shortest exact representation, so only equal floats collide. Adding
// zero folds -0 into 0, which compare equal.
func coordKey(latlng [2]float64) string {
	return strconv.FormatFloat(latlng[0]+0, 'g', -1, 64) + "," + strconv.FormatFloat(latlng[1]+0, 'g', -1, 64)
}

// Dedupe returns a new slice without places sharing a coordinate pair,
// keeping the first occurrence and the input order. The input slice is not
// modified.
func Dedupe(in []Place) []Place {
	out := make([]Place, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		k := coordKey(p.LatLng)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
