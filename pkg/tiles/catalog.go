// Package tiles holds the raster tile provider catalog, the attribution/URL
// table and the resolver that compiles a provider into a tile endpoint.
//
// The catalog and table are static data defined at startup. A provider refers
// to the table twice: once through APIProvider, the source that serves its
// tiles, and once per entry in AttributionNames, the sources credited under
// the map. Some sources (e.g. a design studio) only ever appear as credits.
package tiles

// Provider is one selectable map style.
type Provider struct {
	Name             string   `json:"name"`
	TileName         string   `json:"tileName,omitempty"`
	APIProvider      string   `json:"apiProvider"`
	MaxZoom          int      `json:"maxZoom"`
	AttributionNames []string `json:"attributionNames"`
	Description      string   `json:"desc"`
}

// Source is a row of the attribution/URL table. URLTemplate is empty for
// credit-only sources.
type Source struct {
	URLTemplate string
	CreditURL   string
}

// Table maps a source key to its URL template and credit link.
type Table map[string]Source

// Catalog is the ordered list of providers offered to the user.
type Catalog []Provider

// Names of providers with special roles at startup.
const (
	DefaultProvider  = "Stamen Terrain"
	FallbackProvider = "OpenStreetMap"
	BrokenProvider   = "Testkarta som inte kan laddas"
)

// FindByName returns the provider with exactly the given name. A miss is a
// normal outcome, e.g. a stale persisted choice.
func (c Catalog) FindByName(name string) (Provider, bool) {
	for _, p := range c {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// Names lists provider names in catalog order.
func (c Catalog) Names() []string {
	out := make([]string, 0, len(c))
	for _, p := range c {
		out = append(out, p.Name)
	}
	return out
}

// Validate resolves every provider against table and returns the
// configuration errors found, in catalog order.
func (c Catalog) Validate(table Table) []error {
	r := NewResolver(table)
	var errs []error
	for _, p := range c {
		if _, err := r.Resolve(p, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// DefaultCatalog returns the built-in providers.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			Name:             "OpenStreetMap",
			APIProvider:      "OpenStreetMap",
			MaxZoom:          20,
			AttributionNames: []string{"OpenStreetMap contributors"},
			Description:      "OpenStreetMap är byggt av en gemenskap av kartografer som bidrar och underhåller data om vägar, stigar, caféer, järnvägsstationer och mycket mer, över hela världen.",
		},
		{
			Name:             "Humanitarian",
			TileName:         "hot",
			APIProvider:      "OpenStreetMap France",
			MaxZoom:          19,
			AttributionNames: []string{"OpenStreetMap contributors", "Humanitarian OpenStreetMap Team", "OpenStreetMap France"},
			Description:      "This map style is focused on resources useful for humanitarian organizations and citizens in general in emergency situations.",
		},
		{
			Name:             "Stadia Outdoors",
			TileName:         "outdoors",
			APIProvider:      "Stadia Maps",
			MaxZoom:          20,
			AttributionNames: []string{"Stadia Maps", "OpenMapTiles", "OpenStreetMap"},
			Description:      "Adds useful outdoor features such as ski slopes, and displays natural features such as mountains, parks, and paths.",
		},
		{
			Name:             "Stamen Terrain",
			TileName:         "stamen_terrain",
			APIProvider:      "Stadia Maps",
			MaxZoom:          20,
			AttributionNames: []string{"Stadia Maps", "Stamen Design", "OpenMapTiles", "OpenStreetMap"},
			Description:      "Terrängkarta med höjdskuggor och naturligt färgad vegetation.",
		},
		{
			Name:             "Stamen Watercolor",
			TileName:         "stamen_watercolor",
			APIProvider:      "Stadia Maps",
			MaxZoom:          16,
			AttributionNames: []string{"Stadia Maps", "Stamen Design", "OpenMapTiles", "OpenStreetMap"},
			Description:      "Reminiscent of hand drawn maps, the watercolor maps from Stamen Design apply raster effect area washes and organic edges over a paper texture to add warm pop to any map.",
		},
		{
			Name:             "Alidade Smoth",
			TileName:         "alidade_smooth",
			APIProvider:      "Stadia Maps",
			MaxZoom:          20,
			AttributionNames: []string{"Stadia Maps", "OpenMapTiles", "OpenStreetMap"},
			Description:      "Designed for maps that use a lot of markers or overlays, our custom Alidade Smooth style is the ideal canvas for your complex map integration. Featuring a muted color scheme and fewer points of interest.",
		},
		{
			Name:             "Thunderforest Outdoors",
			TileName:         "outdoors",
			APIProvider:      "Thunderforest",
			MaxZoom:          20,
			AttributionNames: []string{"Thunderforest", "OpenStreetMap contributors"},
			Description:      "A map designed for hiking",
		},
		{
			Name:             "Landscape",
			TileName:         "landscape",
			APIProvider:      "Thunderforest",
			MaxZoom:          20,
			AttributionNames: []string{"Thunderforest", "OpenStreetMap contributors"},
			Description:      "En landskapskarta",
		},
		{
			Name:             BrokenProvider,
			TileName:         "my_name_does_not_exist",
			APIProvider:      "Stadia Maps",
			MaxZoom:          20,
			AttributionNames: []string{"Stadia Maps"},
			Description:      "A map that does not exist. Use this to test the error handling",
		},
	}
}

// DefaultTable returns the built-in attribution/URL table.
func DefaultTable() Table {
	return Table{
		"Stadia Maps": {
			URLTemplate: "https://tiles-eu.stadiamaps.com/tiles/{tile}/{z}/{x}/{y}.jpg",
			CreditURL:   "https://stadiamaps.com/",
		},
		"OpenMapTiles": {
			CreditURL: "https://openmaptiles.org/",
		},
		"OpenStreetMap": {
			URLTemplate: "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			CreditURL:   "https://www.openstreetmap.org/copyright",
		},
		"OpenStreetMap contributors": {
			CreditURL: "https://www.openstreetmap.org/copyright",
		},
		"Humanitarian OpenStreetMap Team": {
			CreditURL: "https://www.hotosm.org/",
		},
		"OpenStreetMap France": {
			URLTemplate: "https://{s}.tile.openstreetmap.fr/{tile}/{z}/{x}/{y}.png",
			CreditURL:   "https://openstreetmap.fr/",
		},
		"Thunderforest": {
			URLTemplate: "https://tile.thunderforest.com/{tile}/{z}/{x}/{y}.png?apikey={apikey}",
			CreditURL:   "https://www.thunderforest.com/",
		},
		"Stamen Design": {
			CreditURL: "https://stamen.com/",
		},
	}
}
