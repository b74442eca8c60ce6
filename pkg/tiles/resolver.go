package tiles

import (
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
)

// Options are the display options of a resolved tile layer.
type Options struct {
	MaxZoom     int    `json:"maxZoom"`
	Attribution string `json:"attribution"`
}

// Spec is a provider compiled into a concrete tile URL template. It is
// recomputed on every provider switch and never persisted.
type Spec struct {
	Endpoint string  `json:"endpoint"`
	Options  Options `json:"options"`
}

// ConfigurationError reports a provider whose references do not match the
// attribution/URL table. It is a programming error in the catalog.
type ConfigurationError struct {
	Provider string
	Source   string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tiles: provider %q: source %q: %s", e.Provider, e.Source, e.Reason)
}

// Resolver compiles providers against a table.
type Resolver struct {
	table Table
}

// NewResolver returns a resolver over table.
func NewResolver(table Table) *Resolver {
	return &Resolver{table: table}
}

// Resolve builds the endpoint template and display options for p. apiKey is
// substituted into sources that authenticate with a query parameter. The
// result only depends on the arguments.
func (r *Resolver) Resolve(p Provider, apiKey string) (Spec, error) {
	src, ok := r.table[p.APIProvider]
	if !ok {
		return Spec{}, &ConfigurationError{Provider: p.Name, Source: p.APIProvider, Reason: "unknown tile source"}
	}
	if src.URLTemplate == "" {
		return Spec{}, &ConfigurationError{Provider: p.Name, Source: p.APIProvider, Reason: "source has no tile URL (credit only)"}
	}
	endpoint := strings.NewReplacer(
		"{tile}", url.PathEscape(p.TileName),
		"{apikey}", url.QueryEscape(apiKey),
	).Replace(src.URLTemplate)
	// Providers without a tile name collapse the empty path segment.
	endpoint = strings.Replace(endpoint, "//{z}", "/{z}", 1)

	credits := make([]string, 0, len(p.AttributionNames))
	for _, name := range p.AttributionNames {
		credit, ok := r.table[name]
		if !ok || credit.CreditURL == "" {
			return Spec{}, &ConfigurationError{Provider: p.Name, Source: name, Reason: "unknown attribution source"}
		}
		credits = append(credits, fmt.Sprintf(`&copy; <a href="%s" target="_blank">%s</a>`,
			html.EscapeString(credit.CreditURL), html.EscapeString(name)))
	}

	return Spec{
		Endpoint: endpoint,
		Options: Options{
			MaxZoom:     p.MaxZoom,
			Attribution: strings.Join(credits, " "),
		},
	}, nil
}

var subdomains = []string{"a", "b", "c"}

// TileURL expands the {s}, {z}, {x} and {y} placeholders of an endpoint
// template. Subdomains rotate over a, b and c by tile position.
func TileURL(endpoint string, z, x, y int) string {
	s := subdomains[(x+y)%len(subdomains)]
	return strings.NewReplacer(
		"{s}", s,
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(endpoint)
}
