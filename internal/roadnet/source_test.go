package roadnet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		source  Source
		wantErr bool
	}{
		{"ok", Source{Name: "osm", URL: "https://t.example.com/{z}/{x}/{y}.pbf", MaxZoom: 14}, false},
		{"no max zoom", Source{Name: "osm", URL: "https://t.example.com/{z}/{x}/{y}.pbf", MinZoom: 5}, false},
		{"missing name", Source{URL: "https://t.example.com/{z}/{x}/{y}.pbf"}, true},
		{"missing z", Source{Name: "osm", URL: "https://t.example.com/{x}/{y}.pbf"}, true},
		{"missing y", Source{Name: "osm", URL: "https://t.example.com/{z}/{x}.pbf"}, true},
		{"zoom inverted", Source{Name: "osm", URL: "https://t.example.com/{z}/{x}/{y}.pbf", MinZoom: 10, MaxZoom: 5}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.source.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSourceTileURL(t *testing.T) {
	src := Source{Name: "osm", URL: "https://t.example.com/{z}/{x}/{y}.pbf?key=abc"}
	got := src.TileURL(maptile.Tile{X: 8192, Y: 8191, Z: 14})
	assert.Equal(t, "https://t.example.com/14/8192/8191.pbf?key=abc", got)
}

func TestSourceClampZoom(t *testing.T) {
	src := Source{Name: "osm", URL: "{z}{x}{y}", MinZoom: 5, MaxZoom: 14}
	assert.Equal(t, 5, src.ClampZoom(0))
	assert.Equal(t, 9, src.ClampZoom(9))
	assert.Equal(t, 14, src.ClampZoom(20))

	open := Source{Name: "osm", URL: "{z}{x}{y}", MinZoom: 5}
	assert.Equal(t, 20, open.ClampZoom(20), "zero max zoom means unbounded")
}

const sourcesYAML = `
sources:
  - name: OpenMapTiles
    url: https://t.example.com/{z}/{x}/{y}.pbf
    min_zoom: 0
    max_zoom: 14
  - name: osm-bright
    url: https://bright.example.com/{z}/{x}/{y}.mvt
    min_zoom: 5
    max_zoom: 15
`

func TestParseSources(t *testing.T) {
	m, err := ParseSources(strings.NewReader(sourcesYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"OpenMapTiles", "osm-bright"}, m.Names())

	src, err := m.Get("openmaptiles")
	require.NoError(t, err)
	assert.Equal(t, "OpenMapTiles", src.Name)
	assert.Equal(t, 14, src.MaxZoom)

	_, err = m.Get("mapbox")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

const regionsYAML = sourcesYAML + `
regions:
  - country: DE
    source: OpenMapTiles
  - country: DE
    region: BY
    source: osm-bright
  - country: NL
    source: osm-bright
`

func TestSourceMapLookup(t *testing.T) {
	m, err := ParseSources(strings.NewReader(regionsYAML))
	require.NoError(t, err)

	// Region rule beats the country-wide rule.
	src, err := m.Lookup("de", "by")
	require.NoError(t, err)
	assert.Equal(t, "osm-bright", src.Name)

	// Unmatched region falls back to the country-wide rule.
	src, err = m.Lookup("DE", "NW")
	require.NoError(t, err)
	assert.Equal(t, "OpenMapTiles", src.Name)

	src, err = m.Lookup("nl", "")
	require.NoError(t, err)
	assert.Equal(t, "osm-bright", src.Name)

	_, err = m.Lookup("FR", "IDF")
	assert.ErrorIs(t, err, ErrNoCoverage)
}

func TestSourceMapLookupNoRegions(t *testing.T) {
	m, err := ParseSources(strings.NewReader(sourcesYAML))
	require.NoError(t, err)

	_, err = m.Lookup("DE", "BY")
	assert.ErrorIs(t, err, ErrNoCoverage)
}

func TestParseSourcesRejectsBadRegions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown source", sourcesYAML + "regions:\n  - country: DE\n    source: nope"},
		{"missing country", sourcesYAML + "regions:\n  - region: BY\n    source: osm-bright"},
		{"duplicate rule", sourcesYAML + "regions:\n  - country: DE\n    source: osm-bright\n  - country: de\n    source: OpenMapTiles"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSources(strings.NewReader(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseSourcesRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "sources: []"},
		{"invalid source", "sources:\n  - name: broken\n    url: https://t.example.com/tile"},
		{"duplicate folded names", "sources:\n  - name: OSM\n    url: a{z}{x}{y}\n  - name: osm\n    url: b{z}{x}{y}"},
		{"not yaml", "::::"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSources(strings.NewReader(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sourcesYAML), 0o644))

	m, err := LoadSources(path)
	require.NoError(t, err)
	assert.Len(t, m.Names(), 2)

	_, err = LoadSources(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
