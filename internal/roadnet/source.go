package roadnet

import (
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// ErrUnknownSource is returned when a source name is not configured.
var ErrUnknownSource = eris.New("roadnet: unknown source")

// ErrNoCoverage is returned when no configured source covers a region.
// Coverage gaps are expected; callers treat this as an empty result, not a
// fault.
var ErrNoCoverage = eris.New("roadnet: no source covers region")

// Source describes one remote vector-tile archive. URL is a template with
// {z}, {x} and {y} placeholders.
type Source struct {
	Name    string `yaml:"name" json:"name"`
	URL     string `yaml:"url" json:"url"`
	MinZoom int    `yaml:"min_zoom" json:"min_zoom"`
	MaxZoom int    `yaml:"max_zoom" json:"max_zoom"`
}

// Validate checks the URL template carries all three tile placeholders.
func (s Source) Validate() error {
	if s.Name == "" {
		return eris.New("roadnet: source name is required")
	}
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(s.URL, ph) {
			return eris.Errorf("roadnet: source %s: url template missing %s", s.Name, ph)
		}
	}
	if s.MaxZoom > 0 && s.MinZoom > s.MaxZoom {
		return eris.Errorf("roadnet: source %s: min_zoom above max_zoom", s.Name)
	}
	return nil
}

// TileURL expands the template for one tile.
func (s Source) TileURL(t maptile.Tile) string {
	r := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(t.Z), 10),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	)
	return r.Replace(s.URL)
}

// ClampZoom pins a requested zoom into the source's supported range.
func (s Source) ClampZoom(z int) int {
	if z < s.MinZoom {
		return s.MinZoom
	}
	if s.MaxZoom > 0 && z > s.MaxZoom {
		return s.MaxZoom
	}
	return z
}

// RegionRule maps a country (and optionally a region within it) to a named
// source. An empty region makes the rule country-wide.
type RegionRule struct {
	Country string `yaml:"country" json:"country"`
	Region  string `yaml:"region" json:"region"`
	Source  string `yaml:"source" json:"source"`
}

// SourceMap holds the configured sources keyed by case-folded name, so
// lookups tolerate the casing users type.
type SourceMap struct {
	names    []string
	byName   map[string]Source
	byRegion map[regionKey]string
}

type regionKey struct {
	country string
	region  string
}

type sourcesFile struct {
	Sources []Source     `yaml:"sources"`
	Regions []RegionRule `yaml:"regions"`
}

// LoadSources reads a sources.yaml file.
func LoadSources(path string) (*SourceMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: open sources file %s", path)
	}
	defer f.Close()
	m, err := ParseSources(f)
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: parse sources file %s", path)
	}
	return m, nil
}

// ParseSources decodes a sources definition. Every source must validate and
// names must be unique under case folding.
func ParseSources(r io.Reader) (*SourceMap, error) {
	var file sourcesFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		return nil, eris.Wrap(err, "roadnet: decode sources yaml")
	}
	if len(file.Sources) == 0 {
		return nil, eris.New("roadnet: no sources defined")
	}

	m := &SourceMap{
		byName:   make(map[string]Source, len(file.Sources)),
		byRegion: make(map[regionKey]string, len(file.Regions)),
	}
	for _, src := range file.Sources {
		if err := src.Validate(); err != nil {
			return nil, err
		}
		key := foldName(src.Name)
		if _, dup := m.byName[key]; dup {
			return nil, eris.Errorf("roadnet: duplicate source name %s", src.Name)
		}
		m.byName[key] = src
		m.names = append(m.names, src.Name)
	}
	sort.Strings(m.names)

	for _, rule := range file.Regions {
		if rule.Country == "" {
			return nil, eris.New("roadnet: region rule missing country")
		}
		name := foldName(rule.Source)
		if _, ok := m.byName[name]; !ok {
			return nil, eris.Errorf("roadnet: region %s/%s references unknown source %s",
				rule.Country, rule.Region, rule.Source)
		}
		key := regionKey{country: foldName(rule.Country), region: foldName(rule.Region)}
		if _, dup := m.byRegion[key]; dup {
			return nil, eris.Errorf("roadnet: duplicate region rule %s/%s", rule.Country, rule.Region)
		}
		m.byRegion[key] = name
	}
	return m, nil
}

// Get looks up a source by name, ignoring case.
func (m *SourceMap) Get(name string) (Source, error) {
	src, ok := m.byName[foldName(name)]
	if !ok {
		return Source{}, eris.Wrapf(ErrUnknownSource, "%q", name)
	}
	return src, nil
}

// Names lists the configured source names in sorted order.
func (m *SourceMap) Names() []string {
	return append([]string(nil), m.names...)
}

// Lookup resolves the source for a country and region, falling back to a
// country-wide rule when no region rule matches. A miss returns
// ErrNoCoverage.
func (m *SourceMap) Lookup(country, region string) (Source, error) {
	c := foldName(country)
	if name, ok := m.byRegion[regionKey{country: c, region: foldName(region)}]; ok {
		return m.byName[name], nil
	}
	if region != "" {
		if name, ok := m.byRegion[regionKey{country: c}]; ok {
			return m.byName[name], nil
		}
	}
	return Source{}, eris.Wrapf(ErrNoCoverage, "%s/%s", country, region)
}

// foldName builds a fresh caser per call; cases.Caser is stateful and not
// safe to share.
func foldName(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
