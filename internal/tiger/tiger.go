// Package tiger imports city boundaries from Census TIGER/Line PLACE
// shapefiles. Archives are pulled from the Census FTP mirror with an HTTPS
// fallback, extracted, and parsed into place candidates the cities commands
// turn into tracked cities.
package tiger

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
)

// Place is one incorporated place or census-designated place from a PLACE
// shapefile.
type Place struct {
	GeoID    string
	Name     string
	State    string // USPS abbreviation, e.g. "FL"
	Boundary orb.MultiPolygon
}

// FIPSCodes maps state abbreviation to 2-digit FIPS code for all 50 states + DC.
var FIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56",
}

// abbrByFIPS is a reverse lookup from FIPS code to state abbreviation.
var abbrByFIPS map[string]string

func init() {
	abbrByFIPS = make(map[string]string, len(FIPSCodes))
	for abbr, fips := range FIPSCodes {
		abbrByFIPS[fips] = abbr
	}
}

// AbbrFromFIPS returns the state abbreviation for a FIPS code.
func AbbrFromFIPS(fips string) (string, bool) {
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// AllStateAbbrs returns a sorted list of state abbreviations (50 states + DC).
func AllStateAbbrs() []string {
	abbrs := make([]string, 0, len(FIPSCodes))
	for abbr := range FIPSCodes {
		abbrs = append(abbrs, abbr)
	}
	sort.Strings(abbrs)
	return abbrs
}

// PlaceZipName returns the archive name for a state's PLACE shapefile.
func PlaceZipName(year int, stateFIPS string) string {
	return fmt.Sprintf("tl_%d_%s_place.zip", year, stateFIPS)
}

// PlaceURL builds the download URL for a state's PLACE shapefile under the
// given base, e.g. https://www2.census.gov/geo/tiger or the FTP mirror.
func PlaceURL(baseURL string, year int, stateFIPS string) string {
	return fmt.Sprintf("%s/TIGER%d/PLACE/%s", baseURL, year, PlaceZipName(year, stateFIPS))
}
