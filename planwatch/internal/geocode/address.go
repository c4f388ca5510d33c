package geocode

import (
	"math"
	"regexp"
	"strings"
)

// postcodePattern matches a UK postcode anywhere in a string, with or
// without the space before the inward code.
var postcodePattern = regexp.MustCompile(`(?i)\b([A-Z]{1,2}[0-9][A-Z0-9]?\s?[0-9][A-Z]{2})\b`)

var (
	spaceRun = regexp.MustCompile(`\s+`)
	commaRun = regexp.MustCompile(`\s*,\s*`)
)

// Address is a comment address split into the parts the geocoder uses.
type Address struct {
	Full     string `json:"full"`
	Street   string `json:"street,omitempty"`
	City     string `json:"city,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

// formatPostcode upper-cases pc and puts one space before the inward code.
func formatPostcode(pc string) string {
	pc = strings.ToUpper(strings.ReplaceAll(pc, " ", ""))
	if len(pc) < 5 {
		return pc
	}
	return pc[:len(pc)-3] + " " + pc[len(pc)-3:]
}

// ExtractPostcode returns the first UK postcode in address, formatted as
// "SW1A 1AA".
func ExtractPostcode(address string) (string, bool) {
	m := postcodePattern.FindStringSubmatch(address)
	if m == nil {
		return "", false
	}
	return formatPostcode(m[1]), true
}

// ValidPostcode reports whether s is exactly one UK postcode.
func ValidPostcode(s string) bool {
	s = strings.TrimSpace(s)
	loc := postcodePattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// NormalisePostcode formats s when it is a postcode and returns it trimmed
// otherwise.
func NormalisePostcode(s string) string {
	if ValidPostcode(s) {
		return formatPostcode(s)
	}
	return strings.TrimSpace(s)
}

// CleanAddress collapses whitespace, writes every separator as ", " and
// trims stray commas at either end.
func CleanAddress(address string) string {
	s := spaceRun.ReplaceAllString(strings.TrimSpace(address), " ")
	s = commaRun.ReplaceAllString(s, ", ")
	return strings.Trim(s, ", ")
}

// ParseAddress cleans address and picks out its street (first part), city
// (second to last part, when there are at least three) and postcode.
func ParseAddress(address string) Address {
	a := Address{Full: CleanAddress(address)}
	if a.Full == "" {
		return a
	}
	a.Postcode, _ = ExtractPostcode(a.Full)
	var parts []string
	for _, p := range strings.Split(a.Full, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		a.Street = parts[0]
	}
	if len(parts) > 2 {
		a.City = parts[len(parts)-2]
	}
	return a
}

// DistinctAddresses drops addresses that clean to the same text, ignoring
// case, and empty ones. The first spelling is kept.
func DistinctAddresses(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	var out []string
	for _, a := range addresses {
		key := strings.ToLower(CleanAddress(a))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

const earthRadiusKm = 6371.0

// Distance is the great-circle distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
