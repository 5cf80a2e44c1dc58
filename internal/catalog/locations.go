package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ovhwatch/stockwatch/internal/storage"
)

func loc(display, city, country, cc, flag, area string) storage.Location {
	return storage.Location{DisplayName: display, City: city, Country: country, CountryCode: cc, Flag: flag, Area: area}
}

var builtinLocations = map[string]storage.Location{
	// US
	"us-east-vin":    loc("Virginia", "Vint Hill", "United States", "US", "🇺🇸", "US"),
	"us-west-hil":    loc("Oregon", "Hillsboro", "United States", "US", "🇺🇸", "US"),
	"us-east-lz-atl": loc("Atlanta", "Atlanta", "United States", "US", "🇺🇸", "US"),
	"us-east-lz-dal": loc("Dallas", "Dallas", "United States", "US", "🇺🇸", "US"),
	"us-east-lz-mia": loc("Miami", "Miami", "United States", "US", "🇺🇸", "US"),
	"us-east-lz-nyc": loc("New York", "New York", "United States", "US", "🇺🇸", "US"),
	"us-west-lz-den": loc("Denver", "Denver", "United States", "US", "🇺🇸", "US"),
	"us-west-lz-lax": loc("Los Angeles", "Los Angeles", "United States", "US", "🇺🇸", "US"),
	"us-west-lz-pao": loc("Palo Alto", "Palo Alto", "United States", "US", "🇺🇸", "US"),
	"us-west-lz-sea": loc("Seattle", "Seattle", "United States", "US", "🇺🇸", "US"),
	// Canada
	"ca-east-bhs": loc("Beauharnois", "Beauharnois", "Canada", "CA", "🇨🇦", "CA"),
	// Europe
	"eu-west-gra":       loc("Gravelines", "Gravelines", "France", "FR", "🇫🇷", "EU"),
	"eu-west-sbg":       loc("Strasbourg", "Strasbourg", "France", "FR", "🇫🇷", "EU"),
	"eu-west-lim":       loc("Frankfurt", "Frankfurt", "Germany", "DE", "🇩🇪", "EU"),
	"eu-west-eri":       loc("London", "London", "United Kingdom", "GB", "🇬🇧", "EU"),
	"eu-central-waw":    loc("Warsaw", "Warsaw", "Poland", "PL", "🇵🇱", "EU"),
	"eu-south-mil":      loc("Milan", "Milan", "Italy", "IT", "🇮🇹", "EU"),
	"eu-west-lz-ams":    loc("Amsterdam", "Amsterdam", "Netherlands", "NL", "🇳🇱", "EU"),
	"eu-west-lz-bru":    loc("Brussels", "Brussels", "Belgium", "BE", "🇧🇪", "EU"),
	"eu-west-lz-vie":    loc("Vienna", "Vienna", "Austria", "AT", "🇦🇹", "EU"),
	"eu-west-lz-mrs":    loc("Marseille", "Marseille", "France", "FR", "🇫🇷", "EU"),
	"eu-west-lz-zrh":    loc("Zurich", "Zurich", "Switzerland", "CH", "🇨🇭", "EU"),
	"eu-central-lz-prg": loc("Prague", "Prague", "Czech Republic", "CZ", "🇨🇿", "EU"),
	"eu-south-lz-mad":   loc("Madrid", "Madrid", "Spain", "ES", "🇪🇸", "EU"),
	// Asia Pacific
	"ap-south-mum":     loc("Mumbai", "Mumbai", "India", "IN", "🇮🇳", "APAC"),
	"ap-southeast-sgp": loc("Singapore", "Singapore", "Singapore", "SG", "🇸🇬", "APAC"),
	"ap-southeast-syd": loc("Sydney", "Sydney", "Australia", "AU", "🇦🇺", "APAC"),
}

// Locations resolves datacenter codes to display metadata.
type Locations struct {
	byCode map[string]storage.Location
}

// DefaultLocations returns the built-in table.
func DefaultLocations() *Locations {
	m := make(map[string]storage.Location, len(builtinLocations))
	for code, l := range builtinLocations {
		l.Code = code
		m[code] = l
	}
	return &Locations{byCode: m}
}

type locationsFile struct {
	Locations []storage.Location `yaml:"locations"`
}

// LoadLocations reads YAML overrides on top of the built-in table. Entries
// with an existing code replace it; new codes are added.
//
//	locations:
//	  - code: eu-west-rbx
//	    display_name: Roubaix
//	    city: Roubaix
//	    country: France
//	    country_code: FR
//	    flag: "🇫🇷"
//	    area: EU
func LoadLocations(path string) (*Locations, error) {
	l := DefaultLocations()
	if path == "" {
		return l, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations file: %w", err)
	}
	var f locationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse locations file: %w", err)
	}
	for i, entry := range f.Locations {
		code := strings.ToLower(strings.TrimSpace(entry.Code))
		if code == "" {
			return nil, fmt.Errorf("locations[%d]: code is required", i)
		}
		entry.Code = code
		l.byCode[code] = entry
	}
	return l, nil
}

// Resolve returns metadata for code. Unknown codes fall back to the
// upper-cased code with an unknown country.
func (l *Locations) Resolve(code string) storage.Location {
	c := strings.ToLower(code)
	if found, ok := l.byCode[c]; ok {
		return found
	}
	upper := strings.ToUpper(code)
	return storage.Location{
		Code:        c,
		DisplayName: upper,
		City:        upper,
		Country:     "Unknown",
		Flag:        "🌐",
		Area:        "OTHER",
	}
}

// Len returns the number of known codes.
func (l *Locations) Len() int { return len(l.byCode) }
