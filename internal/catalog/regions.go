// Package catalog knows the provider's regional storefronts and discovers
// VPS plans from the public order catalog.
package catalog

import (
	"fmt"
	"net/url"
	"strings"
)

// --------------------------------------------------------------------------
// Region registry
// --------------------------------------------------------------------------

// Regions lists every storefront in the order "ALL" expands to.
var Regions = []string{"US", "CA", "FR", "DE", "ES", "IT", "NL", "PL", "PT", "GB", "IE", "SG", "AU", "IN", "WS"}

const defaultRegion = "US"

// API hosts. European storefronts share /eu, Asia-Pacific shares /asia.
var apiBases = map[string]string{
	"US": "https://us.ovhcloud.com",
	"CA": "https://ca.ovhcloud.com",
	"FR": "https://www.ovhcloud.com/eu",
	"DE": "https://www.ovhcloud.com/eu",
	"ES": "https://www.ovhcloud.com/eu",
	"IT": "https://www.ovhcloud.com/eu",
	"NL": "https://www.ovhcloud.com/eu",
	"PL": "https://www.ovhcloud.com/eu",
	"PT": "https://www.ovhcloud.com/eu",
	"GB": "https://www.ovhcloud.com/eu",
	"IE": "https://www.ovhcloud.com/eu",
	"SG": "https://www.ovhcloud.com/asia",
	"AU": "https://www.ovhcloud.com/asia",
	"IN": "https://www.ovhcloud.com/asia",
	"WS": "https://www.ovhcloud.com/en",
}

// Localized storefronts for purchase links.
var websiteBases = map[string]string{
	"US": "https://us.ovhcloud.com",
	"CA": "https://ca.ovhcloud.com",
	"FR": "https://www.ovhcloud.com/fr",
	"DE": "https://www.ovhcloud.com/de",
	"ES": "https://www.ovhcloud.com/es-es",
	"IT": "https://www.ovhcloud.com/it",
	"NL": "https://www.ovhcloud.com/nl",
	"PL": "https://www.ovhcloud.com/pl",
	"PT": "https://www.ovhcloud.com/pt",
	"GB": "https://www.ovhcloud.com/en-gb",
	"IE": "https://www.ovhcloud.com/en-ie",
	"SG": "https://www.ovhcloud.com/en-sg",
	"AU": "https://www.ovhcloud.com/en-au",
	"IN": "https://www.ovhcloud.com/en-in",
	"WS": "https://www.ovhcloud.com/en",
}

var regionNames = map[string]string{
	"US": "OVHcloud US",
	"CA": "OVHcloud Canada",
	"FR": "OVHcloud France",
	"DE": "OVHcloud Germany",
	"ES": "OVHcloud Spain",
	"IT": "OVHcloud Italy",
	"NL": "OVHcloud Netherlands",
	"PL": "OVHcloud Poland",
	"PT": "OVHcloud Portugal",
	"GB": "OVHcloud UK",
	"IE": "OVHcloud Ireland",
	"SG": "OVHcloud Singapore",
	"AU": "OVHcloud Australia",
	"IN": "OVHcloud India",
	"WS": "OVHcloud International",
}

// IsKnownRegion reports whether region is a supported storefront.
func IsKnownRegion(region string) bool {
	_, ok := apiBases[strings.ToUpper(region)]
	return ok
}

// APIBase returns the API host for region, defaulting to the US host.
func APIBase(region string) string {
	if base, ok := apiBases[strings.ToUpper(region)]; ok {
		return base
	}
	return apiBases[defaultRegion]
}

// PurchaseURL returns the VPS landing page of region's storefront.
func PurchaseURL(region string) string {
	base, ok := websiteBases[strings.ToUpper(region)]
	if !ok {
		base = websiteBases[defaultRegion]
	}
	return base + "/vps/"
}

// RegionName returns a human-readable storefront name.
func RegionName(region string) string {
	r := strings.ToUpper(region)
	if name, ok := regionNames[r]; ok {
		return name
	}
	return "OVHcloud " + r
}

// CatalogURL builds the public order catalog URL under base.
func CatalogURL(base, region string) string {
	return fmt.Sprintf("%s/engine/api/v1/order/catalog/public/vps?ovhSubsidiary=%s",
		base, url.QueryEscape(strings.ToUpper(region)))
}

// AvailabilityURL builds the per-plan datacenter availability URL under base.
func AvailabilityURL(base, region, planCode string) string {
	return fmt.Sprintf("%s/engine/api/v1/vps/order/rule/datacenter/?ovhSubsidiary=%s&os=Ubuntu%%2025.04&planCode=%s",
		base, url.QueryEscape(strings.ToUpper(region)), url.QueryEscape(planCode))
}

// ParseRegions expands a monitored_subsidiaries value. Empty means US and
// "ALL" means every storefront; otherwise a comma-separated list.
func ParseRegions(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return []string{defaultRegion}
	}
	if strings.EqualFold(v, "ALL") {
		out := make([]string, len(Regions))
		copy(out, Regions)
		return out
	}
	var out []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(v, ",") {
		r := strings.ToUpper(strings.TrimSpace(p))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) == 0 {
		return []string{defaultRegion}
	}
	return out
}
