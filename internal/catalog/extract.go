package catalog

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/ovhwatch/stockwatch/internal/storage"
)

// --------------------------------------------------------------------------
// Wire types for the public order catalog
// --------------------------------------------------------------------------

// Catalog is the decoded order catalog document.
type Catalog struct {
	Locale struct {
		CurrencyCode string `json:"currencyCode"`
	} `json:"locale"`
	Plans    []CatalogPlan    `json:"plans"`
	Products []CatalogProduct `json:"products"`
}

type CatalogPlan struct {
	PlanCode       string          `json:"planCode"`
	InvoiceName    string          `json:"invoiceName"`
	Product        string          `json:"product"`
	Blobs          *planBlobs      `json:"blobs"`
	Configurations []configuration `json:"configurations"`
	Pricings       []pricing       `json:"pricings"`
}

type planBlobs struct {
	Tags       []string `json:"tags"`
	Commercial *struct {
		Line  string `json:"line"`
		Range string `json:"range"`
	} `json:"commercial"`
}

type configuration struct {
	Name   string            `json:"name"`
	Values []json.RawMessage `json:"values"`
}

type pricing struct {
	Capacities  []string `json:"capacities"`
	Mode        string   `json:"mode"`
	Commitment  int      `json:"commitment"`
	Price       int64    `json:"price"`
	Description string   `json:"description"`
}

type CatalogProduct struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Blobs       *productBlobs `json:"blobs"`
}

type productBlobs struct {
	Technical struct {
		CPU struct {
			Cores float64 `json:"cores"`
		} `json:"cpu"`
		Memory struct {
			Size float64 `json:"size"`
		} `json:"memory"`
		Storage struct {
			Disks []struct {
				Capacity   float64 `json:"capacity"`
				Technology string  `json:"technology"`
				Interface  string  `json:"interface"`
			} `json:"disks"`
		} `json:"storage"`
		Bandwidth struct {
			Level     float64 `json:"level"`
			Unlimited bool    `json:"unlimited"`
		} `json:"bandwidth"`
	} `json:"technical"`
	Meta struct {
		Configurations []configuration `json:"configurations"`
	} `json:"meta"`
}

// configValue accepts either a bare string or an object with a value field.
func configValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	return ""
}

// --------------------------------------------------------------------------
// Extraction
// --------------------------------------------------------------------------

const datacenterConfig = "vps_datacenter"

// isTrackedPlan keeps VPS plans and drops upgrade paths and degressivity
// bundles.
func isTrackedPlan(code string) bool {
	if !strings.HasPrefix(code, "vps-") {
		return false
	}
	return !strings.Contains(code, "-vps-2025-") && !strings.Contains(code, "degressivity")
}

// ExtractPlans converts catalog plans into plan records for region.
// queryBase is the API host used to build each plan's availability URL.
func ExtractPlans(c *Catalog, region, queryBase string) []storage.PlanRecord {
	products := make(map[string]CatalogProduct, len(c.Products))
	for _, p := range c.Products {
		products[p.Name] = p
	}

	var out []storage.PlanRecord
	for _, plan := range c.Plans {
		if !isTrackedPlan(plan.PlanCode) {
			continue
		}
		product, ok := products[plan.Product]
		if !ok {
			product = products[plan.PlanCode]
		}

		var tags []string
		line := "legacy"
		if plan.Blobs != nil {
			tags = plan.Blobs.Tags
			if plan.Blobs.Commercial != nil && plan.Blobs.Commercial.Line == "2025" {
				line = "2025"
			}
		}

		// 2025 plans are orderable when untagged or shown in the order
		// funnel. Legacy plans never appear in the configurator.
		orderable := false
		if line == "2025" {
			orderable = len(tags) == 0 || slices.Contains(tags, "order-funnel:show")
		}

		rec := storage.PlanRecord{
			PlanCode:       plan.PlanCode,
			Region:         strings.ToUpper(region),
			DisplayName:    displayName(plan),
			QueryURL:       AvailabilityURL(queryBase, region, plan.PlanCode),
			PurchaseURL:    PurchaseURL(region),
			Description:    product.Description,
			Orderable:      orderable,
			VisibilityTags: tags,
			ProductLine:    line,
			Datacenters:    planDatacenters(plan, product),
		}

		if b := product.Blobs; b != nil {
			tech := b.Technical
			rec.VCPU = int(tech.CPU.Cores)
			rec.RAMGB = int(tech.Memory.Size)
			rec.BandwidthMbps = int(tech.Bandwidth.Level)
			if len(tech.Storage.Disks) > 0 {
				disk := tech.Storage.Disks[0]
				rec.StorageGB = int(disk.Capacity)
				rec.StorageType = fmt.Sprintf("%s (%s)", disk.Technology, disk.Interface)
			}
		}
		if strings.Contains(plan.PlanCode, ".LZ") {
			rec.StorageType = "NAS (Network)"
		}
		out = append(out, rec)
	}
	return out
}

func planDatacenters(plan CatalogPlan, product CatalogProduct) []string {
	for _, cfg := range plan.Configurations {
		if cfg.Name == datacenterConfig {
			return rawValues(cfg.Values)
		}
	}
	if product.Blobs == nil {
		return nil
	}
	for _, cfg := range product.Blobs.Meta.Configurations {
		if cfg.Name == datacenterConfig {
			return rawValues(cfg.Values)
		}
	}
	return nil
}

func rawValues(values []json.RawMessage) []string {
	var out []string
	for _, v := range values {
		if s := configValue(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// displayName decorates the invoice name with a zone suffix. Local Zone
// codes are checked first since they may also carry -eu or -ca.
func displayName(plan CatalogPlan) string {
	name := plan.InvoiceName
	if name == "" {
		name = plan.PlanCode
	}
	code := plan.PlanCode
	switch {
	case strings.Contains(code, ".LZ") && strings.Contains(code, "-eu"):
		return name + " (EU Local Zone)"
	case strings.Contains(code, ".LZ") && strings.Contains(code, "-ca"):
		return name + " (CA Local Zone)"
	case strings.Contains(code, ".LZ"):
		return name + " (Local Zone)"
	case strings.HasSuffix(code, "-eu"):
		return name + " (EU)"
	case strings.HasSuffix(code, "-ca"):
		return name + " (Canada)"
	}
	return name
}

// ExtractPricing returns the default-mode renewal tiers of tracked plans.
func ExtractPricing(c *Catalog, region string) []storage.Pricing {
	currency := c.Locale.CurrencyCode
	if currency == "" {
		currency = "USD"
	}
	var out []storage.Pricing
	for _, plan := range c.Plans {
		if !isTrackedPlan(plan.PlanCode) {
			continue
		}
		for _, p := range plan.Pricings {
			if !slices.Contains(p.Capacities, "renew") || p.Mode != "default" {
				continue
			}
			out = append(out, storage.Pricing{
				PlanCode:         plan.PlanCode,
				Region:           strings.ToUpper(region),
				CommitmentMonths: p.Commitment,
				PriceMicrocents:  p.Price,
				Currency:         currency,
				Description:      p.Description,
			})
		}
	}
	return out
}
