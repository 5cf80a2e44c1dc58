package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ovhwatch/stockwatch/internal/api/respond"
	"github.com/ovhwatch/stockwatch/internal/cache"
	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

const (
	statusPrefix = "status:"
	plansPrefix  = "plans:"
)

// regionParam reads the optional ?region= filter. ok is false when the value
// names no known storefront.
func regionParam(r *http.Request) (region string, ok bool) {
	region = strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("region")))
	if region == "" || region == "ALL" {
		return "", true
	}
	return region, catalog.IsKnownRegion(region)
}

// GetPlans lists catalog plans with specs, price and monitoring state.
// @Summary List plans
// @Description Returns every known plan, optionally for one region, with lifecycle state and monthly price.
// @Tags stock
// @Produce json
// @Param region query string false "Region code (US, FR, ...). Empty or ALL for every region"
// @Success 200 {array} storage.Plan
// @Failure 400 {object} respond.ErrorResponse
// @Router /plans [get]
func (h *Handler) GetPlans(w http.ResponseWriter, r *http.Request) {
	region, ok := regionParam(r)
	if !ok {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REGION", "Unknown region "+region)
		return
	}
	h.serveCached(w, r, plansPrefix+region, cache.TTLPlans, func() (any, error) {
		plans, err := h.store.ListPlans(r.Context(), region)
		if plans == nil {
			plans = []storage.Plan{}
		}
		return plans, err
	})
}

// GetStatus returns the latest observation per plan and datacenter.
// @Summary Current stock status
// @Description Returns the most recent availability sample for every (plan, datacenter), with the start of any open out-of-stock interval. Cached briefly and invalidated when stock events arrive.
// @Tags stock
// @Produce json
// @Param region query string false "Region code. Empty or ALL for every region"
// @Success 200 {array} storage.StatusRow
// @Success 304 "Not modified"
// @Failure 400 {object} respond.ErrorResponse
// @Router /status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	region, ok := regionParam(r)
	if !ok {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_REGION", "Unknown region "+region)
		return
	}
	h.serveCached(w, r, statusPrefix+region, h.cfg.CacheTTL, func() (any, error) {
		rows, err := h.store.ListCurrentStatus(r.Context(), region)
		if rows == nil {
			rows = []storage.StatusRow{}
		}
		return rows, err
	})
}

// RegionInfo describes one storefront.
type RegionInfo struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	PurchaseURL string `json:"purchase_url"`
}

// GetRegions lists supported storefronts.
// @Summary List regions
// @Description Returns every supported storefront with its display name and purchase page.
// @Tags stock
// @Produce json
// @Success 200 {array} RegionInfo
// @Router /regions [get]
func (h *Handler) GetRegions(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, "regions", cache.TTLRegions, func() (any, error) {
		out := make([]RegionInfo, 0, len(catalog.Regions))
		for _, code := range catalog.Regions {
			out = append(out, RegionInfo{Code: code, Name: catalog.RegionName(code), PurchaseURL: catalog.PurchaseURL(code)})
		}
		return out, nil
	})
}

// serveCached answers from the cache (honouring If-None-Match) or loads,
// encodes and stores a fresh body.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, load func() (any, error)) {
	if data, etag, ok := h.cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	v, err := load()
	if err != nil {
		h.logger.Error("Query failed", "key", key, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load data")
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode response")
		return
	}

	etag := h.cache.Set(key, data, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, ttl, false)
}
