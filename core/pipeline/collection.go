package pipeline

import (
	"slices"

	"github.com/evfleet/fleetdb/core/objectid"
)

// DefaultTenantID prefixes collections shared by all tenants and those
// of requests without a usable tenant id.
const DefaultTenantID = "default"

// Collection suffixes used by the lookups.
const (
	CollectionTenants          = "tenants"
	CollectionMigrations       = "migrations"
	CollectionUsers            = "users"
	CollectionSites            = "sites"
	CollectionSiteAreas        = "siteareas"
	CollectionSiteUsers        = "siteusers"
	CollectionCompanies        = "companies"
	CollectionChargingStations = "chargingstations"
	CollectionAssets           = "assets"
	CollectionTags             = "tags"
	CollectionCars             = "cars"
	CollectionCarCatalogs      = "carcatalogs"
	CollectionTransactions     = "transactions"
	CollectionTenantLogos      = "tenantlogos"
	CollectionPricingModels    = "pricingmodels"
)

var fixedCollections = []string{CollectionTenants, CollectionMigrations}

// FixedCollections returns the suffixes that are never tenant scoped.
func FixedCollections() []string {
	return slices.Clone(fixedCollections)
}

// CollectionName returns the physical collection name for a tenant.
// Fixed collections and malformed tenant ids fall back to the default
// tenant prefix.
func CollectionName(tenantID, suffix string) string {
	prefix := DefaultTenantID
	if !slices.Contains(fixedCollections, suffix) && objectid.IsValid(tenantID) {
		prefix = tenantID
	}
	return prefix + "." + suffix
}
