package storage

import (
	"time"

	"github.com/evfleet/fleetdb/core/pipeline"
)

// UserRef is a user joined into createdBy or lastChangedBy.
type UserRef struct {
	ID        string `bson:"id" json:"id"`
	Name      string `bson:"name,omitempty" json:"name,omitempty"`
	FirstName string `bson:"firstName,omitempty" json:"firstName,omitempty"`
}

// GetID returns the user id, "" for a nil user.
func (u *UserRef) GetID() string {
	if u == nil {
		return ""
	}
	return u.ID
}

// Audit is embedded by entities that track who changed them.
type Audit struct {
	CreatedBy     *UserRef   `bson:"createdBy" json:"createdBy,omitempty"`
	CreatedOn     *time.Time `bson:"createdOn" json:"createdOn,omitempty"`
	LastChangedBy *UserRef   `bson:"lastChangedBy" json:"lastChangedBy,omitempty"`
	LastChangedOn *time.Time `bson:"lastChangedOn" json:"lastChangedOn,omitempty"`
}

// PricingDimension prices one aspect of a session.
type PricingDimension struct {
	Active   bool    `bson:"active" json:"active"`
	Price    float64 `bson:"price" json:"price"`
	StepSize int     `bson:"stepSize,omitempty" json:"stepSize,omitempty"`
}

// PricingDimensions groups the priced aspects.
type PricingDimensions struct {
	FlatFee      *PricingDimension `bson:"flatFee,omitempty" json:"flatFee,omitempty"`
	Energy       *PricingDimension `bson:"energy,omitempty" json:"energy,omitempty"`
	ChargingTime *PricingDimension `bson:"chargingTime,omitempty" json:"chargingTime,omitempty"`
	ParkingTime  *PricingDimension `bson:"parkingTime,omitempty" json:"parkingTime,omitempty"`
}

// PricingDefinition is one tariff of a pricing model.
type PricingDefinition struct {
	ID          string            `bson:"id" json:"id"`
	Name        string            `bson:"name" json:"name"`
	Description string            `bson:"description,omitempty" json:"description,omitempty"`
	Dimensions  PricingDimensions `bson:"dimensions" json:"dimensions"`
}

// PricingModel attaches pricing definitions to a context such as a site
// or a charging station.
type PricingModel struct {
	ID                 string              `bson:"id" json:"id"`
	ContextID          string              `bson:"contextID" json:"contextID"`
	PricingDefinitions []PricingDefinition `bson:"pricingDefinitions" json:"pricingDefinitions"`
	Audit              `bson:",inline"`
}

// Address locates a site or a site area.
type Address struct {
	Address1    string    `bson:"address1,omitempty" json:"address1,omitempty"`
	PostalCode  string    `bson:"postalCode,omitempty" json:"postalCode,omitempty"`
	City        string    `bson:"city,omitempty" json:"city,omitempty"`
	Country     string    `bson:"country,omitempty" json:"country,omitempty"`
	Coordinates []float64 `bson:"coordinates,omitempty" json:"coordinates,omitempty"`
}

// Site is the joined form of a site.
type Site struct {
	ID        string   `bson:"id" json:"id"`
	Name      string   `bson:"name" json:"name"`
	CompanyID string   `bson:"companyID" json:"companyID"`
	Public    bool     `bson:"public" json:"public"`
	Address   *Address `bson:"address,omitempty" json:"address,omitempty"`
}

// Connector is a plug of a charging station.
type Connector struct {
	ConnectorID int     `bson:"connectorId" json:"connectorId"`
	Status      string  `bson:"status" json:"status"`
	Power       float64 `bson:"power,omitempty" json:"power,omitempty"`
}

// ChargingStation is the joined form of a charging station.
type ChargingStation struct {
	ID                   string                      `bson:"id" json:"id"`
	Inactive             bool                        `bson:"inactive" json:"inactive"`
	LastSeen             *time.Time                  `bson:"lastSeen,omitempty" json:"lastSeen,omitempty"`
	FirmwareUpdateStatus string                      `bson:"firmwareUpdateStatus,omitempty" json:"firmwareUpdateStatus,omitempty"`
	MaximumPower         float64                     `bson:"maximumPower,omitempty" json:"maximumPower,omitempty"`
	Connectors           []Connector                 `bson:"connectors" json:"connectors"`
	ConnectorStats       *pipeline.ConnectorCounters `bson:"connectorStats,omitempty" json:"connectorStats,omitempty"`
}

// SiteArea groups the charging stations of a site that share a power
// supply.
type SiteArea struct {
	ID               string                      `bson:"id" json:"id"`
	Name             string                      `bson:"name" json:"name"`
	Issuer           bool                        `bson:"issuer" json:"issuer"`
	MaximumPower     float64                     `bson:"maximumPower,omitempty" json:"maximumPower,omitempty"`
	NumberOfPhases   int                         `bson:"numberOfPhases,omitempty" json:"numberOfPhases,omitempty"`
	Address          *Address                    `bson:"address,omitempty" json:"address,omitempty"`
	SiteID           string                      `bson:"siteID" json:"siteID"`
	Site             *Site                       `bson:"site,omitempty" json:"site,omitempty"`
	ParentSiteAreaID string                      `bson:"parentSiteAreaID" json:"parentSiteAreaID,omitempty"`
	ParentSiteArea   *SiteArea                   `bson:"parentSiteArea,omitempty" json:"parentSiteArea,omitempty"`
	ChargingStations []ChargingStation           `bson:"chargingStations,omitempty" json:"chargingStations,omitempty"`
	ConnectorStats   *pipeline.ConnectorCounters `bson:"connectorStats,omitempty" json:"connectorStats,omitempty"`
	Audit            `bson:",inline"`
}
