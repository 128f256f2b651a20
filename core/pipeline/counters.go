package pipeline

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Connector statuses reported by charging stations.
const (
	ConnectorAvailable     = "Available"
	ConnectorUnavailable   = "Unavailable"
	ConnectorPreparing     = "Preparing"
	ConnectorFinishing     = "Finishing"
	ConnectorFaulted       = "Faulted"
	ConnectorCharging      = "Charging"
	ConnectorOccupied      = "Occupied"
	ConnectorSuspendedEVSE = "SuspendedEVSE"
	ConnectorSuspendedEV   = "SuspendedEV"
)

const (
	indicatorsField = "connectorIndicators"
	statsField      = "connectorStats"
	stationsField   = "chargingStations"
	connectorsField = "connectors"
	totalConnectors = "totalConnectors"
	otherConnectors = "otherConnectors"
)

// ConnectorCounters is the decoded form of a connectorStats document.
type ConnectorCounters struct {
	TotalConnectors       int `bson:"totalConnectors" json:"totalConnectors"`
	AvailableConnectors   int `bson:"availableConnectors" json:"availableConnectors"`
	UnavailableConnectors int `bson:"unavailableConnectors" json:"unavailableConnectors"`
	PreparingConnectors   int `bson:"preparingConnectors" json:"preparingConnectors"`
	FinishingConnectors   int `bson:"finishingConnectors" json:"finishingConnectors"`
	FaultedConnectors     int `bson:"faultedConnectors" json:"faultedConnectors"`
	ChargingConnectors    int `bson:"chargingConnectors" json:"chargingConnectors"`
	SuspendedConnectors   int `bson:"suspendedConnectors" json:"suspendedConnectors"`
	OtherConnectors       int `bson:"otherConnectors" json:"otherConnectors"`
}

type statusBucket struct {
	name     string
	statuses []string
}

var statusBuckets = []statusBucket{
	{"availableConnectors", []string{ConnectorAvailable}},
	{"unavailableConnectors", []string{ConnectorUnavailable}},
	{"preparingConnectors", []string{ConnectorPreparing}},
	{"finishingConnectors", []string{ConnectorFinishing}},
	{"faultedConnectors", []string{ConnectorFaulted}},
	{"chargingConnectors", []string{ConnectorCharging, ConnectorOccupied}},
	{"suspendedConnectors", []string{ConnectorSuspendedEVSE, ConnectorSuspendedEV}},
}

// ConnectorStatsParams configures ConnectorStats.
type ConnectorStatsParams struct {
	TenantID string
	// OrganizationField is the station field pointing at the parent,
	// e.g. siteAreaID.
	OrganizationField FieldPath
	// WithLookup joins the stations first. Without it the parent must
	// already carry them in chargingStations.
	WithLookup   bool
	PingInterval time.Duration
}

// ConnectorStats computes per-status connector counters. Every station in
// chargingStations gets its own connectorStats and the parent gets the
// totals over all its stations. The parents must still carry their _id.
func ConnectorStats(p Pipeline, l ConnectorStatsParams) Pipeline {
	stations := FieldPath{stationsField}
	connectors := stations.Child(connectorsField)
	if l.WithLookup {
		p = ChargingStationLookup(l.PingInterval)(p, LookupParams{
			TenantID:     l.TenantID,
			LocalField:   FieldPath{mongoIDField},
			ForeignField: l.OrganizationField,
			AsField:      stations,
		})
	}
	p = append(p,
		Unwind{Path: stations, PreserveNullAndEmptyArrays: true},
		Unwind{Path: connectors, PreserveNullAndEmptyArrays: true},
		connectorIndicators(connectors),
	)
	indicators := FieldPath{indicatorsField}
	p = GroupBack(p, GroupBackParams{
		Array:           connectors,
		GroupKey:        stations.Child(idField),
		Aggregates:      statSums(indicators),
		RootAggregation: stations.Child(statsField),
	})
	p = GroupBack(p, GroupBackParams{
		Array:           stations,
		Aggregates:      statSums(stations.Child(statsField)),
		RootAggregation: FieldPath{statsField},
	})
	return append(p, Project{Fields: bson.D{{Key: indicatorsField, Value: 0}}})
}

func connectorIndicators(connectors FieldPath) AddFields {
	status := connectors.Child("status").Ref()
	indicators := FieldPath{indicatorsField}
	tracked := bson.A{}
	fields := bson.D{}
	for _, b := range statusBuckets {
		statuses := bson.A{}
		for _, s := range b.statuses {
			statuses = append(statuses, s)
			tracked = append(tracked, s)
		}
		fields = append(fields, bson.E{Key: indicators.Child(b.name).String(), Value: Indicator(In(status, statuses))})
	}
	present := Exists(connectors)
	fields = append(fields,
		bson.E{Key: indicators.Child(otherConnectors).String(), Value: Indicator(And(present, Not(In(status, tracked))))},
		bson.E{Key: indicators.Child(totalConnectors).String(), Value: Indicator(present)},
	)
	return AddFields{Fields: fields}
}

// statSums sums every counter found under from.
func statSums(from FieldPath) bson.D {
	names := make([]string, 0, len(statusBuckets)+2)
	names = append(names, totalConnectors)
	for _, b := range statusBuckets {
		names = append(names, b.name)
	}
	names = append(names, otherConnectors)
	sums := make(bson.D, 0, len(names))
	for _, n := range names {
		sums = append(sums, bson.E{Key: n, Value: Sum(from.Child(n).Ref())})
	}
	return sums
}
