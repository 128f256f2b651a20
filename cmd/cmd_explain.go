package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/core/pipeline"
	"github.com/evfleet/fleetdb/storage"
)

var (
	explainYAML  bool
	explainCount bool
)

// listFlags are shared by every command that builds a listing
type listFlags struct {
	tenant  string
	limit   int
	skip    int
	sort    string
	fields  []string
	onlyCnt bool
}

func (lf *listFlags) register(c *cobra.Command) {
	c.Flags().StringVarP(&lf.tenant, "tenant", "t", pipeline.DefaultTenantID, "Tenant id")
	c.Flags().IntVar(&lf.limit, "limit", core.DefaultRecordLimit, "Max records returned")
	c.Flags().IntVar(&lf.skip, "skip", 0, "Records to skip")
	c.Flags().StringVar(&lf.sort, "sort", "", "Sort fields, prefix with - for descending (eg. name,-createdOn)")
	c.Flags().StringSliceVar(&lf.fields, "fields", nil, "Fields to project")
	c.Flags().BoolVar(&lf.onlyCnt, "only-count", false, "Only count the records")
}

func (lf *listFlags) dbParams() core.DbParams {
	return core.DbParams{
		Limit:           lf.limit,
		Skip:            lf.skip,
		Sort:            parseSort(lf.sort),
		OnlyRecordCount: lf.onlyCnt,
	}
}

// parseSort turns "name,-createdOn" into a sort document
func parseSort(s string) bson.D {
	var sort bson.D
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if strings.HasPrefix(f, "-") {
			sort = append(sort, bson.E{Key: f[1:], Value: -1})
		} else {
			sort = append(sort, bson.E{Key: strings.TrimPrefix(f, "+"), Value: 1})
		}
	}
	return sort
}

func siteAreaFlags(c *cobra.Command, p *storage.SiteAreasParams) {
	c.Flags().StringSliceVar(&p.SiteAreaIDs, "site-area-ids", nil, "Site area ids")
	c.Flags().StringSliceVar(&p.SiteIDs, "site-ids", nil, "Site ids")
	c.Flags().StringSliceVar(&p.CompanyIDs, "company-ids", nil, "Company ids")
	c.Flags().StringVar(&p.ExcludeSiteAreaID, "exclude", "", "Site area id to leave out")
	c.Flags().StringVarP(&p.Search, "search", "s", "", "Search by name")
	c.Flags().BoolVar(&p.WithSite, "with-site", false, "Join the site")
	c.Flags().BoolVar(&p.WithParentSiteArea, "with-parent", false, "Join the parent site area")
	c.Flags().BoolVar(&p.WithChargingStations, "with-stations", false, "Join the charging stations")
	c.Flags().BoolVar(&p.WithAvailableChargers, "with-available-chargers", false, "Add connector counters")
}

func pricingFlags(c *cobra.Command, p *storage.PricingModelsParams) {
	c.Flags().StringSliceVar(&p.IDs, "ids", nil, "Pricing model ids")
	c.Flags().StringSliceVar(&p.ContextIDs, "context-ids", nil, "Context ids")
}

func explainCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "explain",
		Short: "Print the aggregation pipelines a listing runs",
		Long: `Print the MongoDB aggregation pipelines a listing runs without
connecting to the database. The data pipeline is printed unless --count
is given.`,
	}
	c.PersistentFlags().BoolVar(&explainYAML, "yaml", false, "Print YAML instead of extended JSON")
	c.PersistentFlags().BoolVar(&explainCount, "count", false, "Print the count pipeline")

	var (
		lf  listFlags
		sap storage.SiteAreasParams
	)
	sa := &cobra.Command{
		Use:     "sitearea",
		Aliases: []string{"siteareas"},
		Short:   "Explain the site area listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			setup(cpath)
			q := storage.SiteAreasQuery(lf.tenant, conf.ChargingStation.PingInterval,
				sap, lf.dbParams(), lf.fields)
			return explainListing(cmd.OutOrStdout(), lf.tenant, q)
		},
	}
	lf.register(sa)
	siteAreaFlags(sa, &sap)

	var (
		plf listFlags
		pp  storage.PricingModelsParams
	)
	pr := &cobra.Command{
		Use:   "pricing",
		Short: "Explain the pricing model listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := storage.PricingModelsQuery(plf.tenant, pp, plf.dbParams(), plf.fields)
			return explainListing(cmd.OutOrStdout(), plf.tenant, q)
		},
	}
	plf.register(pr)
	pricingFlags(pr, &pp)

	c.AddCommand(sa, pr)
	return c
}

func explainListing(w io.Writer, tenantID string, q core.ListQuery) error {
	p := q.DataPipeline()
	if explainCount {
		p = append(q.CountPipeline(), pipeline.Count{Field: "count"})
	}

	header := pipeline.CollectionName(tenantID, q.Collection)
	if joined := p.Joined(); len(joined) != 0 {
		header += " joins " + strings.Join(joined, ", ")
	}
	fmt.Fprintf(w, "# %s\n", header)

	// extended JSON keeps the key order of each stage
	b, err := bson.MarshalExtJSON(bson.D{{Key: "pipeline", Value: p.Documents()}}, false, false)
	if err != nil {
		return err
	}

	if explainYAML {
		var doc yaml.Node
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return err
		}
		plainStyle(&doc)

		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(&doc)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(w)
	return err
}

// plainStyle drops the flow and quoting styles inherited from JSON
func plainStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		plainStyle(c)
	}
}
