package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/mongodriver"
	"github.com/evfleet/fleetdb/storage/seed"
)

func seedCmd() *cobra.Command {
	var (
		tenantID string
		opts     = seed.DefaultOptions
	)

	c := &cobra.Command{
		Use:   "seed",
		Short: "Insert a generated fleet for a tenant",
		Long: `Insert generated users, companies, sites, site areas, charging
stations and pricing models into the collections of a tenant. The same
--seed always produces the same names, statuses and amounts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := newService(ctx)
			defer s.Close(context.Background())

			conn, ok := s.Executor().(*mongodriver.Conn)
			if !ok {
				return errors.New("seeding needs a mongodb connection")
			}

			d := seed.Generate(opts)
			written, err := d.Insert(ctx, conn, tenantID)
			if err != nil {
				return err
			}

			// results cached by a long running process are stale now
			refs := make([]core.CollectionRef, 0, len(written))
			names := make([]string, 0, len(written))
			for name := range written {
				refs = append(refs, core.ParseCollectionRef(name))
				names = append(names, name)
			}
			if c := s.Cache(); c != nil {
				if err := c.InvalidateCollections(ctx, refs); err != nil {
					log.Warnf("cache invalidation failed: %s", err)
				}
			}

			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", name, written[name])
			}
			return nil
		},
	}

	c.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id")
	c.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	c.Flags().IntVar(&opts.Users, "users", opts.Users, "Number of users")
	c.Flags().IntVar(&opts.Companies, "companies", opts.Companies, "Number of companies")
	c.Flags().IntVar(&opts.SitesPerCompany, "sites", opts.SitesPerCompany, "Sites per company")
	c.Flags().IntVar(&opts.AreasPerSite, "areas", opts.AreasPerSite, "Site areas per site")
	c.Flags().IntVar(&opts.StationsPerArea, "stations", opts.StationsPerArea, "Charging stations per site area")
	c.Flags().IntVar(&opts.ConnectorsPerStation, "connectors", opts.ConnectorsPerStation, "Connectors per charging station")
	c.Flags().IntVar(&opts.PricingModels, "pricing-models", opts.PricingModels, "Number of pricing models")
	_ = c.MarkFlagRequired("tenant")
	return c
}
