package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/evfleet/fleetdb/storage"
)

func siteAreaCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "siteareas",
		Aliases: []string{"sitearea"},
		Short:   "Read site areas",
	}

	var (
		lf  listFlags
		sap storage.SiteAreasParams
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List site areas sorted by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := newService(ctx)
			defer s.Close(context.Background())

			res, err := s.SiteAreas().GetSiteAreas(ctx, tenant(ctx, s, lf.tenant),
				sap, lf.dbParams(), lf.fields)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	lf.register(list)
	siteAreaFlags(list, &sap)

	var (
		glf listFlags
		gp  storage.SiteAreasParams
	)
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one site area",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := newService(ctx)
			defer s.Close(context.Background())

			a, err := s.SiteAreas().GetSiteArea(ctx, tenant(ctx, s, glf.tenant),
				args[0], gp, glf.fields)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
	glf.register(get)
	siteAreaFlags(get, &gp)

	c.AddCommand(list, get)
	return c
}
