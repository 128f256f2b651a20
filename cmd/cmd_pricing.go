package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/evfleet/fleetdb/storage"
)

func pricingCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "pricing",
		Aliases: []string{"pricing-models"},
		Short:   "Read and write pricing models",
	}

	var (
		lf listFlags
		pp storage.PricingModelsParams
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List pricing models, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := newService(ctx)
			defer s.Close(context.Background())

			res, err := s.Pricing().GetPricingModels(ctx, tenant(ctx, s, lf.tenant),
				pp, lf.dbParams(), lf.fields)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	lf.register(list)
	pricingFlags(list, &pp)

	var glf listFlags
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one pricing model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := newService(ctx)
			defer s.Close(context.Background())

			m, err := s.Pricing().GetPricingModel(ctx, tenant(ctx, s, glf.tenant),
				args[0], storage.PricingModelsParams{}, glf.fields)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	glf.register(get)

	var slf listFlags
	save := &cobra.Command{
		Use:   "save <file.json|->",
		Short: "Create or replace a pricing model from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := readPricingModel(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s := newService(ctx)
			defer s.Close(context.Background())

			id, err := s.Pricing().SavePricingModel(ctx, tenant(ctx, s, slf.tenant), m)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	slf.register(save)

	var dlf listFlags
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pricing model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := newService(ctx)
			defer s.Close(context.Background())

			return s.Pricing().DeletePricingModel(ctx, tenant(ctx, s, dlf.tenant), args[0])
		},
	}
	dlf.register(del)

	c.AddCommand(list, get, save, del)
	return c
}

func readPricingModel(stdin io.Reader, file string) (*storage.PricingModel, error) {
	r := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var m storage.PricingModel
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode pricing model: %w", err)
	}
	return &m, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
