// Main package for the fleetdb command line tool
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/serv"
)

// Version and commit are set with -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

var (
	log   *zap.SugaredLogger
	conf  *serv.Config
	cpath string
)

func main() {
	Cmd()
}

// Cmd is the entry point for the CLI
func Cmd() {
	log = serv.NewLogger(false, "info").Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fleetdb",
		Short:         BuildDetails(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	rootCmd.AddCommand(
		versionCmd(),
		testCmd(),
		explainCmd(),
		pricingCmd(),
		siteAreaCmd(),
		seedCmd(),
		watchCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildDetails())
		},
	}
}

// BuildDetails returns the version line
func BuildDetails() string {
	return fmt.Sprintf("fleetdb %s (%s)", version, commit)
}

// setup reads the config for the current environment once
func setup(cpath string) {
	if conf != nil {
		return
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		log.Fatal(err)
	}

	if conf, err = serv.ReadInConfig(filepath.Join(cp, GetConfigName())); err != nil {
		log.Fatal(err)
	}
	log = serv.NewLogger(conf.LogFormat == "json", conf.LogLevel).Sugar()
}

// GetConfigName picks the config file from the GO_ENV environment variable
func GetConfigName() string {
	ge := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch ge {
	case "production", "prod":
		return "prod"
	case "staging", "stage":
		return "stage"
	case "testing", "test":
		return "test"
	case "development", "dev", "":
		return "dev"
	default:
		return ge
	}
}

// newService reads the config and connects to MongoDB
func newService(ctx context.Context) *serv.Service {
	setup(cpath)

	s, err := serv.NewService(ctx, conf, serv.OptionSetLogger(log.Desugar()))
	if err != nil {
		log.Fatal(err)
	}
	return s
}

// tenant resolves the --tenant flag
func tenant(ctx context.Context, s *serv.Service, id string) *core.Tenant {
	t, err := s.Tenants().Get(ctx, id)
	if err != nil {
		log.Fatalf("tenant %s: %s", id, err)
	}
	return t
}
