package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/evfleet/fleetdb/core"
	"github.com/evfleet/fleetdb/core/pipeline"
	"github.com/evfleet/fleetdb/serv"
)

var (
	testVerbose bool
	testJSON    bool
)

// TestResult holds the overall test results
type TestResult struct {
	Success  bool            `json:"success"`
	Services []ServiceStatus `json:"services"`
	Error    string          `json:"error,omitempty"`
	Duration string          `json:"duration"`
}

// ServiceStatus holds the status of a single service
type ServiceStatus struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Note    string `json:"note,omitempty"`
}

func testCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "test",
		Short: "Validate config and test connectivity to all services",
		Long: `Validate configuration and test connectivity to all configured services:
- MongoDB
- Redis cache (if configured)
- Tenants collection

Exit codes:
  0 - All services validated successfully
  1 - Configuration or service connection failed`,
		Run: cmdTest,
	}
	c.Flags().BoolVarP(&testVerbose, "verbose", "v", false, "Show detailed output for each service")
	c.Flags().BoolVar(&testJSON, "json", false, "Output results in JSON format")
	return c
}

func cmdTest(cmd *cobra.Command, args []string) {
	startTime := time.Now()
	var services []ServiceStatus

	// Step 1: Load configuration
	setup(cpath)
	services = append(services, ServiceStatus{
		Name:   "config",
		Type:   "yaml",
		Status: "ok",
		Note:   conf.ConfigFile(),
	})

	// Step 2: Connect (pings MongoDB and Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	service, err := serv.NewService(ctx, conf, serv.OptionSetLogger(log.Desugar()))
	if err != nil {
		outputFailure(err, services, startTime)
		os.Exit(1)
	}
	defer service.Close(context.Background())

	services = append(services, ServiceStatus{
		Name:    "database",
		Type:    "mongodb",
		Status:  "ok",
		Latency: time.Since(start).String(),
		Note:    conf.Mongo.Database,
	})

	// Redis/cache status
	cacheStatus := ServiceStatus{
		Name:   "cache",
		Type:   service.CacheType(),
		Status: "ok",
	}
	switch {
	case conf.Redis.URL != "" && service.CacheType() != serv.CacheRedis:
		cacheStatus.Note = "redis unavailable, in-memory fallback"
	case service.CacheType() == serv.CacheMemory:
		cacheStatus.Note = "in-memory"
	case service.CacheType() == serv.CacheNone:
		cacheStatus.Note = "disabled"
	}
	services = append(services, cacheStatus)

	// Step 3: The tenants collection answers
	start = time.Now()
	n, err := service.DB().Count(ctx, &core.Tenant{ID: pipeline.DefaultTenantID},
		pipeline.CollectionTenants, nil)
	if err != nil {
		services = append(services, ServiceStatus{
			Name:   "tenants",
			Type:   "collection",
			Status: "failed",
			Note:   err.Error(),
		})
		outputFailure(err, services, startTime)
		os.Exit(1)
	}
	services = append(services, ServiceStatus{
		Name:    "tenants",
		Type:    "collection",
		Status:  "ok",
		Latency: time.Since(start).String(),
		Note:    fmt.Sprintf("%d tenants", n),
	})

	// All tests passed
	outputSuccess(services, startTime)
}

func outputSuccess(services []ServiceStatus, start time.Time) {
	result := TestResult{
		Success:  true,
		Services: services,
		Duration: time.Since(start).String(),
	}
	outputResult(result)
}

func outputFailure(err error, services []ServiceStatus, start time.Time) {
	result := TestResult{
		Success:  false,
		Services: services,
		Error:    err.Error(),
		Duration: time.Since(start).String(),
	}
	outputResult(result)
}

func outputResult(result TestResult) {
	if testJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return
	}

	// Text output
	fmt.Println()
	for _, svc := range result.Services {
		status := "OK"
		if svc.Status == "failed" {
			status = "FAILED"
		}
		line := fmt.Sprintf("  %s (%s): %s", svc.Name, svc.Type, status)
		if svc.Latency != "" && testVerbose {
			line += fmt.Sprintf(" [%s]", svc.Latency)
		}
		if svc.Note != "" {
			if svc.Status == "failed" || testVerbose {
				line += fmt.Sprintf(" - %s", svc.Note)
			}
		}
		fmt.Println(line)
	}
	fmt.Println()

	if result.Success {
		fmt.Printf("All services validated (%s)\n", result.Duration)
	} else {
		fmt.Printf("Service validation failed: %s (%s)\n", result.Error, result.Duration)
	}
}
