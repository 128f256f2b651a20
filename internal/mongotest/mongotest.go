// Package mongotest provides a MongoDB server to tests that run pipelines
// for real.
package mongotest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

const (
	// EnvURI points the tests at an existing server instead of a container
	EnvURI = "FLEETDB_TEST_MONGO_URI"

	// Image is the container started when EnvURI is not set
	Image = "mongo:7"
)

var (
	once      sync.Once
	uri       string
	startErr  error
	container *mongodb.MongoDBContainer
)

// URI returns the server to test against. Without EnvURI a container is
// started once per test binary. The test is skipped in short mode or
// when no container runtime is available.
func URI(t *testing.T) string {
	t.Helper()
	if u := os.Getenv(EnvURI); u != "" {
		return u
	}
	if testing.Short() {
		t.Skip("short mode: no MongoDB container")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		container, startErr = mongodb.Run(ctx, Image)
		if startErr != nil {
			return
		}
		uri, startErr = container.ConnectionString(ctx)
	})
	if startErr != nil {
		t.Skipf("mongodb container: %s", startErr)
	}
	return uri
}

// Terminate stops the container, if one was started. Call it from TestMain
// after m.Run.
func Terminate() {
	if container != nil {
		_ = container.Terminate(context.Background())
	}
}
