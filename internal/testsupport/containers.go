// Package testsupport starts throwaway infrastructure for integration tests
package testsupport

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// SkipEnv disables every container-backed test when set
const SkipEnv = "FERN_SKIP_CONTAINERS"

// Logger returns a development zap logger behind ectologger
func Logger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// RequireContainers skips the test in short mode, when SkipEnv is set, or when docker is unavailable
func RequireContainers(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv(SkipEnv) != "" {
		t.Skipf("Skipping integration test: %s is set", SkipEnv)
	}
}

// run starts the container. The docker host lookup panics when no daemon exists, which is reported as an error.
func run(ctx context.Context, req testcontainers.ContainerRequest) (container testcontainers.Container, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker unavailable: %v", r)
		}
	}()
	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
}

func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	container, err := run(ctx, req)
	if err != nil {
		t.Skipf("Skipping integration test: failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})
	return container
}

func endpoint(ctx context.Context, t *testing.T, container testcontainers.Container, port string) (string, string) {
	t.Helper()
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("failed to get mapped port %s: %v", port, err)
	}
	return host, mapped.Port()
}

// Postgres is a running postgres container
type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", p.Host, p.Port, p.User, p.Password, p.Database)
}

func StartPostgres(ctx context.Context, t *testing.T) Postgres {
	t.Helper()
	RequireContainers(t)

	pg := Postgres{User: "user", Password: "password", Database: "fern"}
	container := start(ctx, t, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pg.User,
			"POSTGRES_PASSWORD": pg.Password,
			"POSTGRES_DB":       pg.Database,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})

	pg.Host, pg.Port = endpoint(ctx, t, container, "5432")
	return pg
}

// StartRedis returns the host and port of a running redis container
func StartRedis(ctx context.Context, t *testing.T) (string, int) {
	t.Helper()
	RequireContainers(t)

	container := start(ctx, t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	})

	host, port := endpoint(ctx, t, container, "6379")
	portNum, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("invalid redis port %q: %v", port, err)
	}
	return host, portNum
}
