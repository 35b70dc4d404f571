//go:build integration

// Package firestoretest starts a disposable Firestore emulator for integration tests.
package firestoretest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	pconfig "github.com/hanko-field/orderflow/internal/platform/config"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
)

const (
	emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	emulatorPort  = "8080/tcp"
)

// StartEmulator runs the emulator container and returns its host:port. The test is skipped when
// no container runtime is reachable.
func StartEmulator(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        emulatorImage,
			ExposedPorts: []string{emulatorPort},
			Cmd:          []string{"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet"},
			WaitingFor:   wait.ForLog("Dev App Server is now running").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("start firestore emulator: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("emulator host: %v", err)
	}
	port, err := container.MappedPort(ctx, emulatorPort)
	if err != nil {
		t.Fatalf("emulator port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

// NewProvider starts an emulator and returns a provider bound to it, closed on cleanup.
func NewProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	endpoint := StartEmulator(t)
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}
