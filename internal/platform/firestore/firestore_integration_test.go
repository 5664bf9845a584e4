//go:build integration

package firestore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/require"

	pconfig "finitefield.org/bookfinder/internal/platform/config"
	pfirestore "finitefield.org/bookfinder/internal/platform/firestore"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Owner string `firestore:"owner"`
}

// Runs against a local emulator, e.g.
// gcloud emulators firestore start --host-port=127.0.0.1:8085
func TestRepositoryAgainstEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "bookfinder-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[sampleEntity](provider, "samples-"+time.Now().Format("150405.000000"))
	id, err := repo.Add(ctx, sampleEntity{Name: "Dune", Owner: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = repo.Add(ctx, sampleEntity{Name: "Emma", Owner: "u2"})
	require.NoError(t, err)

	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("owner", "==", "u1")
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "Dune", docs[0].Data.Name)
	require.Equal(t, id, docs[0].ID)
}
