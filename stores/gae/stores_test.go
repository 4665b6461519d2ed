//go:build !wasm

package gae_test

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	oa "github.com/panyam/authsdk"
	"github.com/panyam/authsdk/stores/gae"
	"github.com/panyam/authsdk/stores/storetest"
)

// These tests need the Datastore emulator:
//
//	gcloud beta emulators datastore start --no-store-on-disk
//	$(gcloud beta emulators datastore env-init)
func TestDatastoreStores(t *testing.T) {
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	project := os.Getenv("DATASTORE_PROJECT_ID")
	if project == "" {
		project = "authsdk-test"
	}
	client, err := datastore.NewClient(context.Background(), project)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	storetest.Run(t, func(t *testing.T) *oa.Models {
		// a fresh namespace per test keeps runs isolated
		return gae.NewModels(client, "t-"+uuid.NewString()[:8], true, true)
	})
}
