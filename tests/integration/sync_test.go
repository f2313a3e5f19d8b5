package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pantrylabs/listd/internal/identity"
	"github.com/pantrylabs/listd/internal/list"
	"gorm.io/gorm"
)

// client bundles one writer's view of the shared list: a resolved identity and
// a coordinator whose projection tracks the shared store's snapshot fan-out.
type client struct {
	writerID string
	service  *list.Service
	cancel   func()
}

// fixture wires the shared pieces every client attaches to: the database, the
// identity service, and the single item store all writers go through.
type fixture struct {
	db       *gorm.DB
	identity *identity.Service
	store    *list.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:integration_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&list.Item{}, &identity.Identity{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	identityService, err := identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct identity service: %v", err)
	}

	subject, err := identityService.NewSubject()
	if err != nil {
		t.Fatalf("failed to mint process subject: %v", err)
	}
	processSession := identity.NewSession()
	processID, err := identityService.Resolve(context.Background(), subject)
	if err != nil {
		t.Fatalf("failed to resolve process identity: %v", err)
	}
	processSession.Establish(processID)

	store, err := list.NewStore(list.StoreConfig{
		Database:   db,
		IDProvider: list.NewUUIDProvider(),
		Writers:    processSession,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	return &fixture{db: db, identity: identityService, store: store}
}

func (f *fixture) newClient(t *testing.T, subject string) *client {
	t.Helper()

	writerID, err := f.identity.Resolve(context.Background(), subject)
	if err != nil {
		t.Fatalf("failed to resolve identity: %v", err)
	}

	session := identity.NewSession()
	session.Establish(writerID)

	service, err := list.NewService(list.ServiceConfig{
		Store:   f.store,
		Writers: session,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	cancel, err := service.Start(context.Background())
	if err != nil {
		t.Fatalf("failed to start projection: %v", err)
	}
	t.Cleanup(cancel)

	return &client{writerID: writerID, service: service, cancel: cancel}
}

func waitFor(t *testing.T, describe string, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", describe)
}

func TestClientsConvergeOnSharedList(t *testing.T) {
	f := newFixture(t)
	alpha := f.newClient(t, "client-alpha")
	beta := f.newClient(t, "client-beta")
	ctx := context.Background()

	if _, err := alpha.service.AddItem(ctx, "Milk", alpha.writerID); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if _, err := beta.service.AddItem(ctx, "Bread", beta.writerID); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	waitFor(t, "alpha sees both items", func() bool {
		return len(alpha.service.Projection()) == 2
	})
	waitFor(t, "beta sees both items", func() bool {
		return len(beta.service.Projection()) == 2
	})

	pending, bought := list.PartitionItems(beta.service.Projection())
	if len(pending) != 2 || len(bought) != 0 {
		t.Fatalf("expected two pending items, got pending=%d bought=%d", len(pending), len(bought))
	}
}

func TestConcurrentTogglesLastWriterWins(t *testing.T) {
	f := newFixture(t)
	alpha := f.newClient(t, "client-alpha")
	beta := f.newClient(t, "client-beta")
	ctx := context.Background()

	itemID, err := alpha.service.AddItem(ctx, "Milk", alpha.writerID)
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	waitFor(t, "beta sees the item", func() bool {
		return len(beta.service.Projection()) == 1
	})

	// Freeze beta's projection so it keeps the stale pending state while
	// alpha's toggle lands first.
	beta.cancel()

	if err := alpha.service.ToggleItem(ctx, itemID.String(), alpha.writerID); err != nil {
		t.Fatalf("unexpected alpha toggle error: %v", err)
	}
	waitFor(t, "alpha sees the item bought", func() bool {
		snapshot := alpha.service.Projection()
		return len(snapshot) == 1 && snapshot[0].Bought
	})

	// Beta still believes the item is pending and issues its own toggle. The
	// store applies it unconditionally: beta's payload fully supersedes
	// alpha's, with no rejection surfaced to either writer.
	if err := beta.service.ToggleItem(ctx, itemID.String(), beta.writerID); err != nil {
		t.Fatalf("unexpected beta toggle error: %v", err)
	}

	waitFor(t, "alpha converges on beta's write", func() bool {
		snapshot := alpha.service.Projection()
		return len(snapshot) == 1 && snapshot[0].LastModifiedBy == beta.writerID
	})

	final := alpha.service.Projection()[0]
	if !final.Bought {
		t.Fatalf("expected the second write's bought value, got %v", final.Bought)
	}
	if final.LastModifiedBy != beta.writerID {
		t.Fatalf("expected attribution to the second writer, got %s", final.LastModifiedBy)
	}
}

func TestDeleteConvergesAcrossClients(t *testing.T) {
	f := newFixture(t)
	alpha := f.newClient(t, "client-alpha")
	beta := f.newClient(t, "client-beta")
	ctx := context.Background()

	itemID, err := alpha.service.AddItem(ctx, "Milk", alpha.writerID)
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	waitFor(t, "beta sees the item", func() bool {
		return len(beta.service.Projection()) == 1
	})

	if err := beta.service.DeleteItem(ctx, itemID.String()); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	waitFor(t, "alpha sees the deletion", func() bool {
		return len(alpha.service.Projection()) == 0
	})
}
