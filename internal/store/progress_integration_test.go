package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// TestToggleProgressDoubleToggleIsIdentity verifies the upsert flip
// against a real database: toggling the same (user, item) pair twice
// lands back on the starting state.
func TestToggleProgressDoubleToggleIsIdentity(t *testing.T) {
	db, store := openTestStore(t)
	defer db.Close()
	ctx := context.Background()

	user := insertTestUser(t, store)
	defer cleanupTestUser(t, db, user.ID)

	checklist, items, err := store.CreateChecklist(ctx, "toggle-"+uuid.NewString(), []string{"Milk"}, uuid.NullUUID{})
	if err != nil {
		t.Fatalf("create checklist: %v", err)
	}
	defer cleanupTestChecklist(t, db, checklist.ID)
	itemID := items[0].ID

	// First toggle creates the row checked=true.
	if err := store.ToggleProgress(ctx, user.ID, itemID); err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if got := queryChecked(t, db, user.ID, itemID); !got {
		t.Fatal("expected checked=true after first toggle")
	}

	// Second toggle flips it back.
	if err := store.ToggleProgress(ctx, user.ID, itemID); err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if got := queryChecked(t, db, user.ID, itemID); got {
		t.Fatal("expected checked=false after second toggle")
	}

	// The pair still maps to exactly one row.
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_checklist_progress WHERE user_id=$1 AND item_id=$2`,
		user.ID, itemID,
	).Scan(&count); err != nil {
		t.Fatalf("count progress rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 progress row, got %d", count)
	}
}

// TestToggleProgressUnknownItemMapsToNoRows verifies the FK-violation
// translation: toggling against a missing item surfaces sql.ErrNoRows.
func TestToggleProgressUnknownItemMapsToNoRows(t *testing.T) {
	db, store := openTestStore(t)
	defer db.Close()
	ctx := context.Background()

	user := insertTestUser(t, store)
	defer cleanupTestUser(t, db, user.ID)

	err := store.ToggleProgress(ctx, user.ID, int64(-1))
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown item, got %v", err)
	}
}

// TestCreateChecklistAssignsSequentialDisplayOrder verifies that items
// come back from the database in submission order with display_order
// counting up from 0.
func TestCreateChecklistAssignsSequentialDisplayOrder(t *testing.T) {
	db, store := openTestStore(t)
	defer db.Close()
	ctx := context.Background()

	checklist, created, err := store.CreateChecklist(ctx, "order-"+uuid.NewString(),
		[]string{"Passport", "Tickets", "Charger"}, uuid.NullUUID{})
	if err != nil {
		t.Fatalf("create checklist: %v", err)
	}
	defer cleanupTestChecklist(t, db, checklist.ID)

	if len(created) != 3 {
		t.Fatalf("expected 3 items, got %d", len(created))
	}

	items, err := store.ListItems(ctx, checklist.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	wantContent := []string{"Passport", "Tickets", "Charger"}
	for i, item := range items {
		if item.Content != wantContent[i] {
			t.Fatalf("position %d: expected %q, got %q", i, wantContent[i], item.Content)
		}
		if item.DisplayOrder != i {
			t.Fatalf("position %d: expected display_order %d, got %d", i, i, item.DisplayOrder)
		}
	}
}

// TestUpdateItemOrdersPersistsSubmittedOrder round-trips a reorder: the
// permutation written is the order ListItems returns afterwards.
func TestUpdateItemOrdersPersistsSubmittedOrder(t *testing.T) {
	db, store := openTestStore(t)
	defer db.Close()
	ctx := context.Background()

	checklist, created, err := store.CreateChecklist(ctx, "reorder-"+uuid.NewString(),
		[]string{"first", "second", "third"}, uuid.NullUUID{})
	if err != nil {
		t.Fatalf("create checklist: %v", err)
	}
	defer cleanupTestChecklist(t, db, checklist.ID)

	reordered := []int64{created[2].ID, created[0].ID, created[1].ID}
	if err := store.UpdateItemOrders(ctx, checklist.ID, reordered); err != nil {
		t.Fatalf("update item orders: %v", err)
	}

	items, err := store.ListItems(ctx, checklist.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, item := range items {
		if item.ID != reordered[i] {
			t.Fatalf("position %d: expected item %d, got %d", i, reordered[i], item.ID)
		}
		if item.DisplayOrder != i {
			t.Fatalf("position %d: expected display_order %d, got %d", i, i, item.DisplayOrder)
		}
	}
}

// TestUpdateItemOrdersRejectsForeignItem verifies the write-side guard:
// an id outside the checklist aborts the transaction with sql.ErrNoRows
// and leaves the original order untouched.
func TestUpdateItemOrdersRejectsForeignItem(t *testing.T) {
	db, store := openTestStore(t)
	defer db.Close()
	ctx := context.Background()

	checklist, created, err := store.CreateChecklist(ctx, "guard-"+uuid.NewString(),
		[]string{"a", "b"}, uuid.NullUUID{})
	if err != nil {
		t.Fatalf("create checklist: %v", err)
	}
	defer cleanupTestChecklist(t, db, checklist.ID)

	err = store.UpdateItemOrders(ctx, checklist.ID, []int64{created[1].ID, -1})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for foreign item, got %v", err)
	}

	items, err := store.ListItems(ctx, checklist.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if items[0].ID != created[0].ID || items[1].ID != created[1].ID {
		t.Fatal("failed reorder must not change the stored order")
	}
}

func openTestStore(t *testing.T) (*sql.DB, *PostgresStore) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		db.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	return db, NewPostgresStore(db)
}

func insertTestUser(t *testing.T, store *PostgresStore) User {
	t.Helper()
	user := User{ID: uuid.New(), Username: "it-" + uuid.NewString(), Role: "user"}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func cleanupTestUser(t *testing.T, db *sql.DB, id uuid.UUID) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), `DELETE FROM users WHERE id=$1`, id); err != nil {
		t.Errorf("cleanup user: %v", err)
	}
}

func cleanupTestChecklist(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), `DELETE FROM checklists WHERE id=$1`, id); err != nil {
		t.Errorf("cleanup checklist: %v", err)
	}
}

func queryChecked(t *testing.T, db *sql.DB, userID uuid.UUID, itemID int64) bool {
	t.Helper()
	var checked bool
	err := db.QueryRowContext(context.Background(),
		`SELECT checked FROM user_checklist_progress WHERE user_id=$1 AND item_id=$2`,
		userID, itemID,
	).Scan(&checked)
	if err != nil {
		t.Fatalf("query checked flag: %v", err)
	}
	return checked
}

// getTestDatabaseURL returns the database URL for integration tests,
// preferring TEST_DATABASE_URL, then the standard Postgres variables.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "tally")
	pass := envOr("POSTGRES_PASSWORD", "tally")
	dbname := envOr("POSTGRES_DB", "tally_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
