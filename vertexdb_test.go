package vertexdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/corvid/vertexdb"
	"github.com/corvid/vertexdb/examples/budget"
)

// newTestEngine mirrors the teacher's newTestStore(t, dbPath) helper: a
// file-backed database under t.TempDir() (file-based databases are more
// reliable than in-memory ones across the engine's single-connection pool),
// closed automatically via t.Cleanup.
func newTestEngine(t *testing.T) *vertexdb.Engine {
	t.Helper()
	ctx := context.Background()
	path := t.TempDir() + "/test.db"
	e, err := vertexdb.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	budget.Factories(e)
	return e
}

// S1: saving two BudgetItems and reading them back returns both, in
// insertion order, with their scalar fields intact.
func TestSaveAndRetrieve(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	a := budget.NewBudgetItem("Rent", 1200)
	b := budget.NewBudgetItem("Groceries", 300)
	if err := e.Save(ctx, a); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if err := e.Save(ctx, b); err != nil {
		t.Fatalf("Save b: %v", err)
	}
	if a.ID() == 0 || b.ID() == 0 {
		t.Fatalf("Save did not assign ids: a=%d b=%d", a.ID(), b.ID())
	}
	if a.ID() == b.ID() {
		t.Fatalf("two saves assigned the same id: %d", a.ID())
	}

	recs, err := e.Retrieve(ctx, "BudgetItem")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Retrieve returned %d records, want 2", len(recs))
	}
	got0, got1 := recs[0].(*budget.BudgetItem), recs[1].(*budget.BudgetItem)
	if got0.Label != "Rent" || got0.Budgeted != 1200 {
		t.Errorf("recs[0] = %+v, want Rent/1200", got0)
	}
	if got1.Label != "Groceries" || got1.Budgeted != 300 {
		t.Errorf("recs[1] = %+v, want Groceries/300", got1)
	}
}

// S2: re-saving a record with the identical scalar fields is idempotent:
// it commits no new transaction and a subsequent Undo has nothing to do
// for that save.
func TestSaveIdempotence(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	item := budget.NewBudgetItem("Rent", 1200)
	if err := e.Save(ctx, item); err != nil {
		t.Fatalf("Save (create): %v", err)
	}

	// Identical re-save: same label, same amount.
	again := budget.NewBudgetItem("Rent", 1200)
	again.SetID(item.ID())
	if err := e.Save(ctx, again); err != nil {
		t.Fatalf("Save (idempotent update): %v", err)
	}

	// Undo once reverts the create. If the idempotent update had written
	// its own transaction, a single Undo would only revert it and leave
	// the record in place; instead the record must vanish entirely.
	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	recs, err := e.Retrieve(ctx, "BudgetItem")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("after one Undo following an idempotent re-save, Retrieve returned %d records, want 0", len(recs))
	}

	// A second Undo must be a no-op: there was only ever one transaction.
	span, err := e.Undo(ctx)
	if err != nil {
		t.Fatalf("second Undo: %v", err)
	}
	if span != nil {
		t.Fatalf("second Undo returned %+v, want nil (nothing left to undo)", span)
	}
}

// S2b: a real scalar change (not idempotent) does produce history that
// Undo can revert.
func TestSaveUpdateThenUndoRestoresPriorValue(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	item := budget.NewBudgetItem("Rent", 1200)
	if err := e.Save(ctx, item); err != nil {
		t.Fatalf("Save (create): %v", err)
	}

	item.Budgeted = 1500
	if err := e.Save(ctx, item); err != nil {
		t.Fatalf("Save (update): %v", err)
	}

	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	recs, err := e.Retrieve(ctx, "BudgetItem")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Retrieve returned %d records, want 1", len(recs))
	}
	got := recs[0].(*budget.BudgetItem)
	if got.Budgeted != 1200 {
		t.Errorf("after undoing the update, Budgeted = %v, want 1200", got.Budgeted)
	}
}

// S3: SaveAll persists a Budget together with its BudgetItems in one
// transaction; a single Undo removes the whole tree.
func TestSaveAllTreeAndUndo(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	bud := budget.NewBudget(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 500)
	bud.Items = []*budget.BudgetItem{
		budget.NewBudgetItem("Rent", 1200),
		budget.NewBudgetItem("Groceries", 300),
	}
	if err := e.SaveAll(ctx, bud); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if bud.ID() == 0 {
		t.Fatalf("SaveAll did not assign the Budget an id")
	}
	for i, item := range bud.Items {
		if item.ID() == 0 {
			t.Fatalf("SaveAll did not assign item %d an id", i)
		}
	}

	reloaded, err := e.RetrieveByID(ctx, "Budget", bud.ID())
	if err != nil {
		t.Fatalf("RetrieveByID: %v", err)
	}
	if reloaded == nil {
		t.Fatalf("RetrieveByID returned nil for a just-saved Budget")
	}
	if got := len(reloaded.(*budget.Budget).Items); got != 2 {
		t.Fatalf("reloaded Budget has %d items, want 2", got)
	}

	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	budgets, err := e.Retrieve(ctx, "Budget")
	if err != nil {
		t.Fatalf("Retrieve Budget: %v", err)
	}
	items, err := e.Retrieve(ctx, "BudgetItem")
	if err != nil {
		t.Fatalf("Retrieve BudgetItem: %v", err)
	}
	if len(budgets) != 0 || len(items) != 0 {
		t.Fatalf("after undoing SaveAll, found %d budgets and %d items, want 0 and 0", len(budgets), len(items))
	}

	if _, err := e.Redo(ctx); err != nil {
		t.Fatalf("Redo: %v", err)
	}
	budgets, err = e.Retrieve(ctx, "Budget")
	if err != nil {
		t.Fatalf("Retrieve Budget after Redo: %v", err)
	}
	items, err = e.Retrieve(ctx, "BudgetItem")
	if err != nil {
		t.Fatalf("Retrieve BudgetItem after Redo: %v", err)
	}
	if len(budgets) != 1 || len(items) != 2 {
		t.Fatalf("after Redo, found %d budgets and %d items, want 1 and 2", len(budgets), len(items))
	}
}

// S4: DeleteAll on a Budget cascades to its BudgetItems, and Undo restores
// both the budget and its items at their original ids with their edges.
func TestDeleteAllCascadeAndUndo(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	bud := budget.NewBudget(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 900)
	bud.Items = []*budget.BudgetItem{budget.NewBudgetItem("Rent", 1200)}
	if err := e.SaveAll(ctx, bud); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	budgetID, itemID := bud.ID(), bud.Items[0].ID()

	if err := e.DeleteAll(ctx, bud); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if recs, err := e.Retrieve(ctx, "Budget"); err != nil || len(recs) != 0 {
		t.Fatalf("Retrieve Budget after DeleteAll: recs=%v err=%v, want 0, nil", recs, err)
	}
	if recs, err := e.Retrieve(ctx, "BudgetItem"); err != nil || len(recs) != 0 {
		t.Fatalf("Retrieve BudgetItem after DeleteAll: recs=%v err=%v, want 0, nil", recs, err)
	}

	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	reloadedBudget, err := e.RetrieveByID(ctx, "Budget", budgetID)
	if err != nil {
		t.Fatalf("RetrieveByID Budget: %v", err)
	}
	if reloadedBudget == nil {
		t.Fatalf("budget %d not restored by Undo", budgetID)
	}
	reloadedItem, err := e.RetrieveByID(ctx, "BudgetItem", itemID)
	if err != nil {
		t.Fatalf("RetrieveByID BudgetItem: %v", err)
	}
	if reloadedItem == nil {
		t.Fatalf("item %d not restored by Undo", itemID)
	}
	if got := reloadedBudget.(*budget.Budget).Items; len(got) != 1 || got[0].ID() != itemID {
		t.Fatalf("restored budget's edge to its item did not survive undo: %+v", got)
	}
}

// S5: a to-one optional edge (Split.ActualItem), exercised through
// Transaction/Split/ActualItem, survives SaveAll, and survives DeleteAll
// followed by Undo.
func TestToOneEdgeThroughSaveAll(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	ts := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	txn := budget.NewTransaction(250, "coffee", "", ts)
	split := budget.NewSplit(250)
	split.ActualItem = budget.NewActualItem(250, "Americano", "", ts)
	txn.Splits = []*budget.Split{split}

	if err := e.SaveAll(ctx, txn); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if split.ActualItem.ID() == 0 {
		t.Fatalf("SaveAll did not assign the nested ActualItem an id")
	}

	reloaded, err := e.RetrieveByID(ctx, "Transaction", txn.ID())
	if err != nil {
		t.Fatalf("RetrieveByID: %v", err)
	}
	rt := reloaded.(*budget.Transaction)
	if len(rt.Splits) != 1 {
		t.Fatalf("reloaded transaction has %d splits, want 1", len(rt.Splits))
	}
	if rt.Splits[0].ActualItem == nil {
		t.Fatalf("reloaded split lost its to-one ActualItem edge")
	}
	if rt.Splits[0].ActualItem.Memo != "Americano" {
		t.Errorf("reloaded actual item memo = %q, want Americano", rt.Splits[0].ActualItem.Memo)
	}

	if err := e.DeleteAll(ctx, txn); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	for _, typeName := range []string{"Transaction", "Split", "ActualItem"} {
		recs, err := e.Retrieve(ctx, typeName)
		if err != nil {
			t.Fatalf("Retrieve %s: %v", typeName, err)
		}
		if len(recs) != 0 {
			t.Fatalf("%s not fully cascaded away: %d remain", typeName, len(recs))
		}
	}

	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	reloaded, err = e.RetrieveByID(ctx, "Transaction", txn.ID())
	if err != nil {
		t.Fatalf("RetrieveByID after Undo: %v", err)
	}
	if reloaded == nil {
		t.Fatalf("transaction not restored by Undo of the cascading delete")
	}
	if got := reloaded.(*budget.Transaction).Splits[0].ActualItem; got == nil || got.Memo != "Americano" {
		t.Fatalf("to-one edge not restored by Undo: %+v", got)
	}
}

// S6: IndexCompletion records a searchable label when a BudgetItem is
// saved, and a prefix search finds it.
func TestCompletionIndexedOnSave(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	item := budget.NewBudgetItem("Rent", 1200)
	if err := e.Save(ctx, item); err != nil {
		t.Fatalf("Save: %v", err)
	}

	labels, err := e.Completions(ctx, "BudgetItem", "label", "Re")
	if err != nil {
		t.Fatalf("Completions: %v", err)
	}
	found := false
	for _, l := range labels {
		if l == "Rent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Completions(%q) = %v, want it to include %q", "Re", labels, "Rent")
	}
}

// Property (spec §8): K saves followed by K undos leaves Retrieve empty.
func TestKSavesThenKUndosEmptiesStore(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	const k = 5
	for i := 0; i < k; i++ {
		item := budget.NewBudgetItem("item", float64(i))
		if err := e.Save(ctx, item); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	recs, err := e.Retrieve(ctx, "BudgetItem")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(recs) != k {
		t.Fatalf("after %d saves, Retrieve returned %d, want %d", k, len(recs), k)
	}

	for i := 0; i < k; i++ {
		if _, err := e.Undo(ctx); err != nil {
			t.Fatalf("Undo %d: %v", i, err)
		}
	}
	recs, err = e.Retrieve(ctx, "BudgetItem")
	if err != nil {
		t.Fatalf("Retrieve after undos: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("after %d saves and %d undos, Retrieve returned %d, want 0", k, k, len(recs))
	}

	span, err := e.Undo(ctx)
	if err != nil {
		t.Fatalf("extra Undo: %v", err)
	}
	if span != nil {
		t.Fatalf("Undo past the beginning of history returned %+v, want nil", span)
	}
}

// Property (spec §8): RetrieveByID with a mismatched type name finds
// nothing even if the id exists under a different type.
func TestRetrieveByIDTypeMismatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	item := budget.NewBudgetItem("Rent", 1200)
	if err := e.Save(ctx, item); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := e.RetrieveByID(ctx, "Budget", item.ID())
	if err != nil {
		t.Fatalf("RetrieveByID: %v", err)
	}
	if got != nil {
		t.Fatalf("RetrieveByID with the wrong type returned %+v, want nil", got)
	}
}

// Property (spec §8): deleting an unsaved record (id == 0) is a no-op,
// not an error.
func TestDeleteUnsavedRecordIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	item := budget.NewBudgetItem("Rent", 1200)
	if err := e.Delete(ctx, item, false); err != nil {
		t.Fatalf("Delete on an unsaved record returned an error: %v", err)
	}
}

// Functional Options are the third, highest-precedence config tier: they
// must win over whatever a config file or environment variable resolved,
// since Open applies them to the already-loaded Config last.
func TestOpenOptionOverridesResolvedConfig(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/test.db"

	e, err := vertexdb.Open(ctx, path,
		vertexdb.WithBusyTimeout(3*time.Second),
		vertexdb.WithWALCheckpointPages(250),
		vertexdb.WithCompletionCaseSensitive(true),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	budget.Factories(e)

	item := budget.NewBudgetItem("rent", 1200)
	if err := e.Save(ctx, item); err != nil {
		t.Fatalf("Save: %v", err)
	}
	item2 := budget.NewBudgetItem("Rent", 1200)
	if err := e.Save(ctx, item2); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// With completion matching forced case-sensitive, a prefix search for
	// the capitalized form must not also surface the lowercase label.
	got, err := e.Completions(ctx, "BudgetItem", "label", "Re")
	if err != nil {
		t.Fatalf("Completions: %v", err)
	}
	if len(got) != 1 || got[0] != "Rent" {
		t.Fatalf("Completions(\"Re\") under WithCompletionCaseSensitive(true) = %v, want only \"Rent\"", got)
	}
}

// Redo past the most recent transaction is a no-op, mirroring Undo past
// the beginning.
func TestRedoPastEndIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	item := budget.NewBudgetItem("Rent", 1200)
	if err := e.Save(ctx, item); err != nil {
		t.Fatalf("Save: %v", err)
	}

	span, err := e.Redo(ctx)
	if err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if span != nil {
		t.Fatalf("Redo with nothing ahead returned %+v, want nil", span)
	}
}
