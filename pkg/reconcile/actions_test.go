package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// memStatements is an in-memory StatementStore tracking match state the way
// the SQL adapter does.
type memStatements struct {
	lines    map[int64]*api.StatementLine
	receipts map[int64]*api.Receipt
}

func newMemStatements() *memStatements {
	return &memStatements{
		lines:    make(map[int64]*api.StatementLine),
		receipts: make(map[int64]*api.Receipt),
	}
}

func (m *memStatements) ImportStatement(_ context.Context, stmt *api.CardStatement, lines []api.StatementLine) error {
	stmt.ID = int64(len(m.lines) + 1)
	for i := range lines {
		line := lines[i]
		line.ID = int64(len(m.lines) + 1)
		line.StatementID = stmt.ID
		m.lines[line.ID] = &line
	}
	return nil
}

func (m *memStatements) GetLine(_ context.Context, lineID, userID int64) (*api.StatementLine, error) {
	line, ok := m.lines[lineID]
	if !ok || line.UserID != userID {
		return nil, nil
	}
	cp := *line
	return &cp, nil
}

func (m *memStatements) ListLines(_ context.Context, statementID, userID int64) ([]api.StatementLine, error) {
	var out []api.StatementLine
	for _, line := range m.lines {
		if line.StatementID == statementID && line.UserID == userID {
			out = append(out, *line)
		}
	}
	return out, nil
}

func (m *memStatements) LinkReceipt(_ context.Context, lineID, receiptID, _ int64) error {
	line := m.lines[lineID]
	line.MatchStatus = api.MatchMatched
	line.MatchedReceiptID = receiptID
	return nil
}

func (m *memStatements) UnlinkReceipt(_ context.Context, lineID, _ int64) error {
	line := m.lines[lineID]
	line.MatchStatus = api.MatchUnmatched
	line.MatchedReceiptID = 0
	return nil
}

func (m *memStatements) SetIgnored(_ context.Context, lineID, _ int64, ignored bool) error {
	line := m.lines[lineID]
	if ignored {
		line.MatchStatus = api.MatchIgnored
	} else {
		line.MatchStatus = api.MatchUnmatched
	}
	return nil
}

func (m *memStatements) GetReceiptForMatch(_ context.Context, receiptID, userID int64) (*api.Receipt, error) {
	r, ok := m.receipts[receiptID]
	if !ok || r.UserID != userID {
		return nil, nil
	}
	return r, nil
}

type memReceipts struct {
	stored []api.Receipt
}

func (m *memReceipts) GetBySourceMessageID(context.Context, string) (*api.Receipt, error) {
	return nil, nil
}
func (m *memReceipts) GetSourceLink(context.Context, string) (*api.SourceLink, error) {
	return nil, nil
}
func (m *memReceipts) CreateReceipt(context.Context, *api.Receipt) error { return nil }
func (m *memReceipts) UpdateReceipt(context.Context, *api.Receipt) error { return nil }
func (m *memReceipts) FindByContentHash(context.Context, int64, string, int64) (*api.Receipt, error) {
	return nil, nil
}

func (m *memReceipts) AdoptDuplicate(context.Context, int64, int64, string, int64) error {
	return nil
}

func (m *memReceipts) LogAttachmentDecisions(context.Context, int64, []api.AttachmentDecision) error {
	return nil
}

func (m *memReceipts) ListStored(context.Context, int64) ([]api.Receipt, error) {
	return m.stored, nil
}

func (m *memReceipts) DeleteOlderThan(context.Context, api.ReceiptStatus, time.Time) (int64, error) {
	return 0, nil
}

func setup() (*Reconciler, *memStatements) {
	store := newMemStatements()
	store.lines[1] = &api.StatementLine{
		ID: 1, StatementID: 1, UserID: 1, CardID: 7,
		TxnDate: day(2024, 3, 15), Amount: -29.99, Merchant: "Acme",
		MatchStatus: api.MatchUnmatched,
	}
	store.receipts[10] = &api.Receipt{
		ID: 10, UserID: 1, Merchant: "Acme Corp", Amount: fptr(29.99),
		PurchaseDate: day(2024, 3, 15), DriveFileID: "d10",
	}
	store.receipts[11] = &api.Receipt{
		ID: 11, UserID: 1, Merchant: "Acme Corp", Amount: fptr(29.99),
		PurchaseDate: day(2024, 3, 15), DriveFileID: "d11",
	}
	store.receipts[12] = &api.Receipt{ID: 12, UserID: 1, Merchant: "Unstored"}

	receipts := &memReceipts{}
	for _, r := range store.receipts {
		if r.Stored() {
			receipts.stored = append(receipts.stored, *r)
		}
	}
	return New(store, receipts, 0, 0, nil), store
}

func TestLinkReplacesExistingMatch(t *testing.T) {
	r, store := setup()
	ctx := context.Background()

	if err := r.Link(ctx, 1, 10, 1); err != nil {
		t.Fatalf("Link error: %v", err)
	}
	if store.lines[1].MatchStatus != api.MatchMatched || store.lines[1].MatchedReceiptID != 10 {
		t.Fatalf("line = %+v, want matched to 10", store.lines[1])
	}

	// Linking again with a different receipt replaces the match.
	if err := r.Link(ctx, 1, 11, 1); err != nil {
		t.Fatalf("Link error: %v", err)
	}
	if store.lines[1].MatchedReceiptID != 11 {
		t.Errorf("MatchedReceiptID = %d, want 11", store.lines[1].MatchedReceiptID)
	}
}

func TestLinkRejectsUnstoredReceipt(t *testing.T) {
	r, _ := setup()
	if err := r.Link(context.Background(), 1, 12, 1); err == nil {
		t.Fatal("expected error linking unstored receipt")
	}
}

func TestLinkUnknownLine(t *testing.T) {
	r, _ := setup()
	if err := r.Link(context.Background(), 99, 10, 1); err == nil {
		t.Fatal("expected error for unknown line")
	}
}

func TestUnlink(t *testing.T) {
	r, store := setup()
	ctx := context.Background()

	if err := r.Link(ctx, 1, 10, 1); err != nil {
		t.Fatalf("Link error: %v", err)
	}
	if err := r.Unlink(ctx, 1, 1); err != nil {
		t.Fatalf("Unlink error: %v", err)
	}
	if store.lines[1].MatchStatus != api.MatchUnmatched || store.lines[1].MatchedReceiptID != 0 {
		t.Errorf("line = %+v, want unmatched with no receipt", store.lines[1])
	}
}

func TestToggleIgnoreIsSelfInverse(t *testing.T) {
	r, store := setup()
	ctx := context.Background()

	status, err := r.ToggleIgnore(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ToggleIgnore error: %v", err)
	}
	if status != api.MatchIgnored || store.lines[1].MatchStatus != api.MatchIgnored {
		t.Fatalf("status = %q, want ignored", status)
	}

	status, err = r.ToggleIgnore(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ToggleIgnore error: %v", err)
	}
	if status != api.MatchUnmatched || store.lines[1].MatchStatus != api.MatchUnmatched {
		t.Fatalf("status = %q, want unmatched", status)
	}
}

func TestIgnoreMatchedLineUnlinksFirst(t *testing.T) {
	r, store := setup()
	ctx := context.Background()

	if err := r.Link(ctx, 1, 10, 1); err != nil {
		t.Fatalf("Link error: %v", err)
	}
	status, err := r.ToggleIgnore(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ToggleIgnore error: %v", err)
	}
	if status != api.MatchIgnored {
		t.Fatalf("status = %q, want ignored", status)
	}
	if store.lines[1].MatchedReceiptID != 0 {
		t.Errorf("MatchedReceiptID = %d, want 0 after ignore", store.lines[1].MatchedReceiptID)
	}
}

func TestReconcileData(t *testing.T) {
	r, _ := setup()
	ctx := context.Background()

	views, err := r.ReconcileData(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ReconcileData error: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d views, want 1", len(views))
	}
	if len(views[0].Suggestions) == 0 {
		t.Fatal("unmatched line should carry suggestions")
	}
	for _, s := range views[0].Suggestions {
		if !s.Receipt.Stored() {
			t.Errorf("suggestion %d is not stored", s.Receipt.ID)
		}
	}

	// A matched line carries the receipt instead of suggestions.
	if err := r.Link(ctx, 1, 10, 1); err != nil {
		t.Fatalf("Link error: %v", err)
	}
	views, err = r.ReconcileData(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ReconcileData error: %v", err)
	}
	if views[0].MatchedReceipt == nil || views[0].MatchedReceipt.ID != 10 {
		t.Errorf("MatchedReceipt = %+v, want receipt 10", views[0].MatchedReceipt)
	}
	if len(views[0].Suggestions) != 0 {
		t.Errorf("matched line should not carry suggestions")
	}

	// An ignored line carries neither.
	if _, err := r.ToggleIgnore(ctx, 1, 1); err != nil {
		t.Fatalf("ToggleIgnore error: %v", err)
	}
	views, err = r.ReconcileData(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ReconcileData error: %v", err)
	}
	if views[0].MatchedReceipt != nil || len(views[0].Suggestions) != 0 {
		t.Errorf("ignored line view = %+v, want no receipt and no suggestions", views[0])
	}
}
