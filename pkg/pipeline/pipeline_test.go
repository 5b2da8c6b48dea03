package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
	"github.com/danthemanmcgee/Email-Receipts/pkg/extract"
)

const receiptText = "Order from: Acme Corp\nTotal: $29.99\nDate: 2024-03-15\nVisa ending in 4321\n"

// fakeMail serves canned messages and records labels and archive calls.
type fakeMail struct {
	ids         []string
	messages    map[string]*api.Message
	attachments map[string][]byte
	getErr      map[string]error
	labels      map[string][]string
	archived    []string
}

func newFakeMail() *fakeMail {
	return &fakeMail{
		messages:    make(map[string]*api.Message),
		attachments: make(map[string][]byte),
		getErr:      make(map[string]error),
		labels:      make(map[string][]string),
	}
}

func (m *fakeMail) ListNewMessages(context.Context, int64) ([]string, error) {
	return m.ids, nil
}

func (m *fakeMail) GetMessage(_ context.Context, id string) (*api.Message, error) {
	if err := m.getErr[id]; err != nil {
		return nil, err
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	return msg, nil
}

func (m *fakeMail) GetAttachment(_ context.Context, _, attachmentID string) ([]byte, error) {
	data, ok := m.attachments[attachmentID]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return data, nil
}

func (m *fakeMail) ApplyLabel(_ context.Context, messageID, label string) error {
	m.labels[messageID] = append(m.labels[messageID], label)
	return nil
}

func (m *fakeMail) Archive(_ context.Context, messageID string) error {
	m.archived = append(m.archived, messageID)
	return nil
}

// fakeFiles is an in-memory file store with idempotent folder creation and
// name-based file reuse.
type fakeFiles struct {
	files   map[string]string
	uploads int
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: make(map[string]string)}
}

func (f *fakeFiles) EnsureFolder(_ context.Context, path string) (string, error) {
	return "folder:" + path, nil
}

func (f *fakeFiles) FileExists(_ context.Context, folderID, filename string) (string, error) {
	return f.files[folderID+"/"+filename], nil
}

func (f *fakeFiles) UploadFile(_ context.Context, _ []byte, folderID, filename string) (string, error) {
	f.uploads++
	id := fmt.Sprintf("file-%d", f.uploads)
	f.files[folderID+"/"+filename] = id
	return id, nil
}

// fakeReceipts enforces the same uniqueness invariants as the SQL store.
type fakeReceipts struct {
	nextID    int64
	byID      map[int64]api.Receipt
	links     map[string]api.SourceLink
	decisions map[int64][]api.AttachmentDecision
}

func newFakeReceipts() *fakeReceipts {
	return &fakeReceipts{
		byID:      make(map[int64]api.Receipt),
		links:     make(map[string]api.SourceLink),
		decisions: make(map[int64][]api.AttachmentDecision),
	}
}

func (s *fakeReceipts) hashTaken(userID int64, hash string, excludeID int64) bool {
	if hash == "" {
		return false
	}
	for _, r := range s.byID {
		if r.UserID == userID && r.ContentHash == hash && r.ID != excludeID {
			return true
		}
	}
	return false
}

func (s *fakeReceipts) GetBySourceMessageID(_ context.Context, sourceMessageID string) (*api.Receipt, error) {
	for _, r := range s.byID {
		if r.SourceMessageID == sourceMessageID {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeReceipts) GetSourceLink(_ context.Context, sourceMessageID string) (*api.SourceLink, error) {
	if link, ok := s.links[sourceMessageID]; ok {
		cp := link
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeReceipts) CreateReceipt(_ context.Context, r *api.Receipt) error {
	if s.hashTaken(r.UserID, r.ContentHash, 0) {
		return &api.DuplicateContentError{UserID: r.UserID, ContentHash: r.ContentHash}
	}
	s.nextID++
	r.ID = s.nextID
	if r.Status == "" {
		r.Status = api.StatusNew
	}
	s.byID[r.ID] = *r
	return nil
}

func (s *fakeReceipts) UpdateReceipt(_ context.Context, r *api.Receipt) error {
	if _, ok := s.byID[r.ID]; !ok {
		return fmt.Errorf("receipt %d not found", r.ID)
	}
	if s.hashTaken(r.UserID, r.ContentHash, r.ID) {
		return &api.DuplicateContentError{UserID: r.UserID, ContentHash: r.ContentHash}
	}
	s.byID[r.ID] = *r
	return nil
}

func (s *fakeReceipts) FindByContentHash(_ context.Context, userID int64, hash string, excludeID int64) (*api.Receipt, error) {
	if hash == "" {
		return nil, nil
	}
	for _, r := range s.byID {
		if r.UserID == userID && r.ContentHash == hash && r.ID != excludeID {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeReceipts) AdoptDuplicate(_ context.Context, placeholderID, canonicalID int64, sourceMessageID string, userID int64) error {
	delete(s.byID, placeholderID)
	s.links[sourceMessageID] = api.SourceLink{
		ReceiptID:       canonicalID,
		SourceMessageID: sourceMessageID,
		UserID:          userID,
	}
	return nil
}

func (s *fakeReceipts) LogAttachmentDecisions(_ context.Context, receiptID int64, decisions []api.AttachmentDecision) error {
	s.decisions[receiptID] = append(s.decisions[receiptID], decisions...)
	return nil
}

func (s *fakeReceipts) ListStored(_ context.Context, userID int64) ([]api.Receipt, error) {
	var out []api.Receipt
	for _, r := range s.byID {
		if r.UserID == userID && r.Stored() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeReceipts) DeleteOlderThan(_ context.Context, status api.ReceiptStatus, cutoff time.Time) (int64, error) {
	var n int64
	for id, r := range s.byID {
		if r.Status == status && r.UpdatedAt.Before(cutoff) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

type fakeCardStore struct {
	cards   []api.PhysicalCard
	aliases []api.CardAlias
}

func (s *fakeCardStore) ListCards(_ context.Context, userID int64) ([]api.PhysicalCard, error) {
	var out []api.PhysicalCard
	for _, c := range s.cards {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCardStore) ListAliases(context.Context, int64) ([]api.CardAlias, error) {
	return s.aliases, nil
}

func (s *fakeCardStore) GetCard(_ context.Context, cardID, userID int64) (*api.PhysicalCard, error) {
	for i := range s.cards {
		if s.cards[i].ID == cardID && s.cards[i].UserID == userID {
			return &s.cards[i], nil
		}
	}
	return nil, nil
}

type fakeRunner struct {
	out string
	err error
}

func (f fakeRunner) Run(context.Context, string, ...string) ([]byte, []byte, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return []byte(f.out), nil, nil
}

type env struct {
	proc     *Processor
	mail     *fakeMail
	files    *fakeFiles
	receipts *fakeReceipts
}

func newEnv(cfg Config) *env {
	if cfg.UserID == 0 {
		cfg.UserID = 1
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.75
	}
	if cfg.RootFolder == "" {
		cfg.RootFolder = "Receipts"
	}

	mail := newFakeMail()
	files := newFakeFiles()
	receipts := newFakeReceipts()
	cardStore := &fakeCardStore{
		cards: []api.PhysicalCard{
			{ID: 7, UserID: 1, DisplayName: "Chase Sapphire", Last4: "4321"},
		},
	}
	pdf := extract.NewPDFExtractor("", nil).WithRunner(fakeRunner{out: receiptText})

	return &env{
		proc:     New(cfg, mail, files, receipts, cardStore, pdf, nil),
		mail:     mail,
		files:    files,
		receipts: receipts,
	}
}

func addReceiptMessage(mail *fakeMail, id string) {
	mail.ids = append(mail.ids, id)
	mail.messages[id] = &api.Message{
		ID:         id,
		Subject:    "Your Acme receipt",
		Sender:     "Acme <receipts@acme.com>",
		ReceivedAt: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
		BodyText:   "see attached",
		Attachments: []api.AttachmentRef{
			{Filename: "receipt.pdf", AttachmentID: "att-" + id, Size: 1024},
		},
	}
	mail.attachments["att-"+id] = []byte("%PDF-1.4 content for " + id)
}

func TestProcessMessageEndToEnd(t *testing.T) {
	e := newEnv(Config{})
	addReceiptMessage(e.mail, "msg1")
	ctx := context.Background()

	out := e.proc.ProcessMessage(ctx, "msg1")
	if out.Err != nil {
		t.Fatalf("ProcessMessage error: %v", out.Err)
	}
	if out.Status != OutcomeProcessed {
		t.Fatalf("status = %q, want processed", out.Status)
	}

	r := e.receipts.byID[out.ReceiptID]
	if r.Status != api.StatusProcessed {
		t.Errorf("receipt status = %q", r.Status)
	}
	if r.Merchant != "Acme Corp" || r.Amount == nil || *r.Amount != 29.99 {
		t.Errorf("extracted fields = merchant %q amount %v", r.Merchant, r.Amount)
	}
	if r.PhysicalCardID != 7 {
		t.Errorf("PhysicalCardID = %d, want 7", r.PhysicalCardID)
	}
	if r.ContentHash == "" || !r.Stored() {
		t.Errorf("receipt not hashed/stored: hash %q drive %q", r.ContentHash, r.DriveFileID)
	}
	wantPath := "Receipts/Chase_Sapphire/2024/2024-03/2024-03-15_Acme_Corp_29.99_USD_msg1.pdf"
	if r.DrivePath != wantPath {
		t.Errorf("DrivePath = %q, want %q", r.DrivePath, wantPath)
	}
	if r.ProcessedAt.IsZero() {
		t.Error("ProcessedAt not set")
	}

	if got := e.mail.labels["msg1"]; len(got) != 1 || got[0] != LabelProcessed {
		t.Errorf("labels = %v, want [%s]", got, LabelProcessed)
	}
	if len(e.mail.archived) != 1 || e.mail.archived[0] != "msg1" {
		t.Errorf("archived = %v", e.mail.archived)
	}
	if len(e.receipts.decisions[out.ReceiptID]) != 1 {
		t.Errorf("decisions = %+v, want one audit row", e.receipts.decisions[out.ReceiptID])
	}
}

func TestProcessMessageIsIdempotent(t *testing.T) {
	e := newEnv(Config{})
	addReceiptMessage(e.mail, "msg1")
	ctx := context.Background()

	first := e.proc.ProcessMessage(ctx, "msg1")
	if first.Status != OutcomeProcessed {
		t.Fatalf("first = %q", first.Status)
	}

	second := e.proc.ProcessMessage(ctx, "msg1")
	if second.Status != OutcomeSkipped || second.ReceiptID != first.ReceiptID {
		t.Fatalf("second = %+v, want skipped for receipt %d", second, first.ReceiptID)
	}
	if e.files.uploads != 1 {
		t.Errorf("uploads = %d, want 1", e.files.uploads)
	}
}

func TestDuplicateContentAdoptsCanonical(t *testing.T) {
	e := newEnv(Config{})
	addReceiptMessage(e.mail, "msg1")

	// Same attachment bytes under a different message id.
	addReceiptMessage(e.mail, "msg2")
	e.mail.attachments["att-msg2"] = e.mail.attachments["att-msg1"]

	ctx := context.Background()
	first := e.proc.ProcessMessage(ctx, "msg1")
	if first.Status != OutcomeProcessed {
		t.Fatalf("first = %+v", first)
	}

	second := e.proc.ProcessMessage(ctx, "msg2")
	if second.Status != OutcomeDuplicate {
		t.Fatalf("second = %+v, want duplicate", second)
	}
	if second.ReceiptID != first.ReceiptID {
		t.Errorf("canonical id = %d, want %d", second.ReceiptID, first.ReceiptID)
	}
	if e.files.uploads != 1 {
		t.Errorf("uploads = %d, want 1 (no re-upload for duplicate)", e.files.uploads)
	}
	// One receipt total, the placeholder is gone.
	if len(e.receipts.byID) != 1 {
		t.Errorf("receipts = %d, want 1", len(e.receipts.byID))
	}
	link, _ := e.receipts.GetSourceLink(ctx, "msg2")
	if link == nil || link.ReceiptID != first.ReceiptID {
		t.Errorf("link = %+v, want canonical %d", link, first.ReceiptID)
	}

	// Reprocessing the duplicate message is a no-op via the link.
	third := e.proc.ProcessMessage(ctx, "msg2")
	if third.Status != OutcomeSkipped {
		t.Errorf("third = %+v, want skipped", third)
	}
}

func TestBodyOnlyMessageNeedsReview(t *testing.T) {
	e := newEnv(Config{})
	e.mail.ids = []string{"msg1"}
	e.mail.messages["msg1"] = &api.Message{
		ID:       "msg1",
		Sender:   "shop@example.com",
		BodyText: "Thanks! Total: $12.50",
	}

	out := e.proc.ProcessMessage(context.Background(), "msg1")
	if out.Status != OutcomeNeedsReview {
		t.Fatalf("status = %q, want needs_review", out.Status)
	}
	r := e.receipts.byID[out.ReceiptID]
	if r.Status != api.StatusNeedsReview {
		t.Errorf("receipt status = %q", r.Status)
	}
	if r.Amount == nil || *r.Amount != 12.50 {
		t.Errorf("amount = %v, want 12.50", r.Amount)
	}
	if r.SourceType != extract.SourceEmailBody {
		t.Errorf("source type = %q", r.SourceType)
	}
	if r.ContentHash != "" || r.Stored() {
		t.Errorf("body-only receipt must not be hashed or stored: %+v", r)
	}
	if got := e.mail.labels["msg1"]; len(got) != 1 || got[0] != LabelNeedsReview {
		t.Errorf("labels = %v", got)
	}
	if len(e.mail.archived) != 0 {
		t.Errorf("archived = %v, want none", e.mail.archived)
	}
}

func TestSenderAllowlist(t *testing.T) {
	e := newEnv(Config{AllowedSenders: []string{"receipts@acme.com"}})
	addReceiptMessage(e.mail, "msg1")

	e.mail.ids = append(e.mail.ids, "msg2")
	e.mail.messages["msg2"] = &api.Message{
		ID:       "msg2",
		Sender:   "Spam <noise@other.com>",
		BodyText: "Total: $1.00",
	}

	ctx := context.Background()
	if out := e.proc.ProcessMessage(ctx, "msg1"); out.Status != OutcomeProcessed {
		t.Fatalf("allowed sender = %+v", out)
	}
	out := e.proc.ProcessMessage(ctx, "msg2")
	if out.Status != OutcomeSkippedSender {
		t.Fatalf("blocked sender = %+v, want skipped_sender", out)
	}
	if out.ReceiptID != 0 {
		t.Errorf("no receipt should be created for blocked sender, got %d", out.ReceiptID)
	}
}

func TestFetchFailureMarksFailed(t *testing.T) {
	e := newEnv(Config{})
	e.mail.ids = []string{"msg1"}
	e.mail.getErr["msg1"] = errors.New("backend unavailable")

	out := e.proc.ProcessMessage(context.Background(), "msg1")
	if out.Status != OutcomeFailed || out.Err == nil {
		t.Fatalf("out = %+v, want failed with error", out)
	}
	r := e.receipts.byID[out.ReceiptID]
	if r.Status != api.StatusFailed {
		t.Errorf("receipt status = %q", r.Status)
	}
	if r.ExtractionNotes == "" {
		t.Error("failure note not recorded")
	}

	// Failed receipts are reprocessable: a later attempt succeeds.
	delete(e.mail.getErr, "msg1")
	addReceiptMessage(e.mail, "msg1")
	retry := e.proc.ProcessMessage(context.Background(), "msg1")
	if retry.Status != OutcomeProcessed {
		t.Fatalf("retry = %+v, want processed", retry)
	}
	if retry.ReceiptID != out.ReceiptID {
		t.Errorf("retry receipt = %d, want reused %d", retry.ReceiptID, out.ReceiptID)
	}
}

func TestSyncOnceContinuesPastFailures(t *testing.T) {
	e := newEnv(Config{})
	e.mail.ids = []string{"bad"}
	e.mail.getErr["bad"] = errors.New("boom")
	addReceiptMessage(e.mail, "good")

	outcomes, err := e.proc.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("SyncOnce error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	if outcomes[0].Status != OutcomeFailed {
		t.Errorf("outcomes[0] = %+v", outcomes[0])
	}
	if outcomes[1].Status != OutcomeProcessed {
		t.Errorf("outcomes[1] = %+v", outcomes[1])
	}
}

func TestOversizedAttachmentFallsBackToBody(t *testing.T) {
	e := newEnv(Config{MaxAttachmentSize: 100})
	e.mail.ids = []string{"msg1"}
	e.mail.messages["msg1"] = &api.Message{
		ID:       "msg1",
		Sender:   "shop@example.com",
		BodyText: "Total: $5.00",
		Attachments: []api.AttachmentRef{
			{Filename: "receipt.pdf", AttachmentID: "att-big", Size: 500},
		},
	}

	out := e.proc.ProcessMessage(context.Background(), "msg1")
	if out.Status != OutcomeNeedsReview {
		t.Fatalf("status = %q, want needs_review", out.Status)
	}
	r := e.receipts.byID[out.ReceiptID]
	if r.SourceType != extract.SourceEmailBody {
		t.Errorf("source type = %q, want body fallback", r.SourceType)
	}
	decs := e.receipts.decisions[out.ReceiptID]
	if len(decs) != 1 || decs[0].Decision != "skipped_too_large" {
		t.Errorf("decisions = %+v", decs)
	}
}
