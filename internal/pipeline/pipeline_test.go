package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"voxdrop/internal/analysis"
	"voxdrop/internal/decision"
	"voxdrop/internal/eligibility"
	"voxdrop/internal/fingerprint"
	"voxdrop/internal/model"
	"voxdrop/internal/rejection"
	"voxdrop/internal/repository"
)

// --- in-memory collaborators ---

type memStore struct {
	mu   sync.Mutex
	subs map[string]*model.Submission
}

func newMemStore(subs ...*model.Submission) *memStore {
	m := &memStore{subs: map[string]*model.Submission{}}
	for _, s := range subs {
		cp := *s
		m.subs[s.ID] = &cp
	}
	return m
}

func (m *memStore) snapshot(id string) (*model.Submission, error) {
	sub, ok := m.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) Get(_ context.Context, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(id)
}

func (m *memStore) BeginAttempt(_ context.Context, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if sub.Status != model.StatusPending && sub.Status != model.StatusInProgress {
		return nil, repository.ErrNotProcessable
	}
	sub.Status = model.StatusInProgress
	sub.Attempts++
	return m.snapshot(id)
}

func (m *memStore) RecordAnalysis(_ context.Context, id string, confidence float64, models []string, transcript string, usedAdvanced bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	sub.Confidence = &confidence
	sub.ModelsUsed = models
	sub.Transcript = transcript
	sub.UsedAdvancedAI = usedAdvanced
	return nil
}

func (m *memStore) SetFingerprint(_ context.Context, id, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	sub.Fingerprint = fp
	return nil
}

func (m *memStore) Finalize(_ context.Context, id string, status model.Status, reason string, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if sub.Status != model.StatusInProgress {
		return repository.ErrNotProcessable
	}
	sub.Status = status
	sub.RejectionReason = reason
	sub.ProcessingCost = cost
	now := time.Now()
	sub.ProcessedAt = &now
	return nil
}

func (m *memStore) MarkRetryPending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	sub.Status = model.StatusPending
	return nil
}

func (m *memStore) ResolveQuarantine(_ context.Context, id string, to model.Status, reason string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next, err := model.Transition(sub.Status, to)
	if err != nil {
		return nil, err
	}
	sub.Status = next
	sub.RejectionReason = reason
	return m.snapshot(id)
}

func (m *memStore) status(t *testing.T, id string) *model.Submission {
	t.Helper()
	sub, err := m.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

type fakeGate struct {
	result eligibility.Result
	err    error
}

func (f *fakeGate) Check(context.Context, string, string) (eligibility.Result, error) {
	return f.result, f.err
}

type fakeCharger struct {
	mu    sync.Mutex
	used  int
	max   int
	calls int
}

func (f *fakeCharger) TryIncrementUsage(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.max >= 0 && f.used >= f.max {
		return false, nil
	}
	f.used++
	return true, nil
}

// fakeInspector keeps recorded digests per sender and reports exact matches
// the way the real engine does, without the similarity window.
type fakeInspector struct {
	mu       sync.Mutex
	recorded map[string]map[string]string // sender -> digest -> submission id
	err      error
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{recorded: map[string]map[string]string{}}
}

func (f *fakeInspector) Inspect(_ context.Context, sender string, payload []byte, selfID string) (fingerprint.Findings, error) {
	if f.err != nil {
		return fingerprint.Findings{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	findings := fingerprint.Findings{
		Digest:  fingerprint.Digest(payload),
		Simhash: fingerprint.Simhash(payload),
	}
	if id, ok := f.recorded[sender][findings.Digest]; ok && id != selfID {
		findings.Exact = []string{id}
	}
	return findings, nil
}

func (f *fakeInspector) Record(_ context.Context, sender string, findings fingerprint.Findings, selfID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded[sender] == nil {
		f.recorded[sender] = map[string]string{}
	}
	f.recorded[sender][findings.Digest] = selfID
	return nil
}

type fakeAnalyzer struct {
	mu           sync.Mutex
	result       analysis.Result
	usedAdvanced bool
	err          error
	calls        int
}

func (f *fakeAnalyzer) Analyze(context.Context, analysis.Payload, model.Tier) (analysis.Result, bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return analysis.Result{}, false, f.err
	}
	return f.result, f.usedAdvanced, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []repository.LedgerEntry
}

func (f *fakeLedger) Append(_ context.Context, entry repository.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedger) all() []repository.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.LedgerEntry{}, f.entries...)
}

type fakeBlob struct {
	objects map[string][]byte
	fetches int
}

func (f *fakeBlob) Fetch(_ context.Context, key string) ([]byte, error) {
	f.fetches++
	payload, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return payload, nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	dispatched []model.Status
}

func (f *fakeNotifier) Dispatch(_ context.Context, sub *model.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, sub.Status)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

// --- fixtures ---

type fixture struct {
	store    *memStore
	gate     *fakeGate
	charger  *fakeCharger
	inspect  *fakeInspector
	analyzer *fakeAnalyzer
	ledger   *fakeLedger
	blob     *fakeBlob
	notifier *fakeNotifier
	pipe     *Pipeline
}

func wavPayload(filler byte) []byte {
	payload := append([]byte("RIFF\x24\x08\x00\x00WAVE"), bytes.Repeat([]byte{filler}, 4<<10)...)
	return payload
}

func testSubmission(id string) *model.Submission {
	return &model.Submission{
		ID:              id,
		UserID:          "user-1",
		SenderEmail:     "sender@example.com",
		Destination:     "inbox@voxdrop.test",
		FileName:        "message.wav",
		ContentType:     "audio/wav",
		ObjectKey:       "audio/" + id,
		DeclaredSeconds: 30,
		Status:          model.StatusPending,
		ReceivedAt:      time.Now(),
	}
}

func basicEligibility() eligibility.Result {
	return eligibility.Result{
		Allowed: true,
		Usage: model.Usage{
			Tier:         model.TierBasic,
			Status:       model.SubscriptionActive,
			CurrentUsage: 50,
			MaxUsage:     100,
		},
	}
}

func newFixture(subs ...*model.Submission) *fixture {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	f := &fixture{
		store:   newMemStore(subs...),
		gate:    &fakeGate{result: basicEligibility()},
		charger: &fakeCharger{used: 50, max: 100},
		inspect: newFakeInspector(),
		analyzer: &fakeAnalyzer{result: analysis.Result{
			Confidence: 0.92,
			Transcript: "hi, the package arrived this morning",
			Signals:    analysis.Signals{Seconds: 30, Language: "en"},
			ModelsUsed: []string{"standard-transcribe"},
			Cost:       0.003,
		}},
		ledger:   &fakeLedger{},
		blob:     &fakeBlob{objects: map[string][]byte{}},
		notifier: &fakeNotifier{},
	}
	for _, sub := range subs {
		f.blob.objects[sub.ObjectKey] = wavPayload(byte(len(sub.ID)))
	}
	opts := Options{
		Limits: decision.Limits{
			MinBytes:     1 << 10,
			MaxBytes:     50 << 20,
			MinSeconds:   2,
			MaxSeconds:   600,
			AllowedTypes: []string{"audio/wav", "audio/mpeg", "audio/ogg"},
		},
		Thresholds: decision.Thresholds{
			Accept:          0.75,
			Reject:          0.40,
			Spam:            0.70,
			Gibberish:       0.70,
			Synthetic:       0.80,
			Inappropriate:   0.70,
			MinSeconds:      2,
			MaxSeconds:      600,
			RepeatedPerHour: 3,
			BulkPerHour:     10,
		},
		MaxAttempts: 3,
	}
	f.pipe = New(f.store, f.gate, f.charger, f.inspect, f.analyzer, f.ledger,
		f.blob, f.notifier, opts, logrus.NewEntry(log))
	return f
}

// --- tests ---

func TestProcessCompletes(t *testing.T) {
	f := newFixture(testSubmission("sub-1"))

	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}

	sub := f.store.status(t, "sub-1")
	if sub.Status != model.StatusCompleted {
		t.Fatalf("status = %s (%s)", sub.Status, sub.RejectionReason)
	}
	if sub.Attempts != 1 {
		t.Fatalf("attempts = %d", sub.Attempts)
	}
	if sub.UsedAdvancedAI {
		t.Fatal("basic tier must not report advanced AI")
	}
	if sub.Confidence == nil || *sub.Confidence != 0.92 {
		t.Fatalf("confidence = %v", sub.Confidence)
	}
	if sub.ProcessingCost != 0.003 {
		t.Fatalf("cost = %v", sub.ProcessingCost)
	}
	if sub.Fingerprint == "" {
		t.Fatal("fingerprint not persisted")
	}
	if f.charger.used != 51 {
		t.Fatalf("usage = %d, want 51", f.charger.used)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("notifications = %d", f.notifier.count())
	}

	entries := f.ledger.all()
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d", len(entries))
	}
	e := entries[0]
	if e.PrevStatus != string(model.StatusPending) || e.NewStatus != string(model.StatusCompleted) {
		t.Fatalf("ledger edge = %s -> %s", e.PrevStatus, e.NewStatus)
	}
	if e.Confidence == nil || e.Cost != 0.003 {
		t.Fatalf("ledger entry = %+v", e)
	}
}

func TestProcessRejectsShortAudioWithoutAnalysis(t *testing.T) {
	sub := testSubmission("sub-1")
	sub.DeclaredSeconds = 1
	f := newFixture(sub)

	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}

	got := f.store.status(t, "sub-1")
	if got.Status != model.StatusRejected || got.RejectionReason != string(rejection.AudioTooShort) {
		t.Fatalf("verdict = %s (%s)", got.Status, got.RejectionReason)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d", got.Attempts)
	}
	if f.analyzer.callCount() != 0 {
		t.Fatal("analysis ran for a payload rejected by validation")
	}
	if f.charger.calls != 0 {
		t.Fatal("rejection must not touch the usage counter")
	}
	if f.notifier.count() != 1 {
		t.Fatal("rejection must notify the sender")
	}
}

func TestProcessEligibilityVetoSkipsPayload(t *testing.T) {
	f := newFixture(testSubmission("sub-1"))
	f.gate.result = eligibility.Result{Reason: rejection.SubscriptionExpired}

	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}

	got := f.store.status(t, "sub-1")
	if got.Status != model.StatusRejected || got.RejectionReason != string(rejection.SubscriptionExpired) {
		t.Fatalf("verdict = %s (%s)", got.Status, got.RejectionReason)
	}
	if f.blob.fetches != 0 {
		t.Fatal("eligibility veto must not fetch the payload")
	}
	if f.analyzer.callCount() != 0 {
		t.Fatal("eligibility veto must not run analysis")
	}
}

func TestProcessExactDuplicate(t *testing.T) {
	first := testSubmission("sub-1")
	second := testSubmission("sub-2")
	f := newFixture(first, second)
	// Same sender, same bytes.
	f.blob.objects[second.ObjectKey] = f.blob.objects[first.ObjectKey]

	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}
	if err := f.pipe.Process(context.Background(), "sub-2"); err != nil {
		t.Fatal(err)
	}

	if got := f.store.status(t, "sub-1"); got.Status != model.StatusCompleted {
		t.Fatalf("first submission = %s", got.Status)
	}
	got := f.store.status(t, "sub-2")
	if got.Status != model.StatusRejected || got.RejectionReason != string(rejection.ExactDuplicate) {
		t.Fatalf("second submission = %s (%s)", got.Status, got.RejectionReason)
	}
	if f.analyzer.callCount() != 1 {
		t.Fatalf("analysis calls = %d, want 1", f.analyzer.callCount())
	}
	if f.charger.used != 51 {
		t.Fatalf("usage = %d, duplicate must not charge", f.charger.used)
	}
}

func TestProcessRetriesThenFails(t *testing.T) {
	f := newFixture(testSubmission("sub-1"))
	f.analyzer.err = analysis.ErrUnavailable

	for attempt := 1; attempt <= 2; attempt++ {
		err := f.pipe.Process(context.Background(), "sub-1")
		if !errors.Is(err, ErrRetry) {
			t.Fatalf("attempt %d: err = %v, want ErrRetry", attempt, err)
		}
		if got := f.store.status(t, "sub-1"); got.Status != model.StatusPending {
			t.Fatalf("attempt %d: status = %s, want pending for redelivery", attempt, got.Status)
		}
	}

	// Final attempt hits the cap and settles as failed instead of retrying.
	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	got := f.store.status(t, "sub-1")
	if got.Status != model.StatusFailed || got.RejectionReason != string(rejection.ProcessingError) {
		t.Fatalf("verdict = %s (%s)", got.Status, got.RejectionReason)
	}
	if got.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", got.Attempts)
	}
	if f.analyzer.callCount() != 3 {
		t.Fatalf("analysis calls = %d, want 3", f.analyzer.callCount())
	}
	if f.notifier.count() != 1 {
		t.Fatalf("notifications = %d, only the terminal verdict notifies", f.notifier.count())
	}
	// Two retry entries plus the terminal one.
	if entries := f.ledger.all(); len(entries) != 3 {
		t.Fatalf("ledger entries = %d, want 3", len(entries))
	}
}

func TestProcessPermanentAnalysisFailureRejects(t *testing.T) {
	f := newFixture(testSubmission("sub-1"))
	f.analyzer.err = errors.New("payload rejected by provider")

	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}
	got := f.store.status(t, "sub-1")
	if got.Status != model.StatusRejected || got.RejectionReason != string(rejection.TechnicalError) {
		t.Fatalf("verdict = %s (%s)", got.Status, got.RejectionReason)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, permanent failures must not retry", got.Attempts)
	}
}

func TestProcessSettledIsNoOp(t *testing.T) {
	sub := testSubmission("sub-1")
	sub.Status = model.StatusCompleted
	f := newFixture(sub)

	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}
	if f.analyzer.callCount() != 0 || f.blob.fetches != 0 {
		t.Fatal("settled record triggered processing")
	}
	if len(f.ledger.all()) != 0 {
		t.Fatal("settled record produced a ledger entry")
	}
	if f.notifier.count() != 0 {
		t.Fatal("settled record produced a notification")
	}
	if got := f.store.status(t, "sub-1"); got.Attempts != 0 {
		t.Fatalf("attempts = %d, settled record must stay untouched", got.Attempts)
	}
}

func TestProcessUnknownSubmissionDropsTask(t *testing.T) {
	f := newFixture()
	if err := f.pipe.Process(context.Background(), "ghost"); err != nil {
		t.Fatalf("unknown submission must not error: %v", err)
	}
}

func TestProcessQuotaRaceDemotesVerdict(t *testing.T) {
	f := newFixture(testSubmission("sub-1"))
	// The gate snapshot said a slot was free, but the counter is already full
	// by the time the completion is finalized.
	f.charger.used = 100

	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}
	got := f.store.status(t, "sub-1")
	if got.Status != model.StatusRejected || got.RejectionReason != string(rejection.UsageLimitExceeded) {
		t.Fatalf("verdict = %s (%s)", got.Status, got.RejectionReason)
	}
	if f.charger.used != 100 {
		t.Fatalf("usage = %d, lost race must not charge", f.charger.used)
	}
}

func TestProcessQuarantineAndResolve(t *testing.T) {
	f := newFixture(testSubmission("sub-1"))
	f.analyzer.result.Confidence = 0.55

	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}
	got := f.store.status(t, "sub-1")
	if got.Status != model.StatusQuarantined {
		t.Fatalf("status = %s, want quarantined", got.Status)
	}
	if f.notifier.count() != 0 {
		t.Fatal("quarantine is not terminal and must not notify")
	}
	if f.charger.calls != 0 {
		t.Fatal("quarantine must not charge the quota")
	}

	// A redelivered task for the quarantined record is a no-op.
	if err := f.pipe.Process(context.Background(), "sub-1"); err != nil {
		t.Fatal(err)
	}
	if f.analyzer.callCount() != 1 {
		t.Fatal("quarantined record was re-analyzed")
	}

	sub, err := f.pipe.Resolve(context.Background(), "sub-1", true, "")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != model.StatusQuarantineApproved {
		t.Fatalf("resolved status = %s", sub.Status)
	}
	if f.notifier.count() != 1 {
		t.Fatal("approval must notify the sender")
	}
	if f.charger.calls != 0 {
		t.Fatal("review approval must not charge the quota")
	}
}

func TestResolveReject(t *testing.T) {
	sub := testSubmission("sub-1")
	sub.Status = model.StatusQuarantined
	f := newFixture(sub)

	got, err := f.pipe.Resolve(context.Background(), "sub-1", false, rejection.Harassment)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusQuarantineRejected || got.RejectionReason != string(rejection.Harassment) {
		t.Fatalf("resolved = %s (%s)", got.Status, got.RejectionReason)
	}

	if _, err := f.pipe.Resolve(context.Background(), "sub-1", false, "BOGUS_REASON"); err == nil {
		t.Fatal("unknown reason code must be rejected")
	}
}

func TestResolveNonQuarantined(t *testing.T) {
	sub := testSubmission("sub-1")
	sub.Status = model.StatusCompleted
	f := newFixture(sub)
	if _, err := f.pipe.Resolve(context.Background(), "sub-1", true, ""); err == nil {
		t.Fatal("resolving a non-quarantined record must fail")
	}
}

func TestQuotaMonotonicUnderConcurrency(t *testing.T) {
	const slots = 5
	const senders = 20

	var subs []*model.Submission
	for i := 0; i < senders; i++ {
		sub := testSubmission(fmt.Sprintf("sub-%02d", i))
		// Distinct senders and payloads so duplicate detection stays out of
		// the way.
		sub.SenderEmail = fmt.Sprintf("sender-%02d@example.com", i)
		subs = append(subs, sub)
	}
	f := newFixture(subs...)
	for i, sub := range subs {
		f.blob.objects[sub.ObjectKey] = wavPayload(byte(i))
	}
	f.charger.used = 0
	f.charger.max = slots

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := f.pipe.Process(context.Background(), id); err != nil {
				t.Errorf("process %s: %v", id, err)
			}
		}(sub.ID)
	}
	wg.Wait()

	var completed, demoted int
	for _, sub := range subs {
		got := f.store.status(t, sub.ID)
		switch {
		case got.Status == model.StatusCompleted:
			completed++
		case got.RejectionReason == string(rejection.UsageLimitExceeded):
			demoted++
		default:
			t.Errorf("%s: unexpected verdict %s (%s)", sub.ID, got.Status, got.RejectionReason)
		}
	}
	if completed != slots {
		t.Fatalf("completed = %d, want exactly %d", completed, slots)
	}
	if f.charger.used != slots {
		t.Fatalf("usage = %d, want %d", f.charger.used, slots)
	}
	if demoted != senders-slots {
		t.Fatalf("demoted = %d, want %d", demoted, senders-slots)
	}
}
