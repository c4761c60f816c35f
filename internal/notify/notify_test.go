package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"voxdrop/internal/model"
	"voxdrop/internal/signing"
)

type fakeSender struct {
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ string, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) Method() string { return "fake" }

type fakeClaims struct {
	claimed map[string]bool
	err     error
}

func (f *fakeClaims) MarkNotified(_ context.Context, id, _, _ string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func testDispatcher(sender Sender, claims ClaimStore) *Dispatcher {
	signer := signing.NewSigner([]byte("topsecret"))
	return NewDispatcher(claims, sender, signer, "https://voxdrop.test", 15*time.Minute, testLog())
}

func completedSub() *model.Submission {
	return &model.Submission{
		ID:          "sub-1",
		UserID:      "user-1",
		Destination: "inbox@voxdrop.test",
		Status:      model.StatusCompleted,
	}
}

func TestDispatchTerminal(t *testing.T) {
	sender := &fakeSender{}
	claims := &fakeClaims{}
	d := testDispatcher(sender, claims)

	sub := completedSub()
	d.Dispatch(context.Background(), sub)

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if !sub.Notified {
		t.Fatal("submission not marked notified in memory")
	}
	if !claims.claimed["sub-1"] {
		t.Fatal("notified flag not claimed")
	}
	msg := sender.sent[0]
	if msg.Status != string(model.StatusCompleted) {
		t.Fatalf("message status = %q", msg.Status)
	}
	if !strings.Contains(msg.VerdictURL, "/v/sub-1?expires=") || !strings.Contains(msg.VerdictURL, "&sig=") {
		t.Fatalf("verdict link = %q", msg.VerdictURL)
	}
}

func TestDispatchSkipsNonTerminal(t *testing.T) {
	sender := &fakeSender{}
	d := testDispatcher(sender, &fakeClaims{})

	for _, status := range []model.Status{model.StatusPending, model.StatusInProgress, model.StatusQuarantined} {
		sub := completedSub()
		sub.Status = status
		d.Dispatch(context.Background(), sub)
	}
	d.Dispatch(context.Background(), nil)

	if len(sender.sent) != 0 {
		t.Fatalf("non-terminal statuses produced %d sends", len(sender.sent))
	}
}

func TestDispatchIdempotent(t *testing.T) {
	sender := &fakeSender{}
	claims := &fakeClaims{}
	d := testDispatcher(sender, claims)

	sub := completedSub()
	d.Dispatch(context.Background(), sub)
	d.Dispatch(context.Background(), sub)

	if len(sender.sent) != 1 {
		t.Fatalf("repeated dispatch sent %d messages, want 1", len(sender.sent))
	}
}

func TestDispatchSendFailureLeavesUnclaimed(t *testing.T) {
	sender := &fakeSender{err: errors.New("endpoint down")}
	claims := &fakeClaims{}
	d := testDispatcher(sender, claims)

	sub := completedSub()
	d.Dispatch(context.Background(), sub)

	if sub.Notified {
		t.Fatal("failed send must not mark the record notified")
	}
	if claims.claimed["sub-1"] {
		t.Fatal("failed send must not claim the notified flag")
	}

	// Recovery: the next dispatch after the endpoint returns goes through.
	sender.err = nil
	d.Dispatch(context.Background(), sub)
	if len(sender.sent) != 1 || !sub.Notified {
		t.Fatal("dispatch did not recover after send failure")
	}
}

func TestDispatchRejectionGuidance(t *testing.T) {
	sender := &fakeSender{}
	d := testDispatcher(sender, &fakeClaims{})

	sub := completedSub()
	sub.Status = model.StatusRejected
	sub.RejectionReason = "SPAM_CONTENT"
	d.Dispatch(context.Background(), sub)

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Guidance == "" {
		t.Fatal("rejection message must carry guidance")
	}
	if !strings.Contains(msg.Body, "was not delivered") {
		t.Fatalf("body = %q", msg.Body)
	}
}

func TestDispatchFailedUsesProcessingGuidance(t *testing.T) {
	sender := &fakeSender{}
	d := testDispatcher(sender, &fakeClaims{})

	sub := completedSub()
	sub.Status = model.StatusFailed
	sub.RejectionReason = "PROCESSING_ERROR"
	d.Dispatch(context.Background(), sub)

	if len(sender.sent) != 1 || sender.sent[0].Guidance == "" {
		t.Fatal("failed verdict must carry retry guidance")
	}
}

func TestNewSenderFallsBackToNoop(t *testing.T) {
	s := NewSender("", 0)
	if s.Method() != "noop" {
		t.Fatalf("method = %q, want noop", s.Method())
	}
	if err := s.Send(context.Background(), "user-1", Message{}); err != nil {
		t.Fatal(err)
	}
	if NewSender("https://hooks.test/notify", 0).Method() != "webhook" {
		t.Fatal("configured URL must produce the webhook sender")
	}
}
