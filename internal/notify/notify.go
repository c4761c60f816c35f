// Package notify decides whether and how to tell the sender about a verdict
// and hands off to the external messaging collaborator. Dispatch is at most
// once per verdict: the notified flag is checked before sending and claimed
// only after the collaborator confirms.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voxdrop/internal/model"
	"voxdrop/internal/rejection"
	"voxdrop/internal/signing"
)

// Sender is the external messaging collaborator.
type Sender interface {
	Send(ctx context.Context, userID string, msg Message) error
	Method() string
}

// Message is the normalized notification payload.
type Message struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Status     string `json:"status"`
	Guidance   string `json:"guidance,omitempty"`
	VerdictURL string `json:"verdictUrl,omitempty"`
}

// ClaimStore flips the notified flag exactly once per record.
type ClaimStore interface {
	MarkNotified(ctx context.Context, id, method, details string) (bool, error)
}

// Dispatcher builds and sends verdict notifications.
type Dispatcher struct {
	subs    ClaimStore
	sender  Sender
	signer  *signing.Signer
	baseURL string
	linkTTL time.Duration
	log     *logrus.Entry
}

// NewDispatcher constructs a dispatcher. The signer produces the signed
// verdict link embedded in the message.
func NewDispatcher(subs ClaimStore, sender Sender, signer *signing.Signer, baseURL string, linkTTL time.Duration, log *logrus.Entry) *Dispatcher {
	if linkTTL <= 0 {
		linkTTL = 15 * time.Minute
	}
	return &Dispatcher{
		subs:    subs,
		sender:  sender,
		signer:  signer,
		baseURL: baseURL,
		linkTTL: linkTTL,
		log:     log,
	}
}

// Dispatch notifies the record's owner about a terminal verdict. Failures
// are logged best-effort; a verdict is never rolled back because its
// notification could not be delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, sub *model.Submission) {
	if sub == nil || !model.IsTerminal(sub.Status) {
		return
	}
	if sub.Notified {
		return
	}

	msg := d.buildMessage(sub)
	log := d.log.WithFields(logrus.Fields{"submission": sub.ID, "status": sub.Status})
	if err := d.sender.Send(ctx, sub.UserID, msg); err != nil {
		log.WithError(err).Warn("notification send failed")
		return
	}

	claimed, err := d.subs.MarkNotified(ctx, sub.ID, d.sender.Method(), msg.Body)
	if err != nil {
		log.WithError(err).Error("could not record notification")
		return
	}
	if !claimed {
		log.Debug("notification already recorded by another dispatcher")
		return
	}
	sub.Notified = true
	log.Info("verdict notification dispatched")
}

func (d *Dispatcher) buildMessage(sub *model.Submission) Message {
	msg := Message{Status: string(sub.Status)}
	switch sub.Status {
	case model.StatusCompleted, model.StatusQuarantineApproved:
		msg.Title = "Voice message delivered"
		msg.Body = fmt.Sprintf("Your voice message to %s was delivered.", sub.Destination)
	case model.StatusFailed:
		msg.Title = "Voice message could not be processed"
		msg.Body = fmt.Sprintf("We could not process your voice message to %s.", sub.Destination)
		if r, ok := rejection.Lookup(rejection.ProcessingError); ok {
			msg.Guidance = r.Guidance
		}
	default:
		msg.Title = "Voice message not delivered"
		msg.Body = fmt.Sprintf("Your voice message to %s was not delivered.", sub.Destination)
		if r, ok := rejection.Lookup(rejection.Code(sub.RejectionReason)); ok {
			msg.Guidance = r.Guidance
		}
	}
	if d.signer != nil && d.baseURL != "" {
		expires := time.Now().Add(d.linkTTL).Unix()
		sig := d.signer.Sign(sub.ID, expires)
		msg.VerdictURL = fmt.Sprintf("%s/v/%s?expires=%d&sig=%s", d.baseURL, sub.ID, expires, sig)
	}
	return msg
}

// NewSender returns the webhook sender when a URL is configured and a noop
// sender otherwise, so callers never branch on configuration.
func NewSender(webhookURL string, timeout time.Duration) Sender {
	if webhookURL == "" {
		return noopSender{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookSender{
		endpoint: webhookURL,
		client:   &http.Client{Timeout: timeout},
	}
}

type noopSender struct{}

func (noopSender) Send(context.Context, string, Message) error { return nil }
func (noopSender) Method() string                              { return "noop" }

type webhookSender struct {
	endpoint string
	client   *http.Client
}

func (s *webhookSender) Method() string { return "webhook" }

func (s *webhookSender) Send(ctx context.Context, userID string, msg Message) error {
	body, err := json.Marshal(struct {
		UserID string `json:"userId"`
		Message
	}{UserID: userID, Message: msg})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
