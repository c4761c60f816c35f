// Package api exposes the intake and verdict HTTP surface consumed by the
// email/webhook collaborators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"voxdrop/internal/blobstore"
	"voxdrop/internal/config"
	"voxdrop/internal/logging"
	"voxdrop/internal/model"
	"voxdrop/internal/pipeline"
	"voxdrop/internal/queue"
	"voxdrop/internal/rejection"
	"voxdrop/internal/repository"
	"voxdrop/internal/signing"
)

// Server exposes HTTP endpoints for submissions and verdict visibility.
type Server struct {
	cfg      *config.Config
	subs     *repository.SubmissionRepository
	accounts *repository.AccountRepository
	store    *blobstore.Store
	queue    *asynq.Client
	pipe     *pipeline.Pipeline
	signer   *signing.Signer
	log      *logging.Logger
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, subs *repository.SubmissionRepository, accounts *repository.AccountRepository,
	store *blobstore.Store, queueClient *asynq.Client, pipe *pipeline.Pipeline,
	signer *signing.Signer, log *logging.Logger) *Server {
	return &Server{
		cfg:      cfg,
		subs:     subs,
		accounts: accounts,
		store:    store,
		queue:    queueClient,
		pipe:     pipe,
		signer:   signer,
		log:      log,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/submissions", s.handleSubmissions)
		mux.HandleFunc("/submissions/", s.handleSubmissionRoute)
		mux.HandleFunc("/v/", s.handleSignedVerdict)
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: corsMiddleware(s.loggingMiddleware(mux)),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.WithField("address", s.cfg.Address).Info("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmissionRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/submissions/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		s.handleVerdict(w, r, id)
		return
	}
	switch parts[1] {
	case "review":
		s.handleReview(w, r, id)
	case "audio-url":
		s.handleAudioURL(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// verdictResponse is the contract the intake collaborator polls.
type verdictResponse struct {
	ID              string   `json:"id"`
	Status          string   `json:"status"`
	RejectionReason string   `json:"rejectionReason,omitempty"`
	UserGuidance    string   `json:"userGuidance,omitempty"`
	Transcript      string   `json:"transcript,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Notified        bool     `json:"notified"`
}

func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sub, err := s.subs.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "submission not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, buildVerdict(sub))
}

// handleSignedVerdict serves the verdict behind the HMAC link embedded in
// notifications, so recipients of a notification need no session.
func (s *Server) handleSignedVerdict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v/")
	expires := r.URL.Query().Get("expires")
	sig := r.URL.Query().Get("sig")
	if id == "" || !s.signer.Validate(id, expires, sig) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	if exp, err := strconv.ParseInt(expires, 10, 64); err != nil || time.Now().Unix() > exp {
		http.Error(w, "link expired", http.StatusForbidden)
		return
	}
	sub, err := s.subs.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "submission not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, buildVerdict(sub))
}

func buildVerdict(sub *model.Submission) verdictResponse {
	resp := verdictResponse{
		ID:              sub.ID,
		Status:          string(sub.Status),
		RejectionReason: sub.RejectionReason,
		Confidence:      sub.Confidence,
		Notified:        sub.Notified,
	}
	if sub.Status == model.StatusCompleted || sub.Status == model.StatusQuarantineApproved {
		resp.Transcript = sub.Transcript
	}
	if r, ok := rejection.Lookup(rejection.Code(sub.RejectionReason)); ok {
		resp.UserGuidance = r.Guidance
	}
	return resp
}

type reviewRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var approve bool
	switch req.Action {
	case "approve":
		approve = true
	case "reject":
	default:
		http.Error(w, "action must be approve or reject", http.StatusBadRequest)
		return
	}
	sub, err := s.pipe.Resolve(r.Context(), id, approve, rejection.Code(req.Reason))
	if err != nil {
		if errors.Is(err, repository.ErrNotProcessable) {
			http.Error(w, "submission is not awaiting review", http.StatusConflict)
			return
		}
		http.Error(w, "review failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, buildVerdict(sub))
}

func (s *Server) handleAudioURL(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sub, err := s.subs.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "submission not found", http.StatusNotFound)
		return
	}
	url, err := s.store.PresignGet(r.Context(), sub.ObjectKey, s.cfg.SignedURLTTL)
	if err != nil {
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileBytes+4096)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}

	var (
		sender          string
		destination     string
		declaredSeconds float64
		tmp             *tempUpload
	)
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			http.Error(w, "malformed multipart body", http.StatusBadRequest)
			return
		}
		switch part.FormName() {
		case "sender":
			sender = readFormValue(part)
		case "destination":
			destination = readFormValue(part)
		case "durationSeconds":
			declaredSeconds, _ = strconv.ParseFloat(readFormValue(part), 64)
		case "file":
			tmp, err = s.persistTemp(part)
			part.Close()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		default:
			part.Close()
		}
	}
	if tmp != nil {
		defer os.Remove(tmp.path)
		defer tmp.f.Close()
	}

	if sender == "" || destination == "" {
		http.Error(w, "sender and destination are required", http.StatusBadRequest)
		return
	}
	if tmp == nil {
		http.Error(w, "file part is required", http.StatusBadRequest)
		return
	}

	userID, err := s.accounts.ResolveInbox(ctx, destination)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownDestination) {
			http.Error(w, "unknown destination address", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to resolve destination", http.StatusInternalServerError)
		return
	}

	subID := uuid.NewString()
	objectKey := fmt.Sprintf("submissions/%s/%s", subID, sanitizeFilename(tmp.filename))
	if err := s.uploadToStorage(ctx, objectKey, tmp); err != nil {
		s.log.WithError(err).Error("payload upload failed")
		http.Error(w, "failed to store payload", http.StatusInternalServerError)
		return
	}

	sub := &model.Submission{
		ID:              subID,
		UserID:          userID,
		SenderEmail:     sender,
		Destination:     destination,
		FileName:        tmp.filename,
		ContentType:     tmp.contentType,
		SizeBytes:       tmp.size,
		ObjectKey:       objectKey,
		DeclaredSeconds: declaredSeconds,
		ReceivedAt:      time.Now().UTC(),
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}

	payload := queue.ProcessPayload{SubmissionID: subID}
	if err := queue.EnqueueProcess(ctx, s.queue, payload, s.cfg.MaxAttempts); err != nil {
		http.Error(w, "failed to queue processing", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     subID,
		"status": string(model.StatusPending),
	})
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "voxdrop-*.audio")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileBytes {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileBytes)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, errors.New("empty file")
	}
	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(sniff)
	}
	if _, err := tmpFile.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "voice-message.audio"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filename,
	}, nil
}

func (s *Server) uploadToStorage(ctx context.Context, objectKey string, tmp *tempUpload) error {
	if _, err := tmp.f.Seek(0, 0); err != nil {
		return err
	}
	return s.store.Upload(ctx, objectKey, tmp.f, tmp.size, tmp.contentType)
}

func readFormValue(part *multipart.Part) string {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		return "payload"
	}
	return name
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("encode response failed")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithRequest(r).WithField("duration", time.Since(start).String()).Info("request handled")
	})
}
