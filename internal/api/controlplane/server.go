package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/agentstream/internal/api/respond"
	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/server"
)

const (
	// DefaultConversationName names conversations created without a message.
	DefaultConversationName = "New Conversation"

	defaultPerPage = 20
	maxPerPage     = 100

	defaultMaxUploadBytes = 32 << 20
)

// Store is the persistence the control plane reads and writes.
type Store interface {
	ports.ConversationStore
	ports.MessageStore
	ports.FileStore
	ports.RunEventStore
}

type Options struct {
	Store Store
	// FilesDir receives uploaded file contents.
	FilesDir       string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	store     Store
	filesDir  string
	maxUpload int64
	logger    *slog.Logger
}

func NewServer(opts Options) *Server {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		store:     opts.Store,
		filesDir:  opts.FilesDir,
		maxUpload: maxUpload,
		logger:    logger,
	}
	s.Register(s.router)
	return s
}

// Register adds the control plane routes to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Post("/conversation/new", s.handleNewConversation)
	r.Get("/conversation/list", s.handleListConversations)
	r.Get("/conversation/{conversation_id}", s.handleGetConversation)
	r.Patch("/conversation/{conversation_id}", s.handleRenameConversation)
	r.Delete("/conversation/{conversation_id}", s.handleDeleteConversation)

	r.Get("/message/list", s.handleListMessages)

	r.Post("/file/upload", s.handleUploadFile)
	r.Get("/file/{file_id}", s.handleGetFile)

	r.Get("/run/{run_id}/events", s.handleRunEvents)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}

	writeJSON(w, stats)
}

type NewConversationResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	conv := &domain.Conversation{
		ID:        "conv_" + uuid.New().String(),
		Name:      DefaultConversationName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.fail(w, r, fmt.Errorf("create conversation: %w", err))
		return
	}
	server.AddLogField(r.Context(), "conversation_id", conv.ID)
	writeJSON(w, NewConversationResponse{ID: conv.ID, Name: conv.Name})
}

type ConversationListResponse struct {
	Data    []*domain.Conversation `json:"data"`
	Total   int                    `json:"total"`
	Page    int                    `json:"page"`
	PerPage int                    `json:"per_page"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), 1, "page")
	if err != nil {
		respond.Error(w, err)
		return
	}
	perPage, err := intParam(q.Get("per_page"), defaultPerPage, "per_page")
	if err != nil {
		respond.Error(w, err)
		return
	}
	perPage = min(perPage, maxPerPage)

	opts := ports.ListOptions{
		Query:     q.Get("q"),
		Name:      q.Get("name"),
		SortField: q.Get("sort_field"),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	}
	switch opts.SortField {
	case "", "created_at", "updated_at", "name":
	default:
		respond.Error(w, invalidParam("sort_field", "must be one of created_at, updated_at, name"))
		return
	}
	switch q.Get("sort_order") {
	case "", "desc":
		opts.SortDesc = true
	case "asc":
	default:
		respond.Error(w, invalidParam("sort_order", "must be asc or desc"))
		return
	}

	convs, err := s.store.ListConversations(r.Context(), opts)
	if err != nil {
		s.fail(w, r, fmt.Errorf("list conversations: %w", err))
		return
	}
	total, err := s.store.CountConversations(r.Context(), opts)
	if err != nil {
		s.fail(w, r, fmt.Errorf("count conversations: %w", err))
		return
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}

	writeJSON(w, ConversationListResponse{Data: convs, Total: total, Page: page, PerPage: perPage})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r, chi.URLParam(r, "conversation_id"))
	if !ok {
		return
	}
	writeJSON(w, conv)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, domain.ErrInvalidRequest("invalid JSON body: "+err.Error()))
		return
	}
	if req.Name == "" {
		respond.Error(w, invalidParam("name", "must not be empty"))
		return
	}

	if err := s.store.RenameConversation(r.Context(), id, req.Name); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			respond.Error(w, domain.ErrConversationNotFound(id))
			return
		}
		s.fail(w, r, fmt.Errorf("rename conversation: %w", err))
		return
	}

	conv, ok := s.conversation(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	if err := s.store.DeleteConversation(r.Context(), id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			respond.Error(w, domain.ErrConversationNotFound(id))
			return
		}
		s.fail(w, r, fmt.Errorf("delete conversation: %w", err))
		return
	}
	server.AddLogField(r.Context(), "conversation_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// FileRef is the file joined onto a listed message.
type FileRef struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

type MessageView struct {
	*domain.Message
	File *FileRef `json:"file"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("conversation_id")
	if id == "" {
		respond.Error(w, invalidParam("conversation_id", "is required"))
		return
	}
	if _, ok := s.conversation(w, r, id); !ok {
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		s.fail(w, r, fmt.Errorf("list messages: %w", err))
		return
	}

	var fileIDs []string
	for _, m := range msgs {
		if m.FileID != "" {
			fileIDs = append(fileIDs, m.FileID)
		}
	}
	files := map[string]*FileRef{}
	if len(fileIDs) > 0 {
		found, err := s.store.GetFiles(r.Context(), fileIDs)
		if err != nil {
			s.fail(w, r, fmt.Errorf("get files: %w", err))
			return
		}
		for _, f := range found {
			files[f.ID] = &FileRef{FileID: f.ID, Filename: f.Name}
		}
	}

	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{Message: m, File: files[m.FileID]})
	}
	writeJSON(w, out)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUpload {
		respond.Error(w, s.tooLarge())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	src, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(w, s.tooLarge())
			return
		}
		respond.Error(w, invalidParam("file", "multipart field is required"))
		return
	}
	defer src.Close()

	id := "file_" + uuid.New().String()
	name := filepath.Base(header.Filename)
	path := filepath.Join(s.filesDir, id+filepath.Ext(name))

	size, err := s.save(path, src)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(w, s.tooLarge())
			return
		}
		s.fail(w, r, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	file := &domain.File{
		ID:          id,
		Name:        name,
		Path:        path,
		Size:        size,
		ContentType: contentType,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateFile(r.Context(), file); err != nil {
		_ = os.Remove(path)
		s.fail(w, r, fmt.Errorf("create file: %w", err))
		return
	}

	server.AddLogField(r.Context(), "file_id", id)
	respond.JSON(w, http.StatusCreated, file)
}

func (s *Server) tooLarge() *domain.APIError {
	return domain.ErrInvalidRequest(fmt.Sprintf("upload exceeds %d bytes", s.maxUpload)).
		WithCode(domain.ErrorCodeFileTooLarge).
		WithParam("file").
		WithStatusCode(http.StatusRequestEntityTooLarge)
}

func (s *Server) save(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create files dir: %w", err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "file_id")
	file, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			respond.Error(w, domain.ErrNotFound(fmt.Sprintf("file %s not found", id)).
				WithCode(domain.ErrorCodeFileNotFound))
			return
		}
		s.fail(w, r, fmt.Errorf("get file: %w", err))
		return
	}
	writeJSON(w, file)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListRunEvents(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("list run events: %w", err))
		return
	}
	if events == nil {
		events = []*domain.RunEventRecord{}
	}
	writeJSON(w, events)
}

func (s *Server) conversation(w http.ResponseWriter, r *http.Request, id string) (*domain.Conversation, bool) {
	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			respond.Error(w, domain.ErrConversationNotFound(id))
			return nil, false
		}
		s.fail(w, r, fmt.Errorf("get conversation: %w", err))
		return nil, false
	}
	return conv, true
}

// fail logs an unexpected error and answers with a generic server error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)
	if !errors.Is(err, context.Canceled) {
		s.logger.Error("control plane request failed",
			slog.String("request_id", server.GetRequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	respond.Error(w, err)
}

func intParam(raw string, def int, name string) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, invalidParam(name, "must be a positive integer")
	}
	return v, nil
}

func invalidParam(name, msg string) *domain.APIError {
	return domain.ErrInvalidRequest(name+" "+msg).
		WithCode(domain.ErrorCodeInvalidParameter).
		WithParam(name)
}

func writeJSON(w http.ResponseWriter, payload any) {
	respond.JSON(w, http.StatusOK, payload)
}
