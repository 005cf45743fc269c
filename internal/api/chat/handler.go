// Package chat serves chat runs over HTTP: an NDJSON stream, a WebSocket
// variant and the agent roster.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/agentstream/internal/api/respond"
	"github.com/tjfontaine/agentstream/internal/chat"
	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
	"github.com/tjfontaine/agentstream/internal/server"
)

const (
	// ContentTypeNDJSON is the media type of the chat stream.
	ContentTypeNDJSON = "application/x-ndjson"
	// ConversationIDHeader names the conversation a stream belongs to.
	ConversationIDHeader = "X-Conversation-ID"
	// RunIDHeader names the run a stream belongs to.
	RunIDHeader = "X-Run-ID"

	maxRequestBytes = 1 << 20
)

// Starter starts chat runs. *chat.Service implements it.
type Starter interface {
	Start(ctx context.Context, req *chat.Request) (*chat.Run, error)
}

type Handler struct {
	chats    Starter
	agents   ports.AgentDirectory
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(chats Starter, agents ports.AgentDirectory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chats:  chats,
		agents: agents,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// HandleAgents lists the agent roster.
func (h *Handler) HandleAgents(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.agents.Describe())
}

// HandleStreaming starts a run and streams its records as NDJSON. If the
// client goes away the run is detached and keeps going.
func (h *Handler) HandleStreaming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	req, err := decodeRequest(body)
	if err != nil {
		server.AddError(ctx, err)
		respond.Error(w, err)
		return
	}
	// The server notices a dropped client only once the body is consumed.
	_, _ = io.Copy(io.Discard, body)

	flusher, ok := w.(http.Flusher)
	if !ok {
		respond.Error(w, domain.ErrServer("streaming not supported").WithCode(domain.ErrorCodeStreamingUnsupported))
		return
	}

	req.RequestID = server.GetRequestID(ctx)
	run, err := h.chats.Start(ctx, req)
	if err != nil {
		server.AddError(ctx, err)
		respond.Error(w, err)
		return
	}
	server.AddLogField(ctx, "conversation_id", run.ConversationID)
	server.AddLogField(ctx, "run_id", run.ID)

	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(ConversationIDHeader, run.ConversationID)
	w.Header().Set(RunIDHeader, run.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	delivered, complete := pump(ctx, run, func(rec []byte) error {
		if _, err := w.Write(rec); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	server.AddLogField(ctx, "records", strconv.Itoa(delivered))
	if !complete {
		server.AddLogField(ctx, "detached", "true")
		run.Detach()
	}
}

// HandleWebSocket is the WebSocket variant of HandleStreaming. The first
// client frame is the chat request; each record is sent as one text frame and
// the server closes the connection when the run ends.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		server.AddError(r.Context(), err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestBytes)
	_, frame, err := conn.ReadMessage()
	if err != nil {
		server.AddError(r.Context(), err)
		return
	}

	req, err := decodeRequest(bytes.NewReader(frame))
	if err == nil {
		req.RequestID = server.GetRequestID(r.Context())
		var run *chat.Run
		run, err = h.chats.Start(r.Context(), req)
		if err == nil {
			h.streamWebSocket(r.Context(), conn, run)
			return
		}
	}

	server.AddError(r.Context(), err)
	body, _ := json.Marshal(respond.ErrorBody{Error: respond.AsAPIError(err)})
	_ = conn.WriteMessage(websocket.TextMessage, body)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "request rejected"))
}

func (h *Handler) streamWebSocket(ctx context.Context, conn *websocket.Conn, run *chat.Run) {
	server.AddLogField(ctx, "conversation_id", run.ConversationID)
	server.AddLogField(ctx, "run_id", run.ID)

	// The request context is not cancelled when a hijacked connection drops,
	// so a reader watches for the client going away.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	delivered, complete := pump(ctx, run, func(rec []byte) error {
		return conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(rec, []byte("\n")))
	})

	server.AddLogField(ctx, "records", strconv.Itoa(delivered))
	if !complete {
		server.AddLogField(ctx, "detached", "true")
		run.Detach()
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"))
}

// pump hands each record to send until the run's channel is exhausted. complete
// is false when ctx ended or send failed first.
func pump(ctx context.Context, run *chat.Run, send func([]byte) error) (delivered int, complete bool) {
	ch := run.Channel()
	for {
		rec, ok, err := ch.Next(ctx)
		if err != nil {
			return delivered, false
		}
		if !ok {
			return delivered, true
		}
		if err := send(rec); err != nil {
			return delivered, false
		}
		delivered++
	}
}

func decodeRequest(body io.Reader) (*chat.Request, error) {
	var req chat.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, domain.ErrInvalidRequest(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)).
				WithStatusCode(http.StatusRequestEntityTooLarge)
		}
		return nil, domain.ErrInvalidRequest("invalid JSON body: " + err.Error())
	}
	return &req, nil
}
