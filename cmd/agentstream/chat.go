package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	chatapi "github.com/tjfontaine/agentstream/internal/api/chat"
	"github.com/tjfontaine/agentstream/internal/api/respond"
	"github.com/tjfontaine/agentstream/internal/chat"
	"github.com/tjfontaine/agentstream/internal/core/domain"
)

// maxRecordBytes bounds one NDJSON record read by the client.
const maxRecordBytes = 4 << 20

var (
	chatURL          string
	chatConversation string
	chatFile         string
	chatRaw          bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one chat turn and render the streamed events",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := chat.Request{
			ConversationID: chatConversation,
			FileID:         chatFile,
			Message:        strings.Join(args, " "),
		}
		convID, err := sendChat(cmd.Context(), http.DefaultClient, chatURL, &req, cmd.OutOrStdout(), chatRaw)
		if convID != "" {
			fmt.Fprintf(os.Stderr, "conversation: %s\n", convID)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatURL, "url", "http://localhost:8080", "Base URL of the agentstream service")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "Continue an existing conversation")
	chatCmd.Flags().StringVar(&chatFile, "file", "", "Attach a previously uploaded file id")
	chatCmd.Flags().BoolVar(&chatRaw, "raw", false, "Print the NDJSON records unmodified")
}

// sendChat posts req to the streaming endpoint and renders the response to
// out. It returns the conversation id the service assigned.
func sendChat(ctx context.Context, client *http.Client, baseURL string, req *chat.Request, out io.Writer, raw bool) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/chat/streaming", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", chatapi.ContentTypeNDJSON)

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb respond.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error == nil {
			return "", fmt.Errorf("chat failed: %s", resp.Status)
		}
		return "", fmt.Errorf("chat failed: %s: %s", resp.Status, eb.Error.Message)
	}

	convID := resp.Header.Get(chatapi.ConversationIDHeader)
	if raw {
		_, err = io.Copy(out, resp.Body)
		return convID, err
	}
	return convID, render(out, resp.Body)
}

// render prints a human-readable transcript of an NDJSON event stream.
// Deltas are written inline and a finished message closes the line; a
// message that arrived without deltas is printed whole.
func render(out io.Writer, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	inMessage := false
	endLine := func() {
		if inMessage {
			fmt.Fprintln(out)
			inMessage = false
		}
	}

	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, err := domain.DecodeEvent(line)
		if err != nil {
			return err
		}
		switch e := ev.(type) {
		case *domain.AgentChanged:
			endLine()
			fmt.Fprintf(out, "[agent: %s]\n", e.CurrentAgent)
		case *domain.MessageDelta:
			inMessage = true
			fmt.Fprint(out, e.Delta)
		case *domain.NewMessage:
			if !inMessage {
				fmt.Fprint(out, e.Content)
				inMessage = true
			}
			endLine()
			if e.Think != nil && *e.Think != "" {
				fmt.Fprintf(out, "[%s thought: %s]\n", e.Agent, *e.Think)
			}
		case *domain.ToolCalled:
			endLine()
			fmt.Fprintf(out, "[tool %s(%s)]\n", e.ToolName, e.Args)
		case *domain.ToolCallOutput:
			endLine()
			fmt.Fprintf(out, "[tool result: %s]\n", e.Output)
		}
	}
	endLine()
	return sc.Err()
}
