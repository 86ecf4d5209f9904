package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	wsadapter "github.com/satriahrh/persona-chat/adapters/websocket"
	"github.com/satriahrh/persona-chat/domain"
)

var serverURL string

var chatCmd = &cobra.Command{
	Use:   "chat <personaId>",
	Short: "Chat with a persona from the terminal",
	Long: `Connect to a running server and chat with a persona over the WebSocket API.

Lines are sent as messages. /retry resends after a failure, /clear starts
the day's conversation over, and exit quits.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/ws", "WebSocket endpoint of the server")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	endpoint, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	q := endpoint.Query()
	q.Set("persona", args[0])
	endpoint.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		printIncoming(conn, out)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		conn.Close()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "exit" {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			msg, ok := commandFor(line)
			if !ok {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("error sending message: %w", err)
			}
		}
	}
}

// commandFor turns an input line into a socket command. Blank lines are skipped.
func commandFor(line string) ([]byte, bool) {
	line = strings.TrimSpace(line)
	msg := wsadapter.Message{}
	switch line {
	case "":
		return nil, false
	case "/retry":
		msg.Type = wsadapter.TypeRetry
	case "/clear":
		msg.Type = wsadapter.TypeClear
	default:
		data, err := json.Marshal(wsadapter.SubmitData{Text: line})
		if err != nil {
			return nil, false
		}
		msg.Type, msg.Data = wsadapter.TypeSubmit, data
	}
	raw, err := json.Marshal(msg)
	return raw, err == nil
}

func printIncoming(conn *websocket.Conn, out io.Writer) {
	seen := map[string]bool{}
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintln(out, "connection closed:", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg wsadapter.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case wsadapter.TypeConversation:
			var snap domain.ConversationSnapshot
			if err := json.Unmarshal(msg.Data, &snap); err != nil {
				continue
			}
			printSnapshot(out, snap, seen)
		case wsadapter.TypeError:
			var e wsadapter.ErrorResponse
			if err := json.Unmarshal(msg.Data, &e); err == nil {
				fmt.Fprintf(out, "! %s\n", e.Message)
			}
		}
	}
}

// printSnapshot prints messages not printed yet. A cleared conversation
// starts over with new ids, so it is printed from the top.
func printSnapshot(out io.Writer, snap domain.ConversationSnapshot, seen map[string]bool) {
	if len(snap.Messages) == 1 && !seen[snap.Messages[0].ID] {
		clear(seen)
	}
	for _, m := range snap.Messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if m.Role == domain.UserRole {
			continue
		}
		prefix := "<"
		if m.IsError {
			prefix = "! (use /retry)"
		}
		fmt.Fprintf(out, "%s %s\n", prefix, m.Content)
	}
	if snap.IsLoading {
		fmt.Fprintln(out, "...")
	}
}
