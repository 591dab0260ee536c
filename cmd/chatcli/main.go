package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"directchat/internal/chatclient"
	"directchat/internal/domain"
	"directchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type cliConfig struct {
	APIURL   string
	WSURL    string
	Email    string
	Password string
	Peer     string
	LogLevel string
}

func loadConfig() (*cliConfig, error) {
	_ = godotenv.Load()

	cfg := &cliConfig{
		APIURL:   getEnv("CHAT_API_URL", "http://localhost:8080"),
		WSURL:    os.Getenv("CHAT_WS_URL"),
		Email:    os.Getenv("CHAT_EMAIL"),
		Password: os.Getenv("CHAT_PASSWORD"),
		Peer:     os.Getenv("CHAT_PEER"),
		LogLevel: getEnv("LOG_LEVEL", "warn"),
	}
	if cfg.WSURL == "" {
		cfg.WSURL = "ws" + strings.TrimPrefix(strings.TrimRight(cfg.APIURL, "/"), "http") + "/ws"
	}
	if cfg.Email == "" || cfg.Password == "" {
		return nil, errors.New("CHAT_EMAIL and CHAT_PASSWORD are required")
	}
	if cfg.Peer == "" {
		return nil, errors.New("CHAT_PEER is required (user id or email)")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.NewConsole(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := chatclient.NewHTTPClient(cfg.APIURL)
	auth, err := client.Login(ctx, cfg.Email, cfg.Password)
	if err != nil {
		appLogger.Fatal("Login failed", "error", err)
	}

	store := chatclient.NewStore(client, auth.User.ID,
		chatclient.WithLogger(appLogger),
		chatclient.WithErrorReporter(func(err error) {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		}),
	)

	if err := store.LoadContacts(ctx); err != nil {
		appLogger.Fatal("Failed to load contacts", "error", err)
	}
	peer, err := resolvePeer(store.Conversations(), cfg.Peer)
	if err != nil {
		appLogger.Fatal("Unknown peer", "error", err, "peer", cfg.Peer)
	}

	source := chatclient.NewWSEventSource(cfg.WSURL, client.Token(), appLogger,
		chatclient.WithOnReconnect(func() {
			if err := store.Resync(ctx); err != nil {
				appLogger.Warn("Resync after reconnect failed", "error", err)
			}
		}),
	)
	defer source.Close()
	store.Attach(source)
	if err := source.Connect(ctx); err != nil {
		appLogger.Warn("Live updates unavailable", "error", err)
	}

	if err := store.OpenConversation(ctx, peer.ID); err != nil {
		appLogger.Fatal("Failed to open conversation", "error", err)
	}

	changed := make(chan struct{}, 1)
	store.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	render(store, auth.User.ID, peer)
	printHelp()

	sourceDone := source.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sourceDone:
			fmt.Fprintln(os.Stderr, "! live connection lost, /contacts to refresh")
			sourceDone = nil
		case <-changed:
			render(store, auth.User.ID, peer)
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, store, peer, line); quit {
				return
			}
		}
	}
}

func resolvePeer(rows []chatclient.Conversation, ref string) (domain.Contact, error) {
	id, idErr := uuid.Parse(ref)
	for _, row := range rows {
		if (idErr == nil && row.Contact.ID == id) || strings.EqualFold(row.Contact.Email, ref) {
			return row.Contact, nil
		}
	}
	return domain.Contact{}, fmt.Errorf("no contact matches %q", ref)
}

func handleLine(ctx context.Context, store *chatclient.Store, peer domain.Contact, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if !strings.HasPrefix(line, "/") {
		_, _ = store.Send(callCtx, peer.ID, chatclient.SendRequest{Text: &line})
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true
	case "/help":
		printHelp()
	case "/read":
		_ = store.MarkConversationRead(callCtx)
	case "/contacts":
		if err := store.LoadContacts(callCtx); err == nil {
			printContacts(store.Conversations())
		}
	case "/edit":
		n, text, _ := strings.Cut(rest, " ")
		if message, ok := messageAt(store, n); ok {
			_, _ = store.Edit(callCtx, message.ID, text)
		}
	case "/delete":
		if message, ok := messageAt(store, rest); ok {
			_ = store.Delete(callCtx, message.ID)
		}
	case "/forward":
		n, target, _ := strings.Cut(rest, " ")
		message, ok := messageAt(store, n)
		if !ok {
			break
		}
		to, err := resolvePeer(store.Conversations(), strings.TrimSpace(target))
		if err != nil {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
			break
		}
		_, _ = store.Forward(callCtx, message.ID, to.ID)
	default:
		fmt.Fprintf(os.Stderr, "! unknown command %s\n", cmd)
	}
	return false
}

// messageAt resolves the 1-based index shown by render.
func messageAt(store *chatclient.Store, ref string) (domain.Message, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(ref))
	messages := store.Messages()
	if err != nil || n < 1 || n > len(messages) {
		fmt.Fprintf(os.Stderr, "! no message #%s\n", ref)
		return domain.Message{}, false
	}
	return messages[n-1], true
}

func render(store *chatclient.Store, self uuid.UUID, peer domain.Contact) {
	fmt.Printf("\n== %s <%s> ==\n", peer.FullName, peer.Email)
	for i, m := range store.Messages() {
		who := peer.FullName
		if m.SenderID == self {
			who = "you"
		}
		var flags []string
		if m.IsForwarded {
			flags = append(flags, "forwarded")
		}
		if m.IsEdited {
			flags = append(flags, "edited")
		}
		if m.SenderID == self && m.IsRead {
			flags = append(flags, "read")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Printf("%3d %s %-12s %s%s\n", i+1, m.CreatedAt.Local().Format("15:04"), who, messageBody(m), suffix)
	}

	var others []string
	for _, row := range store.Conversations() {
		if row.Unread && row.Contact.ID != peer.ID {
			others = append(others, row.Contact.FullName)
		}
	}
	if len(others) > 0 {
		fmt.Printf("-- unread from: %s\n", strings.Join(others, ", "))
	}
}

func messageBody(m domain.Message) string {
	var parts []string
	if m.Text != nil {
		parts = append(parts, *m.Text)
	}
	if m.Image != nil {
		parts = append(parts, "[image "+*m.Image+"]")
	}
	if m.VoiceNote != nil {
		parts = append(parts, "[voice "+*m.VoiceNote+"]")
	}
	return strings.Join(parts, " ")
}

func printContacts(rows []chatclient.Conversation) {
	for _, row := range rows {
		marks := ""
		if row.Unread {
			marks += "*"
		}
		if row.Online {
			marks += "+"
		}
		fmt.Printf("%-3s %-20s %s\n", marks, row.Contact.FullName, row.Contact.Email)
	}
}

func printHelp() {
	fmt.Println("type to send; /edit N text, /delete N, /forward N email, /read, /contacts, /quit")
}
