package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/cartloop/assistant-go/internal/assistant"
	"github.com/cartloop/assistant-go/internal/config"
	"github.com/cartloop/assistant-go/internal/conn"
	"github.com/cartloop/assistant-go/internal/logger"
	"github.com/cartloop/assistant-go/internal/protocol"
	"github.com/cartloop/assistant-go/internal/session"
)

var (
	styleUser = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	styleAssistant = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	styleStatus = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Italic(true)

	styleError = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	styleQuestion = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	styleCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	styleCardTitle = lipgloss.NewStyle().Bold(true)
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	serverURL := flag.String("server", "", "orchestrator WebSocket URL")
	userID := flag.String("user", "", "user identifier")
	sessionID := flag.String("session", "", "session identifier (default: random)")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error, none)")
	logPath := flag.String("log-path", "", "log file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *userID != "" {
		cfg.UserID = *userID
	}
	if *sessionID != "" {
		cfg.SessionID = *sessionID
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logPath != "" {
		cfg.LogPath = *logPath
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return err
	}
	defer logger.Global().Close()

	if cfg.UserID == "" {
		cfg.UserID = "guest-" + uuid.NewString()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	transport, err := conn.NewWebsocketTransport(cfg.ServerURL, cfg.SessionID, cfg.UserID)
	if err != nil {
		return err
	}

	ui := &chatUI{}

	client := assistant.New(transport, cfg.SessionID, cfg.UserID, conn.Config{
		HeartbeatInterval:    cfg.HeartbeatInterval(),
		ReconnectBase:        cfg.ReconnectBase(),
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ConnectTimeout:       cfg.ConnectTimeout(),
	}, ui.callbacks(), logger.Global())

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		client.Disconnect()
		os.Exit(0)
	}()

	ui.printStatus(fmt.Sprintf("session %s — type a request, /quit to exit", cfg.SessionID))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(styleUser.Render("you> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/status":
			ui.printStatus(fmt.Sprintf("connection: %s, awaiting clarification: %v",
				client.ConnectionState(), client.AwaitingClarification()))
			continue
		}

		if err := client.SendText(line); err != nil {
			switch {
			case errors.Is(err, session.ErrEmptyText):
				continue
			case errors.Is(err, conn.ErrNotConnected):
				ui.printError("not connected; waiting for the connection to recover")
			default:
				ui.printError(err.Error())
			}
		}
	}
	return scanner.Err()
}

// chatUI renders inbound events as chat items: role-prefixed text lines and
// product cards. Callbacks arrive on the connection's read goroutine, so all
// printing is funneled through one mutex.
type chatUI struct {
	mu         sync.Mutex
	streamed   string
	streamOpen bool
}

func (ui *chatUI) callbacks() assistant.Callbacks {
	return assistant.Callbacks{
		OnConnected: func(sessionID string) {
			ui.printStatus("connected")
		},
		OnStatus: func(step, message string) {
			ui.printStatus(message)
		},
		OnStreamStart: func(partial string) {
			ui.streamFragment(partial)
		},
		OnStreamUpdate: func(partial string) {
			ui.streamFragment(partial)
		},
		OnAssistantMessage: func(text string) {
			ui.finishStream(text)
		},
		OnClarification: func(question string) {
			ui.mu.Lock()
			defer ui.mu.Unlock()
			fmt.Println(styleQuestion.Render("assistant asks: " + question))
		},
		OnResults: func(results protocol.ResultsData) {
			ui.printResults(results)
		},
		OnServerError: func(err error) {
			ui.printError(err.Error())
		},
		OnDone: func(message string) {
			ui.printStatus("done")
		},
		OnConnectionState: func(state conn.State) {
			if state == conn.StateReconnecting {
				ui.printStatus("connection lost, reconnecting…")
			}
		},
		OnConnectionError: func(err error) {
			ui.printError("connection lost: " + err.Error())
		},
	}
}

// streamFragment prints the newly streamed suffix so the answer grows in
// place as tokens arrive.
func (ui *chatUI) streamFragment(partial string) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if !ui.streamOpen {
		fmt.Print(styleAssistant.Render("assistant> "))
		ui.streamOpen = true
		ui.streamed = ""
	}
	if delta, ok := strings.CutPrefix(partial, ui.streamed); ok {
		fmt.Print(styleAssistant.Render(delta))
	}
	ui.streamed = partial
}

// finishStream closes a live stream line, or prints the full message when it
// was not streamed token by token.
func (ui *chatUI) finishStream(text string) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if ui.streamOpen {
		fmt.Println()
		ui.streamOpen = false
		ui.streamed = ""
		return
	}
	fmt.Println(styleAssistant.Render("assistant> " + text))
}

func (ui *chatUI) printResults(results protocol.ResultsData) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	for _, p := range results.Products {
		lines := []string{styleCardTitle.Render(p.Title)}
		if p.Price > 0 {
			currency := p.Currency
			if currency == "" {
				currency = "USD"
			}
			lines = append(lines, fmt.Sprintf("%.2f %s", p.Price, currency))
		}
		if p.Marketplace != "" {
			lines = append(lines, p.Marketplace)
		}
		if p.ProductURL != "" {
			lines = append(lines, p.ProductURL)
		}
		fmt.Println(styleCard.Render(strings.Join(lines, "\n")))
	}
}

func (ui *chatUI) printStatus(msg string) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Println(styleStatus.Render("· " + msg))
}

func (ui *chatUI) printError(msg string) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Println(styleError.Render("! " + msg))
}
