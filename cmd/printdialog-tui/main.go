package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/printdialog/printdialog/internal/tui/app"
	"github.com/printdialog/printdialog/internal/tui/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8631/ws", "WebSocket URL of the printdialog backend")
	token := flag.String("token", "", "Auth token (if backend requires it)")
	reportPID := flag.Bool("report-pid", true, "Report this process id so the backend can reap the dialog if it dies")
	flag.Parse()

	// Derive HTTP base URL from WebSocket URL.
	httpBase := deriveHTTPBase(*wsURL)

	pid := 0
	if *reportPID {
		pid = os.Getpid()
	}

	ws := client.NewWSClient(*wsURL, *token, pid)
	httpClient := client.NewHTTPClient(httpBase, *token)

	m := app.New(ws, httpClient)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8631"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
