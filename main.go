// lexchat - terminal client for the legal assistant chat backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/lexforge/lexchat/internal/cli"
	"github.com/lexforge/lexchat/internal/cloud"
	"github.com/lexforge/lexchat/internal/config"
	"github.com/lexforge/lexchat/internal/files"
	"github.com/lexforge/lexchat/internal/session"
	"github.com/lexforge/lexchat/internal/storage"
	"github.com/lexforge/lexchat/internal/ui/chat"
	"github.com/lexforge/lexchat/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const usageText = `lexchat - 法律咨询助手终端客户端

Usage:
  lexchat            Start the chat interface (TUI on a terminal,
                     plain REPL otherwise)
  lexchat --no-tui   Force the plain REPL
  lexchat --version  Print version information
  lexchat --help     Print this help

Environment:
  LEXCHAT_BASE_URL      Backend base URL
  LEXCHAT_TOKEN         Authentication token
  LEXCHAT_TIMEOUT_SECS  Request timeout in seconds
  LEXCHAT_THEME         UI theme: dark, light, auto
  LEXCHAT_DOWNLOAD_DIR  Directory for downloaded documents

Configuration lives at ~/.lexchat/config.toml.
`

func main() {
	noTUI := false
	for _, arg := range os.Args[1:] {
		switch arg {
		case "--no-tui":
			noTUI = true
		case "--version", "-v":
			fmt.Printf("lexchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return
		case "--help", "-h":
			fmt.Print(usageText)
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n\n%s", arg, usageText)
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v; using defaults\n", err)
		cfg = config.Default()
	}

	logger := newLogger()

	client := cloud.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token)

	var store *storage.Store
	if path, err := cfg.StorePath(); err == nil {
		if store, err = storage.Open(path); err != nil {
			logger.Printf("local cache unavailable: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	var downloads *files.Manager
	if dir, err := cfg.DownloadDir(); err == nil {
		downloads = files.NewManager(dir)
	}

	// Hot-reload the token on config file edits so re-authenticating
	// does not require a restart.
	if path, err := config.Path(); err == nil {
		if w, err := config.NewWatcher(path, time.Second, func(next *config.Config, err error) {
			if err != nil {
				logger.Printf("config reload failed: %v", err)
				return
			}
			client.SetToken(next.Backend.Token)
			logger.Printf("config reloaded")
		}); err == nil {
			if err := w.Watch(); err == nil {
				defer w.Close()
			}
		}
	}

	interactive := term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
	if interactive && !noTUI {
		err = runTUI(cfg, client, store, downloads, logger)
	} else {
		err = runREPL(cfg, client, store, downloads, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger writes to ~/.lexchat/lexchat.log; the terminal belongs to
// the chat surface. Falls back to discarding when the file cannot be
// opened.
func newLogger() *log.Logger {
	dir, err := config.Dir()
	if err != nil {
		return log.New(io.Discard, "", 0)
	}
	if err := config.EnsureDir(); err != nil {
		return log.New(io.Discard, "", 0)
	}
	f, err := os.OpenFile(filepath.Join(dir, "lexchat.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return log.New(io.Discard, "", 0)
	}
	return log.New(f, "", log.LstdFlags)
}

func runTUI(cfg *config.Config, client *cloud.Client, store *storage.Store, downloads *files.Manager, logger *log.Logger) error {
	notifier := chat.NewNotifier()

	sc := session.Config{
		Opener:    client,
		OnUpdate:  notifier.ConversationUpdated,
		Reporter:  client,
		Uploader:  client,
		Generator: client,
		Navigator: notifier,
		Logger:    logger,
	}
	if downloads != nil {
		sc.Downloader = downloads
		sc.Documents = downloads
	}
	ctrl := session.NewController(sc)

	m := chat.New(chat.Config{
		Controller: ctrl,
		Store:      store,
		Client:     client,
		Theme:      styles.New(cfg.UI.Theme),
		App:        cfg,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	notifier.Attach(p)

	_, err := p.Run()
	ctrl.Wait()
	return err
}

func runREPL(cfg *config.Config, client *cloud.Client, store *storage.Store, downloads *files.Manager, logger *log.Logger) error {
	s := &cli.Session{
		Config: cfg,
		Store:  store,
		Client: client,
	}
	sc := session.Config{
		Opener:    client,
		OnUpdate:  s.OnUpdate,
		Reporter:  client,
		Uploader:  client,
		Generator: client,
		Navigator: s,
		Logger:    logger,
	}
	if downloads != nil {
		sc.Downloader = downloads
		sc.Documents = downloads
	}
	s.Controller = session.NewController(sc)
	return s.Run()
}
