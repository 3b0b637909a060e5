// jobpilot - terminal client for the job-application assistant.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/jobpilot/internal/config"
	"github.com/ashureev/jobpilot/internal/domain"
	"github.com/ashureev/jobpilot/internal/session"
	"github.com/ashureev/jobpilot/internal/store"
	"github.com/ashureev/jobpilot/internal/transport"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		slog.Error("Failed to load profile", "error", err)
		os.Exit(1)
	}
	userID := config.DeriveUserID(profile)

	client := transport.NewClient(transport.ClientConfig{BaseURL: cfg.BackendURL}, logger)

	opts := session.Options{
		UserID:       userID,
		ThreadID:     userID,
		Profile:      profile,
		Turns:        client,
		Jobs:         client,
		PollInterval: cfg.PollInterval,
		Alert:        func() { fmt.Print("\a") },
		Logger:       logger,
		OpenPush: func(ctx context.Context) (session.PushStream, error) {
			return transport.DialPush(ctx, cfg.BackendURL, userID, logger)
		},
	}

	if cfg.ArchiveEnabled {
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize archive database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close archive", "error", closeErr)
			}
		}()

		archive := store.NewSessionArchive(repo, userID, userID)
		restored, err := archive.Messages(context.Background())
		if err != nil {
			slog.Warn("Failed to restore transcript", "error", err)
		}
		opts.Archive = archive
		opts.InitialMessages = restored
	}

	ctrl, err := session.New(opts)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl.Start(ctx)
	defer ctrl.Stop()

	go watchJobs(ctx, ctrl)

	for _, m := range ctrl.Messages() {
		printMessage(m)
	}
	fmt.Println("Connected to", cfg.BackendURL, "as", userID)
	fmt.Println(`Type a message; "/jobs", "/alerts" or "/quit" for commands.`)

	repl(ctx, ctrl)
}

func repl(ctx context.Context, ctrl *session.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "/quit":
			return
		case "/jobs":
			printJobs(ctrl.JobState())
			continue
		case "/alerts":
			printAlerts(ctrl)
			continue
		}

		if err := ctrl.Submit(ctx, line); err != nil && !errors.Is(err, session.ErrEmptyInput) {
			slog.Warn("turn failed", "error", err)
		}
		printTail(ctrl)

		if ctx.Err() != nil {
			return
		}
	}
}

// printTail shows the latest assistant reply and the clarification banner.
func printTail(ctrl *session.Controller) {
	msgs := ctrl.Messages()
	if len(msgs) > 0 {
		if last := msgs[len(msgs)-1]; last.Sender == domain.SenderAssistant {
			printMessage(last)
		}
	}
	if intr := ctrl.Interrupt(); intr != nil {
		fmt.Println("  [awaiting your answer before continuing]")
	}
}

func printMessage(m domain.Message) {
	prefix := "you"
	if m.Sender == domain.SenderAssistant {
		prefix = "assistant"
	}
	fmt.Printf("%s: %s\n", prefix, m.Text)
}

func printJobs(state domain.JobState) {
	fmt.Printf("applied (%d):\n", len(state.Applied))
	for _, j := range state.Applied {
		printJob(j)
	}
	fmt.Printf("rejected (%d):\n", len(state.Rejected))
	for _, j := range state.Rejected {
		printJob(j)
	}
}

func printJob(j domain.JobRecord) {
	line := "  - " + j.ID
	if j.Company != "" {
		line += " " + j.Company
	}
	if j.Title != "" {
		line += " (" + j.Title + ")"
	}
	if j.Advisory {
		line += " [pending sync]"
	}
	fmt.Println(line)
}

func printAlerts(ctrl *session.Controller) {
	feed := ctrl.Feed()
	for _, n := range feed.Notifications() {
		fmt.Printf("  [%s] %s\n", n.Kind, n.Message)
	}
	feed.MarkRead()
}

// watchJobs announces sidebar changes between prompts.
func watchJobs(ctx context.Context, ctrl *session.Controller) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Changes():
			state := ctrl.JobState()
			fmt.Printf("\n[jobs] applied=%d rejected=%d\n> ", len(state.Applied), len(state.Rejected))
		}
	}
}
