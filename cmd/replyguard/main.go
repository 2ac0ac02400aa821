// Package main is the entry point for the replyguard server.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"replyguard/config"
	"replyguard/internal/app"
	"replyguard/internal/auth"
	"replyguard/internal/logging"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to config.yaml (default: ./config.yaml if present)")
	hashFlag := flag.Bool("hash-password", false, "Read a password from stdin and print its bcrypt hash for auth.users")
	flag.Parse()

	if *versionFlag {
		fmt.Println("replyguard", version)
		os.Exit(0)
	}

	if *hashFlag {
		if err := hashPassword(os.Stdin, os.Stdout, os.Stderr); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if _, err := logging.Setup(os.Stdout, cfg.Logging.Format, cfg.Logging.Level); err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting replyguard", "version", version)

	application, err := app.New(context.Background(), cfg, app.Options{})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	// Start returns as soon as the listener closes; wait for the audit flush.
	<-stopped
}

// hashPassword prints the bcrypt hash of a password read from in. Terminal
// input is read without echo; piped input is read up to the first newline.
func hashPassword(in *os.File, out, prompt io.Writer) error {
	password, err := readPassword(in, prompt)
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

func readPassword(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
