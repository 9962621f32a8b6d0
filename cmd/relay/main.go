package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"offrecord/internal/logging"
	"offrecord/internal/relay"
)

func main() {
	addr := flag.StringP("addr", "a", ":8080", "listen address")
	level := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	format := flag.String("log-format", "text", "log format (text, json)")
	flag.Parse()

	if err := run(*addr, *level, *format); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run(addr, level, format string) error {
	cfg := logging.DefaultConfig()
	cfg.Component = "relay"
	var err error
	if cfg.Level, err = logging.ParseLevel(level); err != nil {
		return err
	}
	if cfg.Format, err = logging.ParseFormat(format); err != nil {
		return err
	}
	log, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           relay.NewServer(log.Logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
