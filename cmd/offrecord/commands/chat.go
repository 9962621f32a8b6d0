package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"offrecord/internal/services/message"
)

var outMu sync.Mutex

// printEvent renders chat events on stdout.
func printEvent(ev message.Event) {
	outMu.Lock()
	defer outMu.Unlock()
	switch ev.Kind {
	case message.EventMessage:
		lock := " "
		if ev.Encrypted {
			lock = "*"
		}
		fmt.Printf("%s<%s> %s\n", lock, ev.Peer, ev.Text)
	case message.EventSMPRequest:
		if ev.Question != "" {
			fmt.Printf("-- %s asks: %q  (reply with /answer <secret>)\n", ev.Peer, ev.Question)
		} else {
			fmt.Printf("-- %s wants to authenticate (reply with /answer <secret>)\n", ev.Peer)
		}
	default:
		fmt.Printf("-- %s: %s\n", ev.Peer, ev.Text)
	}
}

const chatHelp = `commands:
  /otr                  start a private conversation
  /end                  end the private conversation
  /auth <secret>        authenticate with a shared secret
  /ask <q>? <secret>    authenticate with a question and its answer
  /answer <secret>      answer the peer's authentication request
  /abort                abort authentication
  /fp                   show fingerprints
  /quit                 leave
anything else is sent as a message`

// chat <peer>: interactive conversation over the relay.
func chatCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "chat <peer>",
		Short: "Chat with a peer over the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acct, proto, err := requireAccount()
			if err != nil {
				return err
			}
			if _, err := appCtx.IDs.Fingerprint(acct, proto); err != nil {
				return err
			}
			peer := args[0]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if watch {
				if err := appCtx.Watch(ctx); err != nil {
					return err
				}
			}

			runErr := make(chan error, 1)
			go func() { runErr <- appCtx.Messages.Run(ctx) }()

			fmt.Fprintf(cmd.OutOrStdout(), "chatting with %s as %s; /help for commands\n", peer, acct)
			lines := make(chan string)
			go func() {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					lines <- sc.Text()
				}
				close(lines)
			}()

			for {
				select {
				case <-ctx.Done():
					return finishChat(peer, runErr)
				case line, ok := <-lines:
					if !ok {
						stop()
						return finishChat(peer, runErr)
					}
					quit, err := chatLine(ctx, peer, line)
					if err != nil {
						printEvent(message.Event{Kind: message.EventNotice, Peer: peer, Text: err.Error()})
					}
					if quit {
						stop()
						return finishChat(peer, runErr)
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "apply config file changes while chatting")
	return cmd
}

// chatLine handles one line of input and reports whether to quit.
func chatLine(ctx context.Context, peer, line string) (bool, error) {
	svc := appCtx.Messages
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return false, nil
	case "/quit":
		return true, nil
	case "/help":
		outMu.Lock()
		fmt.Println(chatHelp)
		outMu.Unlock()
		return false, nil
	case "/otr":
		return false, svc.StartAKE(ctx, peer)
	case "/end":
		return false, svc.EndSession(ctx, peer)
	case "/auth":
		return false, svc.Authenticate(ctx, peer, "", arg)
	case "/ask":
		q, secret, ok := strings.Cut(arg, "?")
		if !ok {
			return false, errors.New("usage: /ask <question>? <secret>")
		}
		return false, svc.Authenticate(ctx, peer, strings.TrimSpace(q)+"?", strings.TrimSpace(secret))
	case "/answer":
		return false, svc.Answer(ctx, peer, arg)
	case "/abort":
		return false, svc.AbortSMP(ctx, peer)
	case "/fp":
		acct, proto, _ := requireAccount()
		fp, err := appCtx.IDs.Fingerprint(acct, proto)
		if err != nil {
			return false, err
		}
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Printf("-- ours:   %s\n", fp)
		for _, c := range appCtx.IDs.Contacts(acct, proto) {
			if c.Username != peer {
				continue
			}
			for _, e := range c.Fingerprints {
				fmt.Printf("-- theirs: %s %s\n", e.Fingerprint, e.Trust)
			}
		}
		return false, nil
	}
	if strings.HasPrefix(cmd, "/") && !strings.HasPrefix(cmd, "//") {
		return false, fmt.Errorf("unknown command %s; /help lists them", cmd)
	}
	return false, svc.Send(ctx, peer, strings.TrimPrefix(line, "/"))
}

// finishChat waits for the pump, then ends private sessions and tells the
// peers.
func finishChat(peer string, runErr <-chan error) error {
	err := <-runErr
	appCtx.Manager.Close()
	if ferr := appCtx.Flush(3 * time.Second); ferr != nil {
		printEvent(message.Event{Kind: message.EventNotice, Peer: peer, Text: "disconnect not delivered: " + ferr.Error()})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
