package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/rosterlabs/roomsync/pkg/chat"
	"github.com/rosterlabs/roomsync/pkg/config"
	"github.com/rosterlabs/roomsync/pkg/moderation"
	"github.com/rosterlabs/roomsync/pkg/picker"
	"github.com/rosterlabs/roomsync/pkg/wstransport"
)

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "connect to the room, tail the timeline and send from stdin",
	Action: runRun,
}

// buildEngine assembles the transport, scorer and picker from config.
func buildEngine(ctx *cli.Context, onUpdate func()) (*chat.Client, *picker.FS) {
	cfg := getConfig(ctx)
	log := getLogger(ctx)

	transport := wstransport.New(cfg.Transport.URL,
		wstransport.WithToken(cfg.Transport.Token),
		wstransport.WithLogger(log))

	var scorer chat.Scorer
	if cfg.Moderation.Enabled {
		scorer = moderation.NewHTTPScorer(cfg.Moderation.Endpoint, cfg.Moderation.APIKey, log)
	}
	fsPicker := picker.NewFS(log)

	client := chat.NewClient(chat.Options{
		UserID:    cfg.UserID,
		RoomID:    cfg.RoomID,
		PageSize:  cfg.PageSize,
		Transport: transport,
		Scorer:    scorer,
		Picker:    fsPicker,
		Logger:    log,
		OnUpdate:  onUpdate,
	})
	return client, fsPicker
}

// timelinePrinter prints messages that appeared at the newest end since the
// last render. Backfilled history is left to the /earlier dump.
type timelinePrinter struct {
	mu      sync.Mutex
	printed map[chat.MessageID]struct{}
}

func (p *timelinePrinter) render(client *chat.Client) {
	msgs := client.Messages()
	p.mu.Lock()
	defer p.mu.Unlock()
	// Walk oldest-first so a burst prints in timeline order.
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if _, done := p.printed[msg.ID]; done {
			continue
		}
		p.printed[msg.ID] = struct{}{}
		printMessage(msg)
	}
}

func printMessage(msg chat.Message) {
	line := fmt.Sprintf("[%s] %s: %s",
		msg.CreatedAt.Format("15:04:05"), msg.Sender.DisplayName, msg.Text)
	if msg.Attachment != nil {
		tag := msg.Attachment.MediaType
		if msg.Attachment.Flagged {
			tag += ", flagged"
		}
		line += fmt.Sprintf(" <attachment: %s (%s)>", msg.Attachment.URL, tag)
	}
	fmt.Println(line)
}

func runRun(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	log := getLogger(ctx)

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := &timelinePrinter{printed: make(map[chat.MessageID]struct{})}
	var client *chat.Client
	client, fsPicker := buildEngine(ctx, func() { printer.render(client) })

	if cfg.MetricsListenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsListenAddr, mux); err != nil {
				log.Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	// Hot-reload the log level on config edits.
	go func() {
		err := config.Watch(runCtx, ctx.String("config"), log, func(next *config.Config) {
			if level, err := zerolog.ParseLevel(next.Logging.Level); err == nil {
				log.Info().Str("level", level.String()).Msg("Applying new log level")
				zerolog.SetGlobalLevel(level)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("Config watch stopped")
		}
	}()

	if err := client.Activate(runCtx); err != nil {
		return err
	}
	defer client.Deactivate()
	log.Info().Str("room_id", cfg.RoomID).Msg("Connected, reading intents from stdin")
	fmt.Println("commands: /earlier, /attach <path>, /clear, /quit; anything else sends")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-runCtx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleIntent(runCtx, client, fsPicker, line, stop); err != nil {
				log.Err(err).Msg("Intent failed")
			}
		}
	}
}

func handleIntent(ctx context.Context, client *chat.Client, fsPicker *picker.FS, line string, quit func()) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "/quit":
		quit()
		return nil
	case line == "/earlier":
		if err := client.LoadEarlier(ctx); err != nil {
			return err
		}
		if !client.HasMore() {
			fmt.Println("(beginning of history)")
		}
		return nil
	case line == "/clear":
		client.ClearAttachment()
		return nil
	case strings.HasPrefix(line, "/attach "):
		fsPicker.Queue(strings.TrimSpace(strings.TrimPrefix(line, "/attach ")))
		att, err := client.PickAttachment(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("staged %s (%s), will be sent with the next message\n", att.DisplayName, att.MediaType)
		return nil
	default:
		return client.SendText(ctx, line)
	}
}
