package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/rosterlabs/roomsync/pkg/chat"
)

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "connect, page backward through the room history and dump it",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "max-pages",
			Value: 50,
			Usage: "stop after this many backward fetches",
		},
		&cli.DurationFlag{
			Name:  "settle",
			Value: 2 * time.Second,
			Usage: "how long to wait for the live window before paging",
		},
	},
	Action: runHistory,
}

// pager is the slice of the chat client the history loop needs.
type pager interface {
	HasMore() bool
	Messages() []chat.Message
	LoadEarlier(ctx context.Context) error
}

// pageBackward pages until history is exhausted or the page cap is reached.
// A fetch failure is retried once; with an empty timeline there is no cursor
// to page before, so the loop gives up rather than spinning to the cap.
func pageBackward(ctx context.Context, client pager, maxPages int, log zerolog.Logger) (int, error) {
	pages := 0
	retried := false
	for client.HasMore() && pages < maxPages {
		if err := client.LoadEarlier(ctx); err != nil {
			if errors.Is(err, chat.ErrFetch) && !retried {
				retried = true
				log.Warn().Err(err).Msg("Fetch failed, retrying once")
				continue
			}
			return pages, err
		}
		retried = false
		if len(client.Messages()) == 0 {
			log.Warn().Msg("No initial window arrived, nothing to page")
			break
		}
		pages++
	}
	return pages, nil
}

func runHistory(ctx *cli.Context) error {
	log := getLogger(ctx)

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, _ := buildEngine(ctx, nil)
	if err := client.Activate(runCtx); err != nil {
		return err
	}
	defer client.Deactivate()

	// The initial window arrives via the live subscription; give it a
	// moment, since pagination needs a cursor to page before.
	select {
	case <-time.After(ctx.Duration("settle")):
	case <-runCtx.Done():
		return nil
	}

	pages, err := pageBackward(runCtx, client, ctx.Int("max-pages"), log)
	if err != nil {
		return err
	}

	msgs := client.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		printMessage(msgs[i])
	}
	fmt.Printf("%d messages across %d pages\n", len(msgs), pages)
	return nil
}
