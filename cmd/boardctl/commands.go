package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskflow/boardclient"
	"taskflow/boardsync"
	"taskflow/domain"
	"taskflow/relay"
	"taskflow/reorder"
)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetLevel(log.GetLevel())
	if l.Level < log.WarnLevel {
		l.SetLevel(log.ErrorLevel)
	}
	return l
}

// session loads a coordinator for boardID. Close flushes queued writes.
func (o *options) session(ctx context.Context, boardID string) (*boardsync.Coordinator, error) {
	c := o.client()
	coord := boardsync.New(boardsync.Config{
		BoardID:        boardID,
		ActorID:        o.actor,
		Workers:        1,
		PersistTimeout: 10 * time.Second,
		Logger:         quietLogger(),
	}, c, c, c, boardsync.NotifierFunc(func(n boardsync.Notice) {
		fmt.Fprintln(os.Stderr, warn(n.Message))
	}))
	if err := coord.Load(ctx); err != nil {
		coord.Close()
		return nil, err
	}
	return coord, nil
}

func showCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <boardId>",
		Short: "Print a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.client().FetchBoard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			render(cmd.OutOrStdout(), boardsync.View{Board: b})
			return nil
		},
	}
}

func watchCmd(o *options) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <boardId>",
		Short: "Follow a board and reprint it whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			coord, err := o.session(ctx, args[0])
			if err != nil {
				return err
			}
			defer coord.Close()
			out := cmd.OutOrStdout()
			render(out, coord.View())

			r := relay.New(relay.Config{
				BoardID:  args[0],
				ActorID:  o.actor,
				Debounce: debounce,
				Logger:   quietLogger(),
				OnEvent: func(ev domain.Event, own bool) {
					fmt.Fprintln(out, describe(ev, own))
				},
			}, reconcileFunc(func(ctx context.Context) error {
				if err := coord.Reconcile(ctx); err != nil {
					return err
				}
				render(out, coord.View())
				return nil
			}))
			src := boardclient.NewStream(o.streamURL, o.token, quietLogger())
			if err := r.Run(ctx, src); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", relay.DefaultDebounce, "window in which change events share one refetch")
	return cmd
}

type reconcileFunc func(ctx context.Context) error

func (f reconcileFunc) Reconcile(ctx context.Context) error { return f(ctx) }

func moveColumnCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "move-column <boardId> <columnId> <index>",
		Short: "Move a column to a new position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			coord, err := o.session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			order := coord.Store().ColumnOrder()
			from := slices.Index(order, args[1])
			if from < 0 {
				coord.Close()
				return fmt.Errorf("%w: %s", domain.ErrUnknownColumn, args[1])
			}
			err = coord.MoveColumn(reorder.ArrayMove(order, from, min(max(index, 0), len(order)-1)))
			coord.Close()
			if err != nil {
				return err
			}
			render(cmd.OutOrStdout(), coord.View())
			return nil
		},
	}
}

func moveCardCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "move-card <boardId> <cardId> <columnId> <index>",
		Short: "Move a card within or across columns",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cardID, target := args[1], args[2]
			index, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			coord, err := o.session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s := coord.Store()
			origin, ok := s.ColumnOf(cardID)
			if !ok {
				coord.Close()
				return fmt.Errorf("%w: %s", domain.ErrUnknownCard, cardID)
			}
			if origin == target {
				from := s.CardIndex(origin, cardID)
				col, _ := s.Column(origin)
				err = coord.MoveCardSameColumn(origin, from, min(max(index, 0), len(col.Cards)-1))
			} else {
				err = coord.MoveCardCrossColumn(cardID, origin, target, index)
			}
			coord.Close()
			if err != nil {
				return err
			}
			render(cmd.OutOrStdout(), coord.View())
			return nil
		},
	}
}

func createBoardCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create-board <boardId> <title>",
		Short: "Create an empty board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.client().CreateBoard(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), b.ID)
			return nil
		},
	}
}

func addColumnCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add-column <boardId> <title>",
		Short: "Append a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := o.client().CreateColumn(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), col.ID)
			return nil
		},
	}
}

func addCardCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add-card <boardId> <columnId> <title>",
		Short: "Append a card to a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			card, err := o.client().CreateCard(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), card.ID)
			return nil
		},
	}
}
