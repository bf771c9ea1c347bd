package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"coil/internal/types"
)

// askCmd runs one prompt without the chat interface
var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Run a single prompt and print the answer",
	Long: `Runs one turn headlessly: streams the answer to stdout as it arrives
and exits when the turn completes. Tool calls are dispatched as usual and
noted on stderr, so the answer on stdout stays pipeable.

Example:
  coil ask "what does the dispatcher in internal/tools do?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")

	rt, err := newRuntime(cfg, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	var turnErr error
	err = rt.driver.Run(ctx, prompt, func(ev types.StreamEvent) {
		switch ev.Kind {
		case types.EventContentDelta:
			fmt.Print(ev.Delta)
		case types.EventToolCall:
			fmt.Fprintf(os.Stderr, "⚙ %s\n", describeToolCall(*ev.ToolCall))
		case types.EventErrored:
			turnErr = errors.New(ev.Err)
		case types.EventCancelled:
			fmt.Fprintln(os.Stderr, "\n⏹ interrupted")
		}
	})
	fmt.Println()
	if err != nil {
		return err
	}
	return turnErr
}
