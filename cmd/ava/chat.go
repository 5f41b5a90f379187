package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/ava/internal/app"
	"github.com/ent0n29/ava/internal/assistant"
	"github.com/ent0n29/ava/internal/memory"
)

const clearScreen = "\033[H\033[2J"

type chatOptions struct {
	noClear  bool
	session  string
	tools    bool
	logLevel string
}

func newChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(opts.logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			res, err := app.Build(cmd.Context(), cfg, app.Options{
				Tools:    opts.tools,
				ResumeID: opts.session,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer func() { _ = res.Cleanup() }()

			if res.Warning != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Warning:", res.Warning)
			}
			return runChat(cmd.Context(), res.Loop, cmd.InOrStdin(), cmd.OutOrStdout(), opts.noClear)
		},
	}
	cmd.Flags().BoolVar(&opts.noClear, "no-clear", false, "print replies inline instead of redrawing the transcript")
	cmd.Flags().StringVar(&opts.session, "session", "", "resume a stored session by id")
	cmd.Flags().BoolVar(&opts.tools, "tools", false, "let the assistant use the calculator and wikipedia tools")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level for the chat session")
	return cmd
}

// runChat reads one line per turn until exit, quit or EOF. Turn errors are printed and
// the loop continues.
func runChat(ctx context.Context, loop *assistant.Loop, in io.Reader, out io.Writer, noClear bool) error {
	st := loop.State()
	if len(st.Messages) > 0 && !noClear {
		printTranscript(out, st.Title, st.Messages, true)
	} else {
		fmt.Fprintf(out, "AVA (%s). Type 'exit' or 'quit' to leave.\n", st.Title)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isQuit(line) {
			return nil
		}

		reply, err := loop.Submit(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintln(out, "Error:", err)
			continue
		}

		if noClear {
			fmt.Fprintln(out, "AI:", reply.Text)
		} else {
			st := loop.State()
			printTranscript(out, st.Title, st.Messages, true)
		}
		if reply.Warning != "" {
			fmt.Fprintln(out, "Warning:", reply.Warning)
		}
	}
}

func isQuit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit":
		return true
	}
	return false
}

func printTranscript(out io.Writer, title string, msgs []memory.Message, clear bool) {
	if clear && out == io.Writer(os.Stdout) {
		fmt.Fprint(out, clearScreen)
	}
	fmt.Fprintf(out, "== %s ==\n", title)
	for _, m := range msgs {
		switch m.Role {
		case memory.RoleUser:
			fmt.Fprintln(out, "You:", m.Content)
		case memory.RoleAssistant:
			fmt.Fprintln(out, "AI:", m.Content)
		}
	}
}
