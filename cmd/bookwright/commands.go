package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/bookwright"
	"github.com/aixgo-dev/bookwright/internal/pipeline"
	"github.com/aixgo-dev/bookwright/internal/story"
	"github.com/aixgo-dev/bookwright/pkg/security"
)

var (
	sessionID      string
	firstInput     string
	nonInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new book session",
	Long: `Start a new book session. The pipeline asks clarifying questions until it
has enough to plan the book; answer them at the prompt, or pass
--non-interactive and answer later with "bookwright resume".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionID != "" {
			if err := security.ValidateSessionID(sessionID); err != nil {
				return err
			}
		}
		input := ""
		if firstInput != "" {
			var err error
			if input, err = security.CleanHumanInput(firstInput); err != nil {
				return err
			}
		}

		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)

		out, err := app.Controller.Start(cmd.Context(), pipeline.StartOptions{ID: sessionID, Input: input})
		if err != nil {
			return describeFailure(out, err)
		}
		fmt.Printf("Session %s\n", out.SessionID)
		return converse(cmd.Context(), app, out)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id> [answer...]",
	Short: "Answer a waiting session and continue it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if err := security.ValidateSessionID(id); err != nil {
			return err
		}

		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)

		if len(args) == 1 {
			st, err := app.Controller.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			if st.Status != story.StatusSuspended {
				return fmt.Errorf("%w: %s is %s", pipeline.ErrNotSuspended, id, st.Status)
			}
			return converse(cmd.Context(), app, &pipeline.Outcome{
				SessionID: id,
				Status:    st.Status,
				Step:      pipeline.Step(st.Step),
				Question:  pipeline.PendingQuestion(st),
			})
		}

		answer, err := security.CleanHumanInput(strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		out, err := app.Controller.Resume(cmd.Context(), id, answer)
		if err != nil {
			return describeFailure(out, err)
		}
		return converse(cmd.Context(), app, out)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show one session, or list all sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)

		if len(args) == 1 {
			st, err := app.Controller.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printState(os.Stdout, st)
			return nil
		}

		states, err := app.Store.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tSTEP\tCHAPTERS\tUPDATED")
		for _, st := range states {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", st.ID, st.Status, st.Step,
				len(st.ApprovedContent), st.PlannedChapters(), st.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <session-id>",
	Short: "Write the documents of a completed session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)

		paths, err := app.Publish(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printPaths(paths)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete abandoned sessions once, using the retention settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)

		pruner, err := app.Pruner()
		if err != nil {
			return err
		}
		n, err := pruner.Prune(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d sessions\n", n)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API, metrics and scheduled pruning",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)
		return app.Serve(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&sessionID, "id", "", "Session ID (generated when empty)")
	runCmd.Flags().StringVarP(&firstInput, "input", "i", "", "Describe the book up front")
	runCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Stop at the first question instead of prompting")
	resumeCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Stop at the next question instead of prompting")
}

// converse answers questions at the terminal until the session completes,
// then writes its documents.
func converse(ctx context.Context, app *bookwright.App, out *pipeline.Outcome) error {
	var line *liner.State
	defer func() {
		if line != nil {
			_ = line.Close()
		}
	}()

	for out.Status == story.StatusSuspended {
		fmt.Printf("\n%s\n", out.Question)
		if nonInteractive {
			fmt.Printf("\nAnswer with: bookwright resume %s \"<answer>\"\n", out.SessionID)
			return nil
		}
		if line == nil {
			line = liner.NewLiner()
			line.SetCtrlCAborts(true)
		}

		answer, err := prompt(line)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Printf("\nSession %s saved; continue with: bookwright resume %s\n", out.SessionID, out.SessionID)
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Println("Working...")
		next, err := app.Controller.Resume(ctx, out.SessionID, answer)
		if err != nil {
			return describeFailure(next, err)
		}
		out = next
	}

	if line != nil {
		_ = line.Close()
		line = nil
	}
	paths, err := app.PublishDocuments(out.Documents)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s completed\n", out.SessionID)
	printPaths(paths)
	return nil
}

// prompt reads one non-blank answer.
func prompt(line *liner.State) (string, error) {
	for {
		answer, err := line.Prompt("> ")
		if err != nil {
			return "", err
		}
		cleaned, err := security.CleanHumanInput(answer)
		if err != nil {
			fmt.Println(err)
			continue
		}
		line.AppendHistory(cleaned)
		return cleaned, nil
	}
}

func describeFailure(out *pipeline.Outcome, err error) error {
	if out != nil && out.Status == story.StatusFailed {
		return fmt.Errorf("session %s failed at %s: %w", out.SessionID, out.Step, err)
	}
	return err
}

func printState(w io.Writer, st *story.State) {
	fmt.Fprintf(w, "Session:  %s\n", st.ID)
	fmt.Fprintf(w, "Status:   %s\n", st.Status)
	fmt.Fprintf(w, "Step:     %s\n", st.Step)
	if st.Outline.Title != "" {
		fmt.Fprintf(w, "Title:    %s\n", st.Outline.Title)
	}
	fmt.Fprintf(w, "Chapters: %d approved of %d planned\n", len(st.ApprovedContent), st.PlannedChapters())
	if st.TranslatedChapter > 0 {
		fmt.Fprintf(w, "Translated: %d\n", st.TranslatedChapter)
	}
	if q := pipeline.PendingQuestion(st); q != "" {
		fmt.Fprintf(w, "Question: %s\n", q)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", security.RedactSecrets(st.Error))
	}
	fmt.Fprintf(w, "Updated:  %s\n", st.UpdatedAt.Local().Format(time.DateTime))
}

func printPaths(paths []string) {
	for _, p := range paths {
		fmt.Printf("Wrote %s\n", p)
	}
}

func closeApp(app *bookwright.App) {
	if err := app.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: close store:", err)
	}
}
