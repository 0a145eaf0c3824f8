package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"videointerview/internal/app"
	"videointerview/internal/capture"
	"videointerview/internal/device"
	"videointerview/internal/engine"
	"videointerview/internal/interview"
)

var errQuit = errors.New("interview quit")

func runCmd() *cobra.Command {
	var media string
	var chunk int
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an interview in the terminal",
		Long:  "Walks one candidate through the interview. Recordings are read from --media as if it were the camera.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if media == "" {
				return fmt.Errorf("--media required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				dev := device.NewFile(media)
				if chunk > 0 {
					dev.ChunkSize = chunk
				}
				if interval > 0 {
					dev.Interval = interval
				}
				iv, err := ws.Engine.Begin(ctx, dev)
				if err != nil {
					return err
				}
				t := &terminal{in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
				err = t.drive(ctx, iv)
				if errors.Is(err, errQuit) || errors.Is(err, io.EOF) {
					fmt.Fprintln(t.out, "Interview abandoned.")
					return ws.Engine.Abandon(ctx, iv.ID)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&media, "media", "", "media file replayed as the camera")
	cmd.Flags().IntVar(&chunk, "chunk-size", 0, "bytes per recorder chunk")
	cmd.Flags().DurationVar(&interval, "chunk-interval", 0, "delay between recorder chunks")
	return cmd
}

type terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

func (t *terminal) ask(prompt string) (string, error) {
	fmt.Fprintf(t.out, "%s: ", prompt)
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	line := strings.TrimSpace(t.in.Text())
	if strings.EqualFold(line, "q") {
		return "", errQuit
	}
	return line, nil
}

func (t *terminal) drive(ctx context.Context, iv *engine.Interview) error {
	for {
		if err := ctx.Err(); err != nil {
			return errQuit
		}
		v := iv.View()
		switch interview.StepKind(v.Step) {
		case interview.KindIdentity:
			if err := t.identity(ctx, iv, v); err != nil {
				return err
			}
		case interview.KindIntroPlayback, interview.KindQuestionPlayback:
			if err := t.playback(ctx, iv, v); err != nil {
				return err
			}
		case interview.KindQuestionCapture:
			if err := t.capture(ctx, iv, v); err != nil {
				return err
			}
		case interview.KindComplete:
			t.summary(v)
			return nil
		default:
			return fmt.Errorf("unknown step %q", v.Step)
		}
	}
}

func (t *terminal) header(v engine.View) {
	fmt.Fprintf(t.out, "\n== %s ==\n", v.Position.Label)
}

func (t *terminal) identity(ctx context.Context, iv *engine.Interview, v engine.View) error {
	if v.Title != "" {
		fmt.Fprintf(t.out, "%s\n", v.Title)
	}
	t.header(v)
	name, err := t.ask("Full name")
	if err != nil {
		return err
	}
	email, err := t.ask("Email")
	if err != nil {
		return err
	}
	_, err = iv.SubmitIdentity(ctx, name, email)
	var ve *interview.ValidationError
	if errors.As(err, &ve) {
		keys := make([]string, 0, len(ve.Fields))
		for k := range ve.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(t.out, "  %s\n", ve.Fields[k])
		}
		return nil
	}
	return err
}

func (t *terminal) playback(ctx context.Context, iv *engine.Interview, v engine.View) error {
	t.header(v)
	if v.Question != nil {
		fmt.Fprintf(t.out, "%s\n", v.Question.Text)
	}
	fmt.Fprintf(t.out, "Watch: %s\n", v.VideoRef)
	if _, err := t.ask("Press enter when the clip has finished"); err != nil {
		return err
	}
	if !v.Position.ContinueEnabled {
		if _, err := iv.PlaybackEnded(ctx); err != nil {
			return err
		}
	}
	_, err := iv.Continue(ctx)
	return err
}

func (t *terminal) capture(ctx context.Context, iv *engine.Interview, v engine.View) error {
	c := v.Capture
	if c == nil {
		return fmt.Errorf("capture step without a session")
	}
	var err error
	switch c.State {
	case capture.StateAcquiring:
		_, err = iv.AcquireDevice(ctx)
	case capture.StateBlocked:
		fmt.Fprintf(t.out, "Camera unavailable: %s\n", c.DeviceError)
		if _, err := t.ask("Press enter to try again"); err != nil {
			return err
		}
		_, err = iv.AcquireDevice(ctx)
	case capture.StateReady:
		t.header(v)
		if v.Question != nil {
			fmt.Fprintf(t.out, "%s\n", v.Question.Text)
		}
		if _, err := t.ask("Press enter to start recording"); err != nil {
			return err
		}
		_, err = iv.StartRecording(ctx)
	case capture.StateRecording:
		if _, err := t.ask("Recording, press enter to stop"); err != nil {
			return err
		}
		_, err = iv.StopRecording(ctx)
	case capture.StateReviewing:
		fmt.Fprintf(t.out, "Take: %s, %d bytes\n", c.ElapsedText, c.ReviewBytes)
		choice, err := t.ask("[a]ccept or [r]etry")
		if err != nil {
			return err
		}
		switch strings.ToLower(choice) {
		case "a", "accept":
			var rec capture.Receipt
			rec, _, err = iv.Accept(ctx)
			if err == nil {
				if rec.SinkError != "" {
					fmt.Fprintf(t.out, "Answer accepted but not saved: %s\n", rec.SinkError)
				} else {
					fmt.Fprintf(t.out, "Saved %s\n", rec.Name)
				}
			}
			return t.soft(err)
		case "r", "retry":
			_, err = iv.Retry(ctx)
			return t.soft(err)
		}
		return nil
	default:
		return fmt.Errorf("capture is %s", c.State)
	}
	return t.soft(err)
}

// soft prints errors the candidate can recover from and keeps the loop going.
func (t *terminal) soft(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, capture.ErrDeviceAccess),
		errors.Is(err, capture.ErrTooShort),
		errors.Is(err, capture.ErrInvalidCall):
		fmt.Fprintf(t.out, "%v\n", err)
		return nil
	default:
		return err
	}
}

func (t *terminal) summary(v engine.View) {
	name := ""
	if v.Summary != nil {
		name = v.Summary.CandidateName
		fmt.Fprintf(t.out, "\nThank you, %s. %d of %d answers recorded.\n", name, v.Summary.Answered, v.Summary.Total)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(t.out)
	tw.AppendHeader(table.Row{"Question", "File", "Bytes", "Saved"})
	for _, a := range v.Answers {
		saved := "yes"
		if a.SinkError != "" {
			saved = "no: " + a.SinkError
		}
		tw.AppendRow(table.Row{a.QuestionIndex + 1, a.Name, a.SizeBytes, saved})
	}
	tw.Render()
}
