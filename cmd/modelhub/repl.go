package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/engine"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter"
)

const replHelp = `Commands:
  /reset                 start over, keeping the system prompt
  /history               show the conversation
  /usage                 show token usage
  /save                  save the conversation
  /load <id>             continue a saved conversation
  /list                  list saved conversations
  /image <ref> [text]    send an image (URL, data URI, file or base64) with optional text
  /quit                  exit
Any other line is sent as a message.`

// repl is a line-oriented chat loop over one session at a time.
type repl struct {
	eng    *engine.Engine
	sess   *engine.Session
	in     *bufio.Scanner
	out    io.Writer
	render func(string) string
}

func newREPL(eng *engine.Engine, sess *engine.Session, in io.Reader, out io.Writer, render func(string) string) *repl {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &repl{eng: eng, sess: sess, in: sc, out: out, render: render}
}

var errQuit = errors.New("quit")

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "modelhub: talking to %s (%s). /help for commands.\n", r.sess.Provider(), r.sess.Dialog().Model())

	for {
		fmt.Fprint(r.out, "> ")

		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return r.in.Err()
		}

		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		err := r.handle(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			if hint := errorHint(err); hint != "" {
				fmt.Fprintln(r.out, hint)
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.send(ctx, line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/reset":
		if err := r.sess.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "conversation reset")
	case "/history":
		r.printHistory()
	case "/usage":
		d := r.sess.Dialog()
		fmt.Fprintf(r.out, "conversation: %s\n", fmtUsage(d.Usage()))
		fmt.Fprintf(r.out, "lifetime:     %s\n", fmtUsage(d.LifetimeUsage()))
		fmt.Fprintf(r.out, "next prompt:  ~%s tokens\n", fmtTokens(d.EstimateTokens()))
		if x, err := r.eng.Exchanger(r.sess.Provider()); err == nil {
			if info := modeladapter.RateLimitInfoOf(x); info != nil {
				fmt.Fprintf(r.out, "rate limit:   %d requests, %s tokens remaining\n", info.RemainingRequests, fmtTokens(info.RemainingTokens))
			}
		}
	case "/save":
		if err := r.sess.Save(ctx); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "saved %s\n", r.sess.ID())
	case "/load":
		if arg == "" {
			return fmt.Errorf("usage: /load <id>")
		}
		s, err := r.eng.ResumeSession(ctx, arg, "")
		if err != nil {
			return err
		}
		r.sess = s
		fmt.Fprintf(r.out, "loaded %s (%d messages)\n", s.ID(), len(s.Dialog().History()))
	case "/list":
		return r.list(ctx)
	case "/image":
		ref, text, _ := strings.Cut(arg, " ")
		if ref == "" {
			return fmt.Errorf("usage: /image <url-or-file> [text]")
		}
		img, err := loadImage(ref)
		if err != nil {
			return err
		}
		var parts []content.Part
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, content.Text{Text: text})
		}
		reply, err := r.sess.SendParts(ctx, append(parts, img)...)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, r.render(reply.TextContent()))
	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}

	return nil
}

func (r *repl) send(ctx context.Context, text string) error {
	reply, err := r.sess.Send(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.render(reply))
	return nil
}

func (r *repl) printHistory() {
	for _, m := range r.sess.Dialog().History() {
		line := truncate(m.TextContent(), 80)
		if n := len(m.Images()); n > 0 {
			line += fmt.Sprintf(" [%d image(s)]", n)
		}
		fmt.Fprintf(r.out, "%-9s %s\n", m.Role+":", line)
	}
}

func (r *repl) list(ctx context.Context) error {
	convs, err := r.eng.Conversations(ctx)
	if err != nil {
		return err
	}

	if len(convs) == 0 {
		fmt.Fprintln(r.out, "no saved conversations")
		return nil
	}

	for _, c := range convs {
		fmt.Fprintf(r.out, "%s  %s  %-10s %3d msgs  %s\n",
			c.ID, c.UpdatedAt.Format("2006-01-02 15:04"), c.Provider, c.Messages, truncate(c.Title, 40))
	}

	return nil
}

// errorHint suggests what to do after a failed turn.
func errorHint(err error) string {
	switch {
	case errors.Is(err, modeladapter.ErrUnsupportedContent):
		return "hint: this model does not accept that content; remove images or switch provider"
	case errors.Is(err, modeladapter.ErrBackendUnavailable):
		return "hint: the conversation is unchanged; you can retry the same message"
	case errors.Is(err, modeladapter.ErrMalformedResponse):
		return "hint: the backend replied in an unexpected format; the turn was not recorded"
	default:
		return ""
	}
}
