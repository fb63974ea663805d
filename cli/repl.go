package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/config"
	"github.com/stevegt/sonarchat/core"
	"golang.org/x/term"
)

const replHelp = `Lines are sent as messages.  Commands:
  /set FIELD VALUE    change a field of the settings form (empty VALUE unsets)
  /domain add ENTRY   add a search domain (prefix - to exclude)
  /domain rm ENTRY    remove a search domain
  /apply              validate the form and use it for the next turns
  /reset              restore the form defaults
  /show               show the form and the active configuration
  /token [KEY]        set the API key (prompts if KEY is omitted)
  /tokens             estimate the transcript size in tokens
  /history            show the transcript
  /help               show this help
  /quit               leave`

// repl is an interactive session on a terminal.  The form is the
// draft being edited; it reaches the session only on /apply.
type repl struct {
	session *core.Session
	form    config.Form
	stdin   io.Reader
	in      *bufio.Scanner
	out     io.Writer
}

func newRepl(session *core.Session, form config.Form, stdin io.Reader, out io.Writer) *repl {
	in := bufio.NewScanner(stdin)
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &repl{
		session: session,
		form:    form.Clone(),
		stdin:   stdin,
		in:      in,
		out:     out,
	}
}

// terminal returns the file descriptor of stdin if it is a terminal.
func (r *repl) terminal() (fd int, ok bool) {
	f, isFile := r.stdin.(*os.File)
	if !isFile {
		return 0, false
	}
	fd = int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// readSecret reads a line without echo when stdin is a terminal.
func (r *repl) readSecret(prompt string) (secret string, err error) {
	Fpf(r.out, "%s", prompt)
	if fd, ok := r.terminal(); ok {
		buf, err := term.ReadPassword(fd)
		Fpf(r.out, "\n")
		return strings.TrimSpace(string(buf)), err
	}
	if !r.in.Scan() {
		return "", r.in.Err()
	}
	return strings.TrimSpace(r.in.Text()), nil
}

func (r *repl) run() (err error) {
	defer Return(&err)
	if !r.session.HasCredential() {
		key, err := r.readSecret("Perplexity API key (input hidden, empty to skip): ")
		Ck(err)
		r.session.SetCredential(key)
	}
	Fpf(r.out, "Type /help for commands.\n")
	for {
		Fpf(r.out, "> ")
		if !r.in.Scan() {
			Fpf(r.out, "\n")
			return r.in.Err()
		}
		line := r.in.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "/") {
			quit, err := r.command(strings.TrimSpace(line))
			Ck(err)
			if quit {
				return nil
			}
			continue
		}
		r.send(line)
	}
}

func (r *repl) send(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	switch {
	case r.session.Config() == nil:
		Fpf(r.out, "no configuration applied; use /apply\n")
		return
	case !r.session.HasCredential():
		Fpf(r.out, "no API key; use /token\n")
		return
	}
	Fpf(r.out, "...\n")
	changed, err := r.session.Send(context.Background(), line)
	if err != nil {
		Fpf(r.out, "%v\n", err)
		return
	}
	if !changed {
		return
	}
	last, _ := r.session.Transcript().Last()
	Fpf(r.out, "%s\n", core.Render(last).Body)
}

// command runs one slash command.  It returns true on /quit.
func (r *repl) command(line string) (quit bool, err error) {
	defer Return(&err)
	args, err := shlex.Split(line)
	if err != nil {
		Fpf(r.out, "cannot parse command: %v\n", err)
		return false, nil
	}
	if len(args) == 0 {
		return
	}
	Debug("command: %q", args)
	switch args[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		Fpf(r.out, "%s\n", replHelp)
	case "/set":
		if len(args) < 2 {
			Fpf(r.out, "usage: /set FIELD VALUE\nfields: %s\n", strings.Join(config.Fields(), ", "))
			return
		}
		err = r.form.Set(args[1], strings.Join(args[2:], " "))
		if err != nil {
			Fpf(r.out, "%v\n", err)
			return false, nil
		}
		Fpf(r.out, "%s set; /apply to use it\n", args[1])
	case "/domain":
		if len(args) != 3 || (args[1] != "add" && args[1] != "rm") {
			Fpf(r.out, "usage: /domain add|rm ENTRY\n")
			return
		}
		var changed bool
		if args[1] == "add" {
			changed = r.form.SearchDomainFilter.Add(args[2])
		} else {
			changed = r.form.SearchDomainFilter.Remove(args[2])
		}
		if !changed {
			Fpf(r.out, "unchanged; ")
		}
		var shown []string
		for _, e := range r.form.SearchDomainFilter {
			if config.IsExclusion(e) {
				e += " (excluded)"
			}
			shown = append(shown, e)
		}
		Fpf(r.out, "search_domain_filter: [%s]\n", strings.Join(shown, ", "))
		if r.form.SearchDomainFilter.Full() {
			Fpf(r.out, "filter is full (%d entries)\n", config.MaxDomains)
		}
	case "/apply":
		cfg, err := config.Build(r.form)
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			printErrors(r.out, verrs)
			return false, nil
		}
		Ck(err)
		r.session.Configure(cfg)
		Fpf(r.out, "configuration applied\n")
		if r.session.SystemMessageStale() {
			Fpf(r.out, "warning: %s\n", core.StaleSystemMessage)
		}
	case "/reset":
		r.form = config.Defaults()
		Fpf(r.out, "form reset to defaults; /apply to use it\n")
	case "/show":
		Fpf(r.out, "# form\n")
		err = toml.NewEncoder(r.out).Encode(r.form)
		Ck(err)
		cfg := r.session.Config()
		if cfg == nil {
			Fpf(r.out, "# no configuration applied\n")
			return
		}
		Fpf(r.out, "# active configuration\n")
		err = toml.NewEncoder(r.out).Encode(cfg.Form())
		Ck(err)
		buf, err := json.MarshalIndent(cfg, "", "  ")
		Ck(err)
		Fpf(r.out, "# request parameters\n%s\n", string(buf))
		if r.session.SystemMessageStale() {
			Fpf(r.out, "# %s\n", core.StaleSystemMessage)
		}
	case "/token":
		key := ""
		if len(args) > 1 {
			key = args[1]
		} else {
			key, err = r.readSecret("Perplexity API key (input hidden): ")
			Ck(err)
		}
		r.session.SetCredential(key)
		if key == "" {
			Fpf(r.out, "API key cleared\n")
		} else {
			Fpf(r.out, "API key set\n")
		}
	case "/tokens":
		count, err := core.TranscriptTokens(r.session.Transcript())
		Ck(err)
		limit := 0
		if cfg := r.session.Config(); cfg != nil {
			limit = cfg.TokenLimit()
		}
		Fpf(r.out, "%d tokens in transcript (model limit %d)\n", count, limit)
	case "/history":
		for _, msg := range core.RenderTranscript(r.session.Transcript()) {
			Fpf(r.out, "[%s]\n%s\n\n", msg.Role, msg.Body)
		}
	default:
		Fpf(r.out, "unknown command %s; try /help\n", args[0])
	}
	return
}
