package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/envi"
	"github.com/stevegt/sonarchat/config"
	"github.com/stevegt/sonarchat/core"
	"github.com/stevegt/sonarchat/perplexity"
	"github.com/stevegt/sonarchat/web"
)

// cmdChat is the struct for the chat subcommand.  The chat
// subcommand runs an interactive session on the terminal; plain
// lines are sent as turns and lines starting with a slash are
// commands.
type cmdChat struct{}

type cmdSend struct {
	Message string `short:"m" help:"Message to send instead of reading stdin."`
}

type cmdServe struct {
	Addr  string `default:"localhost:8080" help:"Address to listen on."`
	Watch bool   `short:"w" help:"Reapply the settings file whenever it changes."`
}

type cmdConfig struct{}

type cmdModels struct{}

type cmdTc struct{}

type cmdVersion struct{}

type cmdProfileSave struct {
	Name string `arg:"" help:"Profile name."`
}

type cmdProfileShow struct {
	Name string `arg:"" help:"Profile name."`
}

type cmdProfileLs struct{}

type cmdProfileRm struct {
	Name string `arg:"" help:"Profile name."`
}

type cmdProfile struct {
	Save cmdProfileSave `cmd:"" help:"Save the current settings as a named profile."`
	Show cmdProfileShow `cmd:"" help:"Print a profile as TOML."`
	Ls   cmdProfileLs   `cmd:"" help:"List profiles."`
	Rm   cmdProfileRm   `cmd:"" help:"Remove a profile."`
}

type cliArgs struct {
	Chat     cmdChat       `cmd:"" help:"Chat interactively on the terminal."`
	Config   cmdConfig     `cmd:"" help:"Print the request configuration, or what is wrong with it."`
	Env      string        `default:".env" help:"File of environment variables to load if it exists."`
	Models   cmdModels     `cmd:"" help:"List all available models."`
	Profile  cmdProfile    `cmd:"" help:"Manage saved settings profiles."`
	Profiles string        `help:"Profile database path (default $SONAR_PROFILES or the user config dir)."`
	Send     cmdSend       `cmd:"" help:"Send one message and print the transcript as JSON."`
	Serve    cmdServe      `cmd:"" help:"Serve the browser UI."`
	Settings string        `short:"s" help:"TOML settings file."`
	Tc       cmdTc         `cmd:"" help:"Calculate the token count of stdin."`
	Timeout  time.Duration `default:"120s" help:"Per-request timeout; 0 disables."`
	UseProf  string        `name:"profile-name" short:"p" help:"Start from a saved profile instead of the settings file."`
	Verbose  bool          `short:"v" help:"Show debug and progress information on stderr."`
	Version  cmdVersion    `cmd:"" help:"Show version of sonar."`
}

// CliConfig contains the configuration for sonar's cli
type CliConfig struct {
	// Name is the name of the program
	Name string
	// Description is a short description of the program
	Description string
	// Version is the version of the program
	Version string
	// Exit is the function to call to exit the program
	Exit   func(int)
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewCliConfig returns a new Config struct with default values populated
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "sonar",
		Description: "A terminal and browser client for the Perplexity chat completions API.",
		Version:     core.Version,
		Exit:        func(i int) { os.Exit(i) },
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Cli parses the given arguments and then executes the appropriate
// subcommand.
func Cli(args []string, cliConfig *CliConfig) (rc int, err error) {
	defer Return(&err)

	// capture goadapt stdio
	SetStdio(
		cliConfig.Stdin,
		cliConfig.Stdout,
		cliConfig.Stderr,
	)
	defer SetStdio(nil, nil, nil)

	options := []kong.Option{
		kong.Name(cliConfig.Name),
		kong.Description(cliConfig.Description),
		kong.Exit(cliConfig.Exit),
		kong.Writers(cliConfig.Stdout, cliConfig.Stderr),
		kong.Vars{
			"version": cliConfig.Version,
		},
	}

	var cli cliArgs
	var parser *kong.Kong
	parser, err = kong.New(&cli, options...)
	Ck(err)
	ctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Verbose {
		os.Setenv("DEBUG", "1")
	}

	cmd := ctx.Command()
	Debug("cmd: %s", cmd)

	err = loadEnv(cli.Env)
	Ck(err)

	switch cmd {
	case "version":
		Pf("%s version %s\n", cliConfig.Name, core.Version)
		return 0, nil
	case "models":
		for _, model := range config.ListModels() {
			Pl(model)
		}
		return 0, nil
	case "tc":
		// get content from stdin and emit token count on stdout
		buf, err := io.ReadAll(cliConfig.Stdin)
		Ck(err)
		count, err := core.TokenCount(strings.TrimSpace(string(buf)))
		Ck(err)
		Pf("%d\n", count)
		return 0, nil
	case "profile ls":
		profiles, err := openProfiles(cli.Profiles)
		Ck(err)
		defer profiles.Close()
		names, err := profiles.List()
		Ck(err)
		for _, name := range names {
			Pl(name)
		}
		return 0, nil
	case "profile show <name>":
		profiles, err := openProfiles(cli.Profiles)
		Ck(err)
		defer profiles.Close()
		form, err := profiles.Load(cli.Profile.Show.Name)
		if errors.Is(err, config.ErrNoProfile) {
			Fpf(cliConfig.Stderr, "%v\n", err)
			return 1, nil
		}
		Ck(err)
		err = toml.NewEncoder(cliConfig.Stdout).Encode(form)
		Ck(err)
		return 0, nil
	case "profile rm <name>":
		profiles, err := openProfiles(cli.Profiles)
		Ck(err)
		defer profiles.Close()
		err = profiles.Delete(cli.Profile.Rm.Name)
		if errors.Is(err, config.ErrNoProfile) {
			Fpf(cliConfig.Stderr, "%v\n", err)
			return 1, nil
		}
		Ck(err)
		return 0, nil
	}

	// the remaining commands start from the user's settings
	form, err := initialForm(cli.Settings, cli.UseProf, cli.Profiles)
	Ck(err)
	cfg, buildErr := config.Build(form)
	var verrs config.ValidationErrors
	if buildErr != nil && !errors.As(buildErr, &verrs) {
		Ck(buildErr)
	}

	session := core.NewSession(perplexity.NewClient())
	session.Timeout = cli.Timeout
	if cfg != nil {
		session.Configure(cfg)
	}
	session.SetCredential(envi.String("PERPLEXITY_API_KEY", ""))

	switch cmd {
	case "config":
		if verrs != nil {
			printErrors(cliConfig.Stderr, verrs)
			return 1, nil
		}
		buf, err := json.MarshalIndent(cfg, "", "  ")
		Ck(err)
		Pl(string(buf))
		if cfg.SystemMessage != "" {
			Fpf(cliConfig.Stderr, "system message: %q\n", cfg.SystemMessage)
		}
	case "profile save <name>":
		profiles, err := openProfiles(cli.Profiles)
		Ck(err)
		defer profiles.Close()
		err = profiles.Save(cli.Profile.Save.Name, form)
		if errors.As(err, &verrs) {
			printErrors(cliConfig.Stderr, verrs)
			return 1, nil
		}
		Ck(err)
		Pf("saved profile %s in %s\n", cli.Profile.Save.Name, profiles.Path())
	case "send":
		if verrs != nil {
			printErrors(cliConfig.Stderr, verrs)
			return 1, nil
		}
		msg := cli.Send.Message
		if msg == "" {
			buf, err := io.ReadAll(cliConfig.Stdin)
			Ck(err)
			msg = string(buf)
		}
		if !session.HasCredential() {
			Fpf(cliConfig.Stderr, "no API key: set PERPLEXITY_API_KEY\n")
			return 1, nil
		}
		changed, err := session.Send(context.Background(), msg)
		Ck(err)
		if !changed {
			Fpf(cliConfig.Stderr, "nothing to send\n")
			return 1, nil
		}
		buf, err := json.MarshalIndent(session.Transcript().Messages(), "", "  ")
		Ck(err)
		Pl(string(buf))
	case "chat":
		r := newRepl(session, form, cliConfig.Stdin, cliConfig.Stdout)
		if verrs != nil {
			printErrors(cliConfig.Stdout, verrs)
			Pl("fix the settings with /set, then /apply")
		}
		err = r.run()
		Ck(err)
	case "serve":
		if verrs != nil {
			printErrors(cliConfig.Stderr, verrs)
		}
		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		server := web.NewServer(session, form)
		if cli.Serve.Watch {
			Assert(cli.Settings != "", "--watch needs --settings")
			err = server.Watch(sigCtx, cli.Settings)
			Ck(err)
		}
		Fpf(cliConfig.Stderr, "serving on http://%s\n", cli.Serve.Addr)
		err = server.ListenAndServe(sigCtx, cli.Serve.Addr)
		Ck(err)
	default:
		Fpf(cliConfig.Stderr, "Error: unrecognized command: %s\n", ctx.Command())
		rc = 1
		return
	}

	return
}

// loadEnv loads environment variables from fn if it exists.
// Variables already set are not changed.
func loadEnv(fn string) (err error) {
	if fn == "" {
		return
	}
	_, err = os.Stat(fn)
	if os.IsNotExist(err) {
		return nil
	}
	Debug("loading environment from %s", fn)
	return godotenv.Load(fn)
}

// initialForm returns the named profile if there is one, else the
// settings file if there is one, else the defaults.
func initialForm(settings, profile, profilesPath string) (form config.Form, err error) {
	defer Return(&err)
	switch {
	case profile != "":
		profiles, err := openProfiles(profilesPath)
		Ck(err)
		defer profiles.Close()
		form, err = profiles.Load(profile)
		Ck(err)
	case settings != "":
		form, err = config.LoadForm(settings)
		Ck(err)
	default:
		form = config.Defaults()
	}
	return
}

// openProfiles opens the profile database at path, or at the
// default location if path is empty.
func openProfiles(path string) (profiles *config.Profiles, err error) {
	defer Return(&err)
	if path == "" {
		dir, err := os.UserConfigDir()
		Ck(err)
		path = envi.String("SONAR_PROFILES", filepath.Join(dir, "sonarchat", "profiles.db"))
	}
	err = os.MkdirAll(filepath.Dir(path), 0700)
	Ck(err)
	return config.OpenProfiles(path)
}

func printErrors(w io.Writer, verrs config.ValidationErrors) {
	for _, fe := range verrs {
		Fpf(w, "%s: %s\n", fe.Field, fe.Message)
	}
}
