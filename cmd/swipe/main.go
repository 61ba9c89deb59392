package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/swipe/internal/credential"
	"github.com/nhle/swipe/internal/logging"
	"github.com/nhle/swipe/internal/model"
	"github.com/nhle/swipe/internal/relay"
	"github.com/nhle/swipe/internal/source"
	"github.com/nhle/swipe/internal/source/clickup"
	appsync "github.com/nhle/swipe/internal/sync"
	"github.com/nhle/swipe/internal/ui/swipe"
)

const usage = `usage: swipe <command> [flags]

commands:
  relay     serve the relay
  produce   fetch the inbox and push it to the relay (SIGHUP syncs now)
  inbox     triage the relay snapshot in the terminal
  login     store a session token in the keyring
  logout    remove the stored session token
  token     show the decoded session token
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "relay":
		err = runRelay(ctx, args)
	case "produce":
		err = runProduce(ctx, args)
	case "inbox":
		err = runInbox(ctx, args)
	case "login":
		err = runLogin(args)
	case "logout":
		err = runLogout(args)
	case "token":
		err = runToken(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if source.IsAuthError(err) {
			fmt.Fprintln(os.Stderr, "sign in again with: swipe login")
		}
		os.Exit(1)
	}
}

// commonFlags registers the flags every command shares and returns the
// loaded config once fs has been parsed.
func commonFlags(fs *flag.FlagSet) func() (*model.AppConfig, error) {
	path := fs.String("config", model.DefaultConfigPath(), "config file")
	return func() (*model.AppConfig, error) {
		return model.LoadConfig(*path)
	}
}

func parse(fs *flag.FlagSet, args []string) (*model.AppConfig, error) {
	load := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return load()
}

func runRelay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	load := commonFlags(fs)
	addr := fs.String("addr", "", "listen address (overrides relay.addr)")
	origins := fs.String("origins", "", "comma-separated websocket origin patterns")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}

	logger := logging.New(cfg.Log, os.Stderr)

	store, err := relay.Open(cfg.Relay, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	src := clickup.New(cfg.ClickUp, nil, logger)
	coord := appsync.NewCoordinator(src, store, cfg.Producer.Concurrency, logger)

	opts := []relay.Option{relay.WithMaxBodyBytes(cfg.Relay.MaxBodyBytes)}
	if *origins != "" {
		opts = append(opts, relay.WithOriginPatterns(strings.Split(*origins, ",")...))
	}
	srv := relay.NewServer(store, coord, logger, opts...)

	logger.Info().Str("backend", cfg.Relay.Backend).Msg("relay store ready")
	return srv.Start(ctx, cfg.Relay.Addr)
}

func runProduce(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("produce", flag.ExitOnError)
	load := commonFlags(fs)
	once := fs.Bool("once", false, "run one cycle and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Log, os.Stderr)
	creds := credential.NewStore(jarFromEnv(cfg.ClickUp), cfg.ClickUp.Domain, cfg.ClickUp.CookieName)
	src := clickup.New(cfg.ClickUp, nil, logger)
	client := relay.NewClient(cfg.Relay.URL, nil)
	poller := appsync.NewPoller(creds, src, client, cfg.ClickUp, cfg.Producer.PollInterval(), logger)

	if *once {
		res, err := poller.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pushed %d notifications (%d pages, partial=%t)\n", res.Count, res.Pages, res.Partial)
		return nil
	}

	poller.Start(ctx)
	defer poller.Stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			poller.Refresh()
		case res := <-poller.Results():
			if res.AuthError {
				logger.Warn().Msg("session needs a new sign-in; waiting for the next cycle")
			}
		}
	}
}

func runInbox(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	load := commonFlags(fs)
	watch := fs.Bool("watch", true, "refresh on relay change events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := load()
	if err != nil {
		return err
	}

	client := relay.NewClient(cfg.Relay.URL, nil)
	inbox := appsync.NewInbox(client)

	var opts []swipe.Option
	if *watch {
		events, err := client.Watch(ctx)
		if err == nil {
			opts = append(opts, swipe.WithEvents(events))
		}
	}

	m := swipe.New(inbox, cfg.Display.PollInterval(), opts...)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	load := commonFlags(fs)
	workspace := fs.String("workspace", "", "pin this workspace id in the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := load()
	if err != nil {
		return err
	}

	var token string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Session token").
				Description("Value of the " + cfg.ClickUp.CookieName + " cookie for " + cfg.ClickUp.Domain).
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("token is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	info := credential.Decode(token, time.Now())
	if err := credential.CheckUsable(info); err != nil {
		return err
	}

	jar := credential.NewKeyringJar()
	if err := jar.SetCookie(cfg.ClickUp.Domain, cfg.ClickUp.CookieName, token); err != nil {
		return err
	}

	fmt.Printf("token stored (expires in %s)\n", info.FormatHours())

	if *workspace != "" {
		cfg.ClickUp.WorkspaceID = *workspace
		path := fs.Lookup("config").Value.String()
		if err := model.SaveConfig(path, cfg); err != nil {
			return err
		}
		fmt.Printf("workspace %s saved to %s\n", *workspace, path)
	}
	return nil
}

func runLogout(args []string) error {
	cfg, err := parse(flag.NewFlagSet("logout", flag.ExitOnError), args)
	if err != nil {
		return err
	}
	return credential.NewKeyringJar().DeleteCookie(cfg.ClickUp.Domain, cfg.ClickUp.CookieName)
}

func runToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	load := commonFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := load()
	if err != nil {
		return err
	}

	store := credential.NewStore(jarFromEnv(cfg.ClickUp), cfg.ClickUp.Domain, cfg.ClickUp.CookieName)
	_, info, err := store.GetCredential(ctx)
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Println("token present but cannot be decoded")
		return nil
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	printInfo(os.Stdout, info)
	return nil
}

func printInfo(w io.Writer, info *credential.Info) {
	fmt.Fprintf(w, "subject:    %s\n", info.SubjectID)
	if info.WorkspaceKey != "" {
		fmt.Fprintf(w, "workspace:  %s\n", info.WorkspaceKey)
	}
	if info.IssuedAt != nil {
		fmt.Fprintf(w, "issued:     %s\n", info.IssuedAt.Local().Format(time.RFC1123))
	}
	if info.ExpiresAt != nil {
		fmt.Fprintf(w, "expires:    %s (%s)\n", info.ExpiresAt.Local().Format(time.RFC1123), info.FormatHours())
	}
	fmt.Fprintf(w, "expired:    %t\n", info.IsExpired)
}

// jarFromEnv prefers a token in SWIPE_TOKEN over the keyring.
func jarFromEnv(cfg model.ClickUpConfig) credential.Jar {
	if token := strings.TrimSpace(os.Getenv("SWIPE_TOKEN")); token != "" {
		jar := credential.StaticJar{}
		jar.Set(cfg.Domain, cfg.CookieName, token)
		return jar
	}
	return credential.NewKeyringJar()
}
