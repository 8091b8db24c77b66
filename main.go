package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/go-authgate/authsession/config"
	"github.com/go-authgate/authsession/display"
	"github.com/go-authgate/authsession/session"
)

var (
	flagConfigFile  *string
	flagEnvironment *string
	flagServerURL   *string
	flagStorage     *string
	flagTokenFile   *string
	flagNamespace   *string
	flagRedisAddr   *string
	flagLogLevel    *string
	flagQuiet       *bool
)

// errUsage marks invalid command lines.
var errUsage = errors.New("invalid usage")

// Exit codes.
const (
	exitError        = 1
	exitUsage        = 2
	exitAuthRequired = 3
)

func init() {
	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagConfigFile = flag.String("config", "", "YAML config file (or CONFIG_FILE env)")
	flagEnvironment = flag.String("env", "", "Deployment environment used to pick an endpoint (or ENVIRONMENT env)")
	flagServerURL = flag.String(
		"server-url",
		"",
		"Backend URL, overrides the endpoint table (or SERVER_URL env)",
	)
	flagStorage = flag.String(
		"storage",
		"",
		"Credential storage: memory, file, redis or sqlite (default: file or STORAGE_DRIVER env)",
	)
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Token storage file (default: "+config.DefaultTokenFile+" or TOKEN_FILE env)",
	)
	flagNamespace = flag.String("namespace", "", "Session namespace within the storage (or SESSION_NAMESPACE env)")
	flagRedisAddr = flag.String("redis-addr", "", "Redis address for redis storage (or REDIS_ADDR env)")
	flagLogLevel = flag.String("log-level", "", "Log level: debug, info, warn, error (or LOG_LEVEL env)")
	flagQuiet = flag.Bool("quiet", false, "Suppress progress output")
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] <command> [args]\n\n", os.Args[0])
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  login <email> [password]   log in (password falls back to PASSWORD env)")
	fmt.Fprintln(out, "  status                     show the stored session")
	fmt.Fprintln(out, "  call [method] <path> [body] send an authenticated request, body to stdout")
	fmt.Fprintln(out, "  profile                    fetch the current user's profile")
	fmt.Fprintln(out, "  logout                     remove stored credentials")
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	// Priority: flag > env > config file > default
	cfg, err := config.Load(config.Flags{
		ConfigFile:  *flagConfigFile,
		Environment: *flagEnvironment,
		ServerURL:   *flagServerURL,
		Storage:     *flagStorage,
		TokenFile:   *flagTokenFile,
		Namespace:   *flagNamespace,
		RedisAddr:   *flagRedisAddr,
		LogLevel:    *flagLogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUsage)
	}
	log := config.NewLogger(cfg.Logging, os.Stderr)

	var d display.Displayer = display.NewPlainDisplayer(os.Stderr)
	if *flagQuiet {
		d = display.NoopDisplayer{}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, flag.Args(), d, log, os.Stdout)
	stop()
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
		} else {
			d.Fatal(err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return exitUsage
	case session.IsAuthenticationRequired(err):
		return exitAuthRequired
	default:
		return exitError
	}
}

func run(
	ctx context.Context,
	cfg *config.Config,
	args []string,
	d display.Displayer,
	log zerolog.Logger,
	stdout io.Writer,
) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	endpoint, err := cfg.Endpoint()
	if err != nil {
		return err
	}
	if endpoint.Insecure() {
		log.Warn().
			Str("base_url", endpoint.BaseURL).
			Msg("using HTTP instead of HTTPS, tokens will be transmitted in plaintext")
	}

	a, err := newApp(ctx, cfg, endpoint, d, log)
	if err != nil {
		return err
	}
	defer a.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "status":
		return a.status(ctx)
	case "call":
		return a.call(ctx, rest, stdout)
	case "profile":
		return a.profile(ctx, stdout)
	case "logout":
		return a.logout(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: login <email> [password]", errUsage)
	}
	email := args[0]
	password := os.Getenv("PASSWORD")
	if len(args) == 2 {
		password = args[1]
	}
	if password == "" {
		return fmt.Errorf("%w: password not set, pass it as an argument or via PASSWORD", errUsage)
	}

	result, err := a.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	shown := gjson.GetBytes(result.Profile, "email").String()
	if shown == "" {
		shown = email
	}
	a.display.LoggedIn(shown)
	return nil
}

func (a *app) status(ctx context.Context) error {
	st, claims, present := a.client.Status(ctx)
	if !present {
		a.display.NoSession()
		return nil
	}
	accessToken, _ := a.store.Access(ctx)
	a.display.SessionStatus(st, claims, display.Preview(accessToken))

	if profile, ok := a.client.CachedProfile(ctx); ok {
		if email := gjson.GetBytes(profile, "email"); email.Exists() {
			a.log.Info().Str("email", email.String()).Msg("cached profile")
		}
	}
	return nil
}

func (a *app) call(ctx context.Context, args []string, stdout io.Writer) error {
	req := session.Request{Method: http.MethodGet}
	switch len(args) {
	case 1:
		req.Path = args[0]
	case 2, 3:
		req.Method = strings.ToUpper(args[0])
		req.Path = args[1]
		if len(args) == 3 {
			req.Body = []byte(args[2])
			req.Header = http.Header{"Content-Type": []string{"application/json"}}
		}
	default:
		return fmt.Errorf("%w: call [method] <path> [body]", errUsage)
	}
	if !strings.HasPrefix(req.Path, "/") {
		req.Path = "/" + req.Path
	}

	resp, err := a.client.Send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	n, err := io.Copy(stdout, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	a.display.Response(resp.StatusCode, int(n))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}

func (a *app) profile(ctx context.Context, stdout io.Writer) error {
	profile, err := a.client.CurrentProfile(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(profile))
	return err
}

func (a *app) logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	a.display.LoggedOut()
	return nil
}
