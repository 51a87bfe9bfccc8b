// Command pushctl drives the push preference controller from a terminal. It
// keeps the tr.push cookie and the device state under PUSH_STATE_DIR so
// separate invocations behave like one long browser session.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vssdeo/trustroots/internal/client"
	"github.com/vssdeo/trustroots/internal/messaging"
	"github.com/vssdeo/trustroots/internal/notifier"
	"github.com/vssdeo/trustroots/internal/preference"
	"github.com/vssdeo/trustroots/pkg/push"
	"github.com/vssdeo/trustroots/pushclient"
)

const usage = `usage: pushctl <status|enable|disable|init|rotate|listen>

  status   show preference, permission and registrations
  enable   ask for permission if needed and register this device
  disable  unregister this device and clear the preference
  init     re-register if push was left on (never prompts)
  rotate   init, then replace the device token and re-register it
  listen   init, then show every JSON message read from stdin`

type env struct {
	APIURL      string
	APIToken    string
	StateDir    string
	DeviceToken string
	DefaultIcon string
	AutoGrant   bool
}

func loadEnv() (env, error) {
	_ = godotenv.Load()

	e := env{
		APIURL:      os.Getenv("PUSH_API_URL"),
		APIToken:    os.Getenv("PUSH_API_TOKEN"),
		StateDir:    os.Getenv("PUSH_STATE_DIR"),
		DeviceToken: os.Getenv("PUSH_DEVICE_TOKEN"),
		DefaultIcon: os.Getenv("PUSH_DEFAULT_ICON"),
	}
	if val := os.Getenv("PUSH_AUTO_GRANT"); val != "" {
		e.AutoGrant, _ = strconv.ParseBool(val)
	}
	if e.APIURL == "" {
		e.APIURL = "http://localhost:8082"
	}
	if e.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return e, fmt.Errorf("no PUSH_STATE_DIR and no home directory: %w", err)
		}
		e.StateDir = filepath.Join(home, ".trustroots-push")
	}
	return e, nil
}

func main() {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], logger); err != nil {
		logger.Error("Command failed", "cmd", os.Args[1], "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, logger *slog.Logger) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(e.StateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	site, err := url.Parse(e.APIURL)
	if err != nil {
		return fmt.Errorf("invalid PUSH_API_URL: %w", err)
	}
	jar, err := preference.NewFileJar(filepath.Join(e.StateDir, "cookies.yaml"))
	if err != nil {
		return err
	}
	api := client.New(e.APIURL,
		client.WithHTTPClient(&http.Client{Jar: jar, Timeout: 15 * time.Second}),
		client.WithBearerToken(e.APIToken),
		client.WithLogger(logger),
	)

	hub, err := messaging.NewHub(messaging.Config{
		StatePath:   filepath.Join(e.StateDir, "device.yaml"),
		DeviceToken: e.DeviceToken,
		AutoGrant:   e.AutoGrant,
		PromptFn:    promptPermission,
	}, logger)
	if err != nil {
		return err
	}

	user, err := api.Me(ctx)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	prefs := preference.NewCookieStore(jar, site)
	controller := pushclient.New(pushclient.Config{
		Platform:    push.PlatformWeb,
		DefaultIcon: e.DefaultIcon,
	}, pushclient.Deps{
		Messaging:   hub,
		Notifier:    notifier.NewLogNotifier(logger),
		API:         api,
		Preferences: prefs,
		User:        user,
	}, logger)

	switch cmd {
	case "status":
		token := hub.Token()
		current := controller.User()
		fmt.Printf("supported:     %t\n", controller.IsSupported())
		fmt.Printf("preference:    %t\n", prefs.Enabled())
		fmt.Printf("permission:    %t\n", hub.PermissionGranted())
		fmt.Printf("registered:    %t\n", token != "" && current.HasRegistration(token))
		fmt.Printf("registrations: %d\n", len(current.PushRegistrations))
		for _, r := range current.PushRegistrations {
			fmt.Printf("  %s %s %s\n", r.Platform, r.Token, r.Created.Format(time.RFC3339))
		}
		return nil
	case "enable":
		if err := controller.Enable(ctx); err != nil {
			return err
		}
		fmt.Println("push notifications enabled")
	case "disable":
		if err := controller.Disable(ctx); err != nil {
			return err
		}
		fmt.Println("push notifications disabled")
	case "init":
		if err := initialize(ctx, controller, hub); err != nil {
			return err
		}
		fmt.Printf("enabled: %t\n", controller.IsEnabled())
	case "rotate":
		if err := initialize(ctx, controller, hub); err != nil {
			return err
		}
		token, err := hub.RotateToken()
		if err != nil {
			return err
		}
		fmt.Printf("token:   %s\nenabled: %t\n", token, controller.IsEnabled())
	case "listen":
		if err := initialize(ctx, controller, hub); err != nil {
			return err
		}
		if err := listen(ctx, hub, logger); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	return jar.Save()
}

// initialize runs the controller's start-up registration once per device
// state; later runs only subscribe the handlers.
func initialize(ctx context.Context, controller *pushclient.Controller, hub *messaging.Hub) error {
	if err := controller.Init(ctx); err != nil {
		return err
	}
	return hub.MarkInitialized()
}

// listen feeds one push.Message per stdin line to the hub until EOF or ctx
// is cancelled.
func listen(ctx context.Context, hub *messaging.Hub, logger *slog.Logger) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var msg push.Message
			if err := json.Unmarshal([]byte(line), &msg); err != nil {
				logger.Warn("Ignoring malformed message", "err", err)
				continue
			}
			hub.Deliver(msg)
		}
	}
}

func promptPermission(ctx context.Context) (bool, error) {
	fmt.Fprint(os.Stderr, "Allow Trustroots to show notifications? [y/N] ")
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && answer == "" {
		// No terminal to ask; treat as a refusal.
		return false, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", ctx.Err()
}
