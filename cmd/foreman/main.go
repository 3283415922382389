// Package main provides foreman - a supervisor for dedicated game servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/umputun/foreman/pkg/config"
	"github.com/umputun/foreman/pkg/console"
	"github.com/umputun/foreman/pkg/gamelog"
	"github.com/umputun/foreman/pkg/launcher"
	"github.com/umputun/foreman/pkg/notify"
	"github.com/umputun/foreman/pkg/saves"
	"github.com/umputun/foreman/pkg/supervisor"
	"github.com/umputun/foreman/pkg/web"
)

// opts holds all command-line options.
type opts struct {
	ConfigDir string `long:"config" description:"config directory (default ~/.config/foreman)"`
	Command   string `long:"command" description:"server binary path, overrides config"`
	WriteDir  string `long:"write-dir" description:"server write directory, overrides config"`
	Changelog string `long:"changelog" description:"changelog file used for version detection, overrides config"`
	Save      string `long:"save" description:"save file to load, empty loads the latest"`
	Port      int    `short:"p" long:"port" description:"game server port, 0 picks an ephemeral one"`
	Serve     bool   `short:"s" long:"serve" description:"start web status server"`
	ServePort int    `long:"serve-port" default:"8080" description:"web status server port"`
	NoColor   bool   `long:"no-color" description:"disable color output"`
	Version   bool   `short:"v" long:"version" description:"print version and exit"`
}

var revision = "unknown"

// notifyTimeout bounds each outbound notification delivery.
const notifyTimeout = 10 * time.Second

func main() {
	fmt.Printf("foreman %s\n", revision)

	var o opts
	parser := flags.NewParser(&o, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if o.Version {
		os.Exit(0)
	}

	// setup context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	cfg, err := config.Load(o.ConfigDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, o)

	if cfg.GameCommand == "" {
		return errors.New("game_command not configured, set it in the config file or pass --command")
	}
	if cfg.WriteDir == "" {
		return errors.New("write_dir not configured")
	}
	if cfg.Changelog == "" {
		return errors.New("changelog not configured, version detection needs it")
	}

	// colors come from config with embedded defaults fallback, all populated
	colors := console.NewColors(console.ColorConfig{
		Info:      cfg.Colors.Info,
		Warning:   cfg.Colors.Warning,
		Error:     cfg.Colors.Error,
		Script:    cfg.Colors.Script,
		Action:    cfg.Colors.Action,
		Chat:      cfg.Colors.Chat,
		State:     cfg.Colors.State,
		Timestamp: cfg.Colors.Timestamp,
	})

	logger, err := console.NewLogger(console.Config{LogFile: consoleLogPath(cfg), NoColor: o.NoColor}, colors)
	if err != nil {
		return fmt.Errorf("create console logger: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close console log: %v\n", closeErr)
		}
	}()

	sup := supervisor.New(supervisor.Config{WriteDir: cfg.WriteDir, Changelog: cfg.Changelog})
	if err := sup.Init(ctx); err != nil {
		return fmt.Errorf("init supervisor: %w", err)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // ports and rcon password don't need crypto randomness
	gamePort := o.Port
	if gamePort == 0 {
		gamePort = supervisor.Port(rnd)
	}
	var rconPort int
	var rconPassword string
	if cfg.RconEnabled {
		rconPort = supervisor.Port(rnd)
		rconPassword = supervisor.Password(rnd, cfg.PasswordLength)
	}

	notifier := notify.New(cfg.NotifyURLs)
	subscribeConsole(sup, logger)
	subscribeNotifications(ctx, sup, notifier, logger)

	// watch the saves directory for completed autosaves
	watcher, err := saves.NewWatcher(sup.WritePath("saves"), sup.Bus())
	if err != nil {
		return fmt.Errorf("create saves watcher: %w", err)
	}
	go func() {
		if watchErr := watcher.Start(ctx); watchErr != nil && ctx.Err() == nil {
			logger.Warn("saves watcher stopped: %v", watchErr)
		}
	}()

	l := launcher.New(launcher.Config{
		Command:      cfg.GameCommand,
		Args:         splitArgs(cfg.GameArgs),
		Save:         cfg.Save,
		Port:         gamePort,
		RconPort:     rconPort,
		RconPassword: rconPassword,
	}, sup)

	if o.Serve {
		srv := web.NewServer(web.Config{Port: o.ServePort, GamePort: gamePort}, sup, l)
		go func() {
			if srvErr := srv.Start(ctx); srvErr != nil {
				logger.Warn("status server stopped: %v", srvErr)
			}
		}()
		logger.Print("status server: http://localhost:%d", o.ServePort)
	}

	printStartupInfo(logger, sup, gamePort, rconPort, cfg)

	if runErr := l.Run(ctx); runErr != nil {
		return fmt.Errorf("run server: %w", runErr)
	}

	logger.Print("server finished after %s", logger.Elapsed())
	return nil
}

// applyOverrides applies CLI flags on top of the loaded config.
func applyOverrides(cfg *config.Config, o opts) {
	if o.Command != "" {
		cfg.GameCommand = o.Command
	}
	if o.WriteDir != "" {
		cfg.WriteDir = o.WriteDir
	}
	if o.Changelog != "" {
		cfg.Changelog = o.Changelog
	}
	if o.Save != "" {
		cfg.Save = o.Save
	}
}

// consoleLogPath resolves the console log location. relative paths land in
// the server's write directory, empty disables the file mirror.
func consoleLogPath(cfg *config.Config) string {
	if cfg.ConsoleLog == "" {
		return ""
	}
	if filepath.IsAbs(cfg.ConsoleLog) {
		return cfg.ConsoleLog
	}
	return filepath.Join(cfg.WriteDir, cfg.ConsoleLog)
}

// splitArgs splits the configured extra arguments string on whitespace.
func splitArgs(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// subscribeConsole mirrors classified server output and lifecycle changes to
// the console logger.
func subscribeConsole(sup *supervisor.Supervisor, logger *console.Logger) {
	sup.Bus().Subscribe(supervisor.EventLog, func(v any) {
		if rec, ok := v.(gamelog.Record); ok {
			logger.Record(rec)
		}
	})
	sup.Bus().Subscribe(supervisor.EventState, func(v any) {
		if st, ok := v.(supervisor.State); ok {
			logger.Print("server state: %s", st)
		}
	})
	sup.Bus().Subscribe(supervisor.EventSave, func(v any) {
		if path, ok := v.(string); ok {
			logger.Print("save completed: %s", filepath.Base(path))
		}
	})
}

// subscribeNotifications sends lifecycle notifications to configured
// destinations. delivery runs in the background so a slow destination never
// stalls the output stream.
func subscribeNotifications(ctx context.Context, sup *supervisor.Supervisor, notifier *notify.Service, logger *console.Logger) {
	sup.Bus().Subscribe(supervisor.EventState, func(v any) {
		st, ok := v.(supervisor.State)
		if !ok {
			return
		}
		var text string
		switch st {
		case supervisor.StateRunning:
			text = fmt.Sprintf("game server started, version %s", sup.Version())
		case supervisor.StateStopped:
			text = "game server stopped"
		default:
			return
		}
		go func() {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := notifier.Send(sendCtx, text); err != nil {
				logger.Warn("notification failed: %v", err)
			}
		}()
	})
}

func printStartupInfo(logger *console.Logger, sup *supervisor.Supervisor, gamePort, rconPort int, cfg *config.Config) {
	logger.Print("server version: %s", sup.Version())
	logger.Print("game port: %d", gamePort)
	if cfg.RconEnabled {
		logger.Print("rcon port: %d", rconPort)
	}
	if cfg.Save != "" {
		logger.Print("loading save: %s", cfg.Save)
	} else {
		logger.Print("loading latest save")
	}
}
