package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"earshot/internal/app"
	"earshot/internal/config"
	"earshot/internal/session"
	"earshot/pkg/interfaces"
	"earshot/pkg/types"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// run keeps main testable and gives every exit path a single error funnel.
func run() error {
	_ = godotenv.Load(".env")

	var (
		configPath = flag.String("config", os.Getenv("EARSHOT_CONFIG_FILE"), "path to a YAML config file")
		sessionID  = flag.Int64("session", 0, "session to join on startup")
		userID     = flag.Int64("user", 0, "participant id to join as")
		userName   = flag.String("name", "", "display name inside the session")
		role       = flag.String("role", types.RoleStudent, "participant role (teacher or student)")
	)
	flag.Parse()

	cfg := config.Load(*configPath)

	// The speech sink is the primary output surface. On a desktop build it
	// is backed by the platform screen reader; the CLI speaks to stdout.
	application, err := app.New(cfg, app.Options{
		Speech: interfaces.SpeechSinkFunc(func(text string) {
			fmt.Println(text)
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	if *sessionID != 0 {
		handle := types.SessionHandle{
			SessionID: *sessionID,
			SelfID:    *userID,
			SelfName:  *userName,
			Role:      *role,
		}
		if _, err := application.JoinSession(ctx, handle); err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			_ = application.Stop(stopCtx)
			return fmt.Errorf("failed to join session %d: %w", *sessionID, err)
		}
		fmt.Printf("Joined session %d as %s (%s)\n", *sessionID, *userName, *role)
	}

	lineCh := make(chan string)
	go readLines(lineCh)

	for {
		select {
		case sig := <-signalCh:
			log.Printf("Received signal %v, shutting down gracefully", sig)
			return shutdown(application)
		case line, ok := <-lineCh:
			if !ok {
				// stdin closed; treat like a quit command.
				return shutdown(application)
			}
			quit, err := dispatch(application, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if quit {
				return shutdown(application)
			}
		}
	}
}

func shutdown(application *app.Application) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func readLines(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

// dispatch interprets one line of console input. Lines starting with a
// slash are commands; anything else is sent as chat.
func dispatch(application *app.Application, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		orch := application.CurrentSession()
		if orch == nil {
			return false, fmt.Errorf("not in a session; type /help for commands")
		}
		return false, orch.SendChat(line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		printHelp()
		return false, nil
	}

	orch := application.CurrentSession()
	if orch == nil {
		return false, fmt.Errorf("not in a session")
	}

	switch cmd {
	case "/leave":
		return false, orch.Leave()
	case "/hand":
		return false, orch.ToggleHand()
	case "/mute":
		if len(args) == 0 {
			return false, toggleSelfMute(orch)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return false, fmt.Errorf("usage: /mute [participant-id]")
		}
		return false, orch.MuteParticipant(id, true)
	case "/unmute":
		if len(args) == 0 {
			return false, orch.SetSelfMuted(false)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return false, fmt.Errorf("usage: /unmute [participant-id]")
		}
		return false, orch.MuteParticipant(id, false)
	case "/kick":
		if len(args) == 0 {
			return false, fmt.Errorf("usage: /kick <participant-id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return false, fmt.Errorf("usage: /kick <participant-id>")
		}
		return false, orch.KickParticipant(id)
	case "/who":
		printRoster(orch)
		return false, nil
	case "/audio":
		printPlayback(orch)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s; type /help", cmd)
	}
}

func toggleSelfMute(orch *session.Orchestrator) error {
	self := orch.Handle().SelfID
	for _, p := range orch.Roster() {
		if p.ID == self {
			return orch.SetSelfMuted(!p.Muted)
		}
	}
	return orch.SetSelfMuted(true)
}

func printRoster(orch *session.Orchestrator) {
	roster := orch.Roster()
	fmt.Printf("%d participant(s):\n", len(roster))
	for _, p := range roster {
		var marks []string
		if p.Muted {
			marks = append(marks, "muted")
		}
		if p.RaisedHand {
			marks = append(marks, "hand raised")
		}
		suffix := ""
		if len(marks) > 0 {
			suffix = " (" + strings.Join(marks, ", ") + ")"
		}
		fmt.Printf("  %d  %s%s\n", p.ID, p.Name, suffix)
	}
}

func printPlayback(orch *session.Orchestrator) {
	pb := orch.Playback()
	if pb.AudioID == 0 {
		fmt.Println("no audio material selected")
		return
	}
	fmt.Printf("%s: %s at %.1fs (%.2fx)\n", pb.Title, pb.Status, pb.Position, pb.Speed)
}

func printHelp() {
	fmt.Println(`commands:
  <text>          send a chat message
  /hand           raise or lower your hand
  /mute [id]      mute yourself, or mute a participant (teacher)
  /unmute [id]    unmute yourself, or unmute a participant (teacher)
  /kick <id>      remove a participant (teacher)
  /who            list the roster
  /audio          show the shared audio state
  /leave          leave the current session
  /quit           leave and exit`)
}
