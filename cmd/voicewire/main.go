// Command voicewire is an interactive voice/text client for a
// conversational backend. It streams microphone audio up a duplex
// websocket, renders transcripts and agent tokens as they arrive, and
// speaks completed agent responses aloud.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/auth"
	"github.com/voicewire/voicewire/pkg/convo"
	"github.com/voicewire/voicewire/pkg/session"
	"github.com/voicewire/voicewire/pkg/wire"
)

type cliConfig struct {
	session  session.Config
	noAudio  bool
	verbose  bool
	logLevel slog.Level
}

func parseCLIConfig(args []string) (cliConfig, error) {
	base := session.FromEnv()

	fs := flag.NewFlagSet("voicewire", flag.ContinueOnError)
	socketURL := fs.String("socket-url", base.SocketURL, "duplex websocket endpoint")
	apiURL := fs.String("api-url", base.APIBaseURL, "REST base URL for history and auth")
	voice := fs.String("voice", base.TTSVoice, "synthesis voice")
	autoSpeak := fs.Bool("speak", base.AutoSpeak, "speak agent responses aloud")
	noAudio := fs.Bool("no-audio", false, "run without microphone or speaker")
	verbose := fs.Bool("verbose", false, "print partial transcripts and status changes")
	debug := fs.Bool("debug", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	base.SocketURL = *socketURL
	base.APIBaseURL = *apiURL
	base.TTSVoice = *voice
	base.AutoSpeak = *autoSpeak

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	return cliConfig{
		session:  base,
		noAudio:  *noAudio,
		verbose:  *verbose,
		logLevel: level,
	}, nil
}

func main() {
	// A missing .env is fine; the environment may be set another way.
	_ = godotenv.Load()

	cfg, err := parseCLIConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliConfig, logger *slog.Logger, in io.Reader, out, errOut io.Writer) error {
	deps := session.Deps{Logger: logger}

	if !cfg.noAudio {
		deps.Mic = audio.NewFrameSource(audio.CaptureFormat(), cfg.session.FrameSamples, logger)
		sink, err := audio.NewSink(audio.PlaybackFormat(), logger)
		if err != nil {
			// Degrade to text-only rather than refusing to start.
			fmt.Fprintf(errOut, "speaker unavailable, continuing without playback: %v\n", err)
		} else {
			deps.Output = sink
			defer sink.Close()
		}
	}

	sess, err := session.New(cfg.session, deps)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.session.SocketURL, err)
	}

	id := sess.Identity()
	fmt.Fprintf(out, "connected as %s (%s)\n", id.ConversationSessionID, id.UserType)
	fmt.Fprintln(out, "type to chat, /record to talk, /help for commands")

	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()
	go renderEvents(renderCtx, sess, cfg.verbose, out)

	return commandLoop(ctx, sess, in, out, errOut)
}

// renderEvents prints the conversation as it happens. Agent tokens
// stream onto one line until the turn closes.
func renderEvents(ctx context.Context, sess *session.Session, verbose bool, out io.Writer) {
	agentLineOpen := false
	closeAgentLine := func() {
		if agentLineOpen {
			fmt.Fprintln(out)
			agentLineOpen = false
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sess.Events():
			switch e := ev.Inbound.(type) {
			case wire.Transcript:
				if e.IsFinal {
					closeAgentLine()
					if strings.TrimSpace(e.Text) != "" {
						fmt.Fprintf(out, "you: %s\n", strings.TrimSpace(e.Text))
					}
				} else if verbose {
					fmt.Fprintf(out, "you (partial): %s\n", e.Text)
				}
			case wire.AgentText:
				if e.Clear {
					closeAgentLine()
					continue
				}
				if !agentLineOpen {
					fmt.Fprint(out, "agent: ")
					agentLineOpen = true
				}
				fmt.Fprint(out, e.Token)
			case wire.Status:
				if verbose {
					closeAgentLine()
					fmt.Fprintf(out, "[%s]\n", e.State)
				}
				if convo.Status(e.State) == convo.StatusIdle {
					closeAgentLine()
				}
			}
		}
	}
}

func commandLoop(ctx context.Context, sess *session.Session, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sess.SendChat(line)
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		switch cmd {
		case "/exit", "/quit":
			return nil
		case "/record":
			if sess.Recording() {
				sess.StopCapture()
				fmt.Fprintln(out, "recording stopped")
				continue
			}
			if err := sess.StartCapture(); err != nil {
				fmt.Fprintf(errOut, "record error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "recording... /record again to stop")
		case "/stop":
			sess.StopCapture()
		case "/cancel":
			sess.CancelSpeech()
		case "/say":
			if rest == "" {
				fmt.Fprintln(errOut, "usage: /say <text>")
				continue
			}
			if err := sess.Speak(ctx, rest); err != nil {
				fmt.Fprintf(errOut, "say error: %v\n", err)
			}
		case "/login", "/signup":
			creds, err := parseCredentials(rest)
			if err != nil {
				fmt.Fprintf(errOut, "usage: %s <email|phone> <password> [name]\n", cmd)
				continue
			}
			var user *auth.User
			if cmd == "/login" {
				user, err = sess.Login(ctx, creds)
			} else {
				user, err = sess.Signup(ctx, creds)
			}
			if err != nil {
				fmt.Fprintf(errOut, "%s error: %v\n", strings.TrimPrefix(cmd, "/"), err)
				continue
			}
			fmt.Fprintf(out, "signed in as %s (%s)\n", displayName(user), sess.Identity().ConversationSessionID)
		case "/logout":
			sess.Logout()
			fmt.Fprintf(out, "back to guest (%s)\n", sess.Identity().ConversationSessionID)
		case "/status":
			fmt.Fprintf(out, "status: %s  recording: %v  level: %.2f\n",
				sess.Status(), sess.Recording(), sess.InputLevel())
			if err := sess.DeviceError(); err != nil {
				fmt.Fprintf(out, "microphone: %v\n", err)
			}
		case "/history":
			for _, m := range sess.Messages() {
				fmt.Fprintf(out, "%s %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Text)
			}
		case "/log":
			for _, line := range sess.EventLog() {
				fmt.Fprintln(out, line)
			}
		case "/help":
			printHelp(out)
		default:
			fmt.Fprintf(errOut, "unknown command %s\n", cmd)
			printHelp(out)
		}
	}
}

// parseCredentials reads "<email|phone> <password> [name...]".
func parseCredentials(rest string) (auth.Credentials, error) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return auth.Credentials{}, errors.New("contact and password are required")
	}
	creds := auth.Credentials{Password: fields[1]}
	if strings.Contains(fields[0], "@") {
		creds.Email = fields[0]
	} else {
		creds.Phone = fields[0]
	}
	if len(fields) > 2 {
		creds.Name = strings.Join(fields[2:], " ")
	}
	return creds, nil
}

func displayName(user *auth.User) string {
	if user.Name != "" {
		return user.Name
	}
	if user.Email != "" {
		return user.Email
	}
	return user.ID
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `commands:
  <text>                 send a chat message
  /record                toggle microphone capture (barges in if the agent is talking)
  /stop                  stop capture
  /cancel                silence speech synthesis
  /say <text>            speak text aloud
  /login <contact> <password>
  /signup <contact> <password> [name]
  /logout                return to guest identity
  /status                connection, recording, input level
  /history               print the conversation so far
  /log                   recent protocol events
  /exit                  quit`)
}
