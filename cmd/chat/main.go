package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/cortexchat/internal/completion"
	"github.com/stupiduntilnot/cortexchat/internal/config"
	"github.com/stupiduntilnot/cortexchat/internal/control"
	"github.com/stupiduntilnot/cortexchat/internal/cortex"
	"github.com/stupiduntilnot/cortexchat/internal/db"
	"github.com/stupiduntilnot/cortexchat/internal/dummy"
	"github.com/stupiduntilnot/cortexchat/internal/logging"
	modelpkg "github.com/stupiduntilnot/cortexchat/internal/model"
	"github.com/stupiduntilnot/cortexchat/internal/ollama"
	"github.com/stupiduntilnot/cortexchat/internal/openai"
	"github.com/stupiduntilnot/cortexchat/internal/prompt"
	"github.com/stupiduntilnot/cortexchat/internal/session"
	"github.com/stupiduntilnot/cortexchat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[chat] %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:        cfg.LogLevel,
		ConsoleLevel: cfg.LogConsoleLevel,
		File:         cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("[chat] %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, dialect, err := openStore(&cfg)
	if err != nil {
		logger.Fatal("failed to open message store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer database.Close()

	if err := db.InitSchema(database, dialect, cfg.Table); err != nil {
		logger.Fatal("failed to init schema", zap.String("table", cfg.Table), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newSession(&cfg, database, logger)
	if err != nil {
		logger.Fatal("failed to init session", zap.Error(err))
	}

	logger.Info("chat started",
		zap.String("store", cfg.StoreDriver),
		zap.String("provider", cfg.CompletionProvider),
		zap.String("model", cfg.Model),
		zap.String("conversation_id", sess.ID()),
	)

	r := newREPL(sess, os.Stdin, os.Stdout)
	if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("chat stopped", zap.Error(err))
	}
}

func openStore(cfg *config.Config) (*sql.DB, db.Dialect, error) {
	switch cfg.StoreDriver {
	case config.StoreSnowflake:
		database, err := db.OpenSnowflake(db.SnowflakeParams{
			Account:   cfg.Snowflake.Account,
			User:      cfg.Snowflake.User,
			Password:  cfg.Snowflake.Password,
			Role:      cfg.Snowflake.Role,
			Warehouse: cfg.Snowflake.Warehouse,
			Database:  cfg.Snowflake.Database,
			Schema:    cfg.Snowflake.Schema,
		})
		return database, db.DialectSnowflake, err
	case config.StoreSQLite:
		database, err := db.OpenSQLite(cfg.DBPath)
		return database, db.DialectSQLite, err
	default:
		return nil, "", fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

func newSession(cfg *config.Config, database *sql.DB, logger *zap.Logger) (*session.Session, error) {
	messages, err := store.New(database, cfg.Table, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	provider, err := newModelProvider(cfg, database, logger)
	if err != nil {
		return nil, err
	}

	opts := completion.Options{
		Policy: control.Policy{
			Timeout:    time.Duration(cfg.CompletionTimeoutSeconds) * time.Second,
			MaxRetries: cfg.CompletionMaxRetries,
		},
		SlowThreshold: time.Duration(cfg.SlowReplySeconds) * time.Second,
		Logger:        logger.Named("completion"),
	}
	if cfg.CircuitThreshold > 0 {
		opts.Breaker = control.NewCircuitBreaker(cfg.CircuitThreshold, time.Duration(cfg.CircuitCooldownSeconds)*time.Second)
	}

	return session.New(messages, completion.New(provider, opts), session.Options{
		Model:    cfg.Model,
		Greeting: cfg.Greeting,
		Builder:  prompt.NewBuilder(cfg.SystemPrompt, &prompt.WindowCompressor{MaxMessages: cfg.HistoryWindow}),
		Logger:   logger.Named("session"),
	})
}

func newModelProvider(cfg *config.Config, database *sql.DB, logger *zap.Logger) (modelpkg.Provider, error) {
	timeout := time.Duration(cfg.CompletionTimeoutSeconds) * time.Second
	switch cfg.CompletionProvider {
	case config.ProviderCortex:
		return cortex.New(database, cfg.CortexFunction)
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, timeout, logger.Named("openai")), nil
	case config.ProviderOllama:
		return ollama.NewClient(cfg.OllamaHost, timeout)
	case config.ProviderDummy:
		return dummy.NewProvider(cfg.DummyScript)
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.CompletionProvider)
	}
}

type command struct {
	name string
	arg  string
}

// parseCommand splits "/name arg" input. ok is false for chat text.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{}, false
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}, true
}

type repl struct {
	sess *session.Session
	in   *bufio.Scanner
	out  io.Writer

	// listed is the result of the last /list, for /load <index>.
	listed []string

	you       *color.Color
	assistant *color.Color
	notice    *color.Color
	failure   *color.Color
}

func newREPL(sess *session.Session, in io.Reader, out io.Writer) *repl {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &repl{
		sess:      sess,
		in:        scanner,
		out:       out,
		you:       color.New(color.FgGreen, color.Bold),
		assistant: color.New(color.FgCyan, color.Bold),
		notice:    color.New(color.FgYellow),
		failure:   color.New(color.FgRed),
	}
}

func (r *repl) run(ctx context.Context) error {
	r.assistant.Fprintln(r.out, "Cortex Chat")
	fmt.Fprintf(r.out, "Model: %s (conversation %s)\n", r.sess.Model(), r.sess.ID())
	fmt.Fprintln(r.out, "Type a message, /help for commands, /exit to quit.")
	fmt.Fprintln(r.out)
	r.greet(ctx)

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := r.readLines(readCtx)
	for {
		r.you.Fprint(r.out, "You: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return r.in.Err()
			}
			line = l
		}
		if cmd, ok := parseCommand(line); ok {
			if cmd.name == "exit" || cmd.name == "quit" {
				return nil
			}
			r.handle(ctx, cmd)
			continue
		}
		r.submit(ctx, line)
	}
}

// readLines scans input on its own goroutine so that run can stop on ctx
// while a read is blocked. The channel is closed at end of input.
func (r *repl) readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for r.in.Scan() {
			select {
			case lines <- r.in.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (r *repl) greet(ctx context.Context) {
	if msg, ok := r.sess.Greet(ctx); ok {
		r.printAssistant(msg.Content)
	}
}

func (r *repl) submit(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	r.notice.Fprintln(r.out, "thinking...")
	turn, err := r.sess.Submit(ctx, line)
	if err != nil {
		if errors.Is(err, session.ErrAssistantUnavailable) {
			r.failure.Fprintln(r.out, "The assistant is unavailable right now. Please try again.")
			return
		}
		r.failure.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	r.printAssistant(turn.Assistant.Content)
	if turn.Reply.Slow {
		r.notice.Fprintf(r.out, "(slow reply: %.1fs)\n", turn.Reply.Latency.Seconds())
	}
	if !turn.Persisted {
		r.notice.Fprintln(r.out, "(this exchange could not be saved)")
	}
}

func (r *repl) printAssistant(text string) {
	r.assistant.Fprint(r.out, "Assistant: ")
	fmt.Fprintln(r.out, text)
	fmt.Fprintln(r.out)
}

func (r *repl) handle(ctx context.Context, cmd command) {
	switch cmd.name {
	case "help":
		r.help()
	case "new":
		id := r.sess.NewChat()
		r.notice.Fprintf(r.out, "Started conversation %s\n", id)
		r.greet(ctx)
	case "list":
		ids, err := r.sess.ConversationIDs(ctx)
		if err != nil {
			r.failure.Fprintf(r.out, "Error: %v\n", err)
			return
		}
		r.listed = ids
		if len(ids) == 0 {
			fmt.Fprintln(r.out, "No saved conversations.")
			return
		}
		for i, id := range ids {
			marker := " "
			if id == r.sess.ID() {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %d. %s\n", marker, i+1, id)
		}
	case "load":
		id := r.resolveConversation(cmd.arg)
		if id == "" {
			r.failure.Fprintln(r.out, "Usage: /load <conversation id | index from /list>")
			return
		}
		if err := r.sess.Load(ctx, id); err != nil {
			r.failure.Fprintf(r.out, "Error: %v\n", err)
			return
		}
		r.notice.Fprintf(r.out, "Loaded conversation %s\n", id)
		r.history()
	case "history":
		r.history()
	case "model":
		if cmd.arg == "" {
			fmt.Fprintf(r.out, "Current model: %s\n", r.sess.Model())
			return
		}
		if err := r.sess.SetModel(cmd.arg); err != nil {
			r.failure.Fprintf(r.out, "Error: %v (see /models)\n", err)
			return
		}
		r.notice.Fprintf(r.out, "Model set to %s\n", cmd.arg)
	case "models":
		for _, info := range modelpkg.Catalog() {
			marker := " "
			if info.ID == r.sess.Model() {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %-14s %s\n", marker, info.ID, info.Label)
		}
	default:
		r.failure.Fprintf(r.out, "Unknown command /%s, try /help\n", cmd.name)
	}
}

// resolveConversation accepts a 1-based index into the last /list or an id.
func (r *repl) resolveConversation(arg string) string {
	if arg == "" {
		return ""
	}
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(r.listed) {
		return r.listed[n-1]
	}
	return arg
}

func (r *repl) history() {
	msgs := r.sess.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "(no messages)")
		return
	}
	for _, m := range msgs {
		if m.Role == modelpkg.RoleUser {
			r.you.Fprint(r.out, "You: ")
		} else {
			r.assistant.Fprint(r.out, "Assistant: ")
		}
		fmt.Fprintln(r.out, m.Content)
	}
	fmt.Fprintln(r.out)
}

func (r *repl) help() {
	fmt.Fprintln(r.out, `Commands:
  /new            start a new conversation
  /list           list saved conversations
  /load <id|n>    load a conversation by id or /list index
  /history        show the current conversation
  /model [id]     show or switch the model
  /models         list available models
  /exit           quit`)
}
