package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"duochat/auth"
	"duochat/contract"
	"duochat/domain"
	"duochat/imaging"
	"duochat/infrastructure/storage"
	"duochat/internal"
	"duochat/moderation"
	"duochat/observability"
	"duochat/repositories/blob"
	"duochat/repositories/postgres"
	"duochat/repositories/redisfeed"
	"duochat/runtime"
	"duochat/runtime/workers"
	"duochat/search"
	"duochat/services"
	"duochat/sink"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	selfID, err := uuid.Parse(config.SelfID)
	if err != nil {
		return exitConfig, fmt.Errorf("SELF_ID: %w", err)
	}
	otherID, err := uuid.Parse(config.OtherID)
	if err != nil {
		return exitConfig, fmt.Errorf("OTHER_ID: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := internal.NewLogger(config.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Local badger store: the primary store offline, the mirror online.
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLogger(nil))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	localStore := storage.NewLocalStore(db, logger, config.FeedBuffer)

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()
	index := search.NewMessageIndex(blugeWriter, logger)

	metrics := observability.NewMetrics(logger)

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		internal.StartDebugServer(db, config.DebugPort, endpoint, internal.DefaultMapper, func() map[string]any {
			s := metrics.Snapshot()
			return map[string]any{
				"messages_sent":  s.MessagesSent,
				"events_applied": s.EventsApplied,
				"pages_fetched":  s.PagesFetched,
			}
		})
	}

	blobStore := blob.NewDiskStore(config.BlobRootDir, config.PublicBaseURL, logger)
	uploader := imaging.NewUploader(blobStore, blob.BucketChatImages, config.MaxImageBytes, metrics, logger)

	censor, err := moderation.NewCensor(config.CensoredWordList(), charReplacement)
	if err != nil {
		return exitConfig, fmt.Errorf("censor build failed: %w", err)
	}

	// Session: identity travels with the engine, never looked up ambiently.
	tokens := auth.NewTokenService(config.SessionSecret, config.AuthTokenDuration)
	if err := auth.ValidateProfile(auth.ProfileInput{
		ID:       config.SelfID,
		FullName: config.SelfName,
		Email:    config.SelfEmail,
	}); err != nil {
		return exitConfig, fmt.Errorf("self profile invalid: %w", err)
	}
	session, err := tokens.Issue(domain.Profile{
		ID:       selfID,
		FullName: config.SelfName,
		Email:    config.SelfEmail,
	})
	if err != nil {
		return exitRuntime, fmt.Errorf("session issue failed: %w", err)
	}
	logger.Info("Session issued", "user", session.UserID())

	// Store wiring: Postgres+Redis when a DSN is configured, badger-only
	// otherwise.
	var (
		chatStore    contract.ChatStore
		messageStore contract.MessageStore
		feed         contract.ChangeFeed
		online       bool
	)
	if config.PostgresDSN != "" {
		sqlDB, err := sql.Open("postgres", config.PostgresDSN)
		if err != nil {
			return exitRuntime, fmt.Errorf("postgres open failed: %w", err)
		}
		defer func() { _ = sqlDB.Close() }()
		if err := postgres.Migrate(ctx, sqlDB); err != nil {
			return exitRuntime, fmt.Errorf("postgres migration failed: %w", err)
		}

		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
		})
		defer func() { _ = redisClient.Close() }()

		store := postgres.NewStore(sqlDB, redisfeed.NewPublisher(redisClient, logger), logger)
		chatStore = store
		messageStore = store
		feed = redisfeed.NewFeed(redisClient, logger, config.FeedBuffer)
		online = true
		logger.Info("Remote store connected", "redis", config.RedisAddr)
	} else {
		chatStore = localStore
		messageStore = localStore
		feed = localStore
		logger.Info("Offline mode, badger serves the conversation")
	}

	directory := services.NewDirectory(chatStore, logger)
	engine := runtime.NewEngine(
		directory, chatStore, messageStore, feed,
		uploader, blobStore, blob.BucketChatImages,
		censor, metrics, logger,
		session.UserID(), otherID, config.PageSize,
	).WithLifetime(ctx)
	engine.RegisterSink(sink.NewIndexSink(index, logger))
	if online {
		// Offline mode already writes badger directly; mirroring would
		// double-write.
		engine.RegisterSink(sink.NewMirrorSink(localStore, logger))
	}
	engine.SetOnNewestChange(func(newest *domain.Message) {
		if newest != nil && newest.SenderID != session.UserID() {
			color.New(color.FgCyan).Printf("\n<< %s\n> ", newest.Content)
		}
	})

	// The feed subscription runs on the engine lifetime, so a lazy start
	// from a timed REPL command cannot tear it down.
	if err := engine.Start(ctx); err != nil {
		logger.Warn("Initial start failed, commands will retry", "error", err)
	}

	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(
		workers.NewFeedPump(engine, logger),
		workers.NewHeartbeatWorker(logger, metrics, config.MetricInterval),
	)
	supervisorDone := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(supervisorDone)
	}()

	renderMessages(engine.Messages(), session.UserID())
	repl(ctx, engine, index, session.UserID(), config.SendTimeout, logger)

	logger.Info("Shutting down gracefully...")
	stop()
	supervisor.Stop()
	<-supervisorDone
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

// repl reads commands from stdin until /quit or EOF. Anything not starting
// with a slash is sent as a text message.
func repl(ctx context.Context, engine *runtime.Engine, index *search.MessageIndex, selfID uuid.UUID, timeout time.Duration, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		switch {
		case line == "":
		case line == "/quit":
			cancel()
			return
		case line == "/list":
			renderMessages(engine.Messages(), selfID)
		case line == "/more":
			if err := engine.LoadMoreMessages(cmdCtx); err != nil {
				color.Red.Println("Load failed:", err)
			}
			renderMessages(engine.Messages(), selfID)
		case strings.HasPrefix(line, "/delete "):
			deleteByID(cmdCtx, engine, strings.TrimPrefix(line, "/delete "))
		case strings.HasPrefix(line, "/image "):
			sendImage(cmdCtx, engine, strings.TrimPrefix(line, "/image "))
		case strings.HasPrefix(line, "/search "):
			runSearch(cmdCtx, engine, index, strings.TrimPrefix(line, "/search "))
		case strings.HasPrefix(line, "/"):
			color.Yellow.Println("Commands: /list /more /delete <id> /image <path> /search <terms> /quit")
		default:
			if err := engine.SendTextMessage(cmdCtx, line); err != nil {
				color.Red.Println("Send failed:", err)
			}
		}
		cancel()
		fmt.Print("> ")
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("Input closed", "error", err)
	}
}

func deleteByID(ctx context.Context, engine *runtime.Engine, raw string) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		color.Red.Println("Not a message id:", raw)
		return
	}
	for _, msg := range engine.Messages() {
		if msg.ID == id {
			if err := engine.DeleteMessage(ctx, msg); err != nil {
				color.Red.Println("Delete failed:", err)
			}
			return
		}
	}
	color.Yellow.Println("No such message in the current list")
}

func sendImage(ctx context.Context, engine *runtime.Engine, path string) {
	file, err := os.Open(strings.TrimSpace(path))
	if err != nil {
		color.Red.Println("Cannot open image:", err)
		return
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	if err != nil {
		color.Red.Println("Cannot decode image:", err)
		return
	}
	if err := engine.SendImageMessage(ctx, img); err != nil {
		color.Red.Println("Image send failed:", err)
	}
}

func runSearch(ctx context.Context, engine *runtime.Engine, index *search.MessageIndex, query string) {
	chatID := engine.ChatID()
	if chatID == nil {
		color.Yellow.Println("Not bound to a chat yet")
		return
	}
	hits, err := index.Search(ctx, *chatID, query, 20)
	if err != nil {
		color.Red.Println("Search failed:", err)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "Message ID", "Content"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, hit := range hits {
		table.Append([]string{
			hit.CreatedAt.Local().Format("15:04:05"),
			shortID(hit.MessageID),
			hit.Content,
		})
	}
	table.Render()
}

func renderMessages(messages []domain.Message, selfID uuid.UUID) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "From", "Kind", "Message ID", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, msg := range messages {
		from := color.Cyan.Sprint("them")
		if msg.SenderID == selfID {
			from = color.Green.Sprint("me")
		}
		table.Append([]string{
			msg.CreatedAt.Local().Format("Jan 02 15:04"),
			from,
			string(msg.Kind),
			shortID(msg.ID),
			msg.Content,
		})
	}
	table.Render()
}

func shortID(id uuid.UUID) string {
	s := id.String()
	return s[:8]
}
