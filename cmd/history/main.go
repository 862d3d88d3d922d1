// Command history inspects a chat client's local data directory offline:
// it lists mirrored messages from badger and greps the bluge index, without
// touching the network or the running client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"duochat/infrastructure/storage"
	"duochat/internal"
	"duochat/search"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" required:"true"`
	BlugeFilepath  string `envconfig:"BLUGE_FILEPATH"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"WARN"`
}

func main() {
	chatFlag := flag.String("chat", "", "Chat id to inspect")
	searchFlag := flag.String("search", "", "Full-text query against the message index")
	limitFlag := flag.Int("limit", 50, "Maximum rows to print")
	flag.Parse()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("config: ", err)
	}

	if *chatFlag == "" {
		log.Fatal("-chat is required")
	}
	chatID, err := uuid.Parse(*chatFlag)
	if err != nil {
		log.Fatal("-chat is not a uuid: ", err)
	}

	// BypassLockGuard lets us read while the chat client holds the lock.
	options := badger.DefaultOptions(cfg.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		log.Fatal("error while opening badger: ", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	if *searchFlag != "" {
		if cfg.BlugeFilepath == "" {
			log.Fatal("BLUGE_FILEPATH is required for -search")
		}
		runSearch(ctx, cfg.BlugeFilepath, chatID, *searchFlag, *limitFlag, cfg.LogLevel)
		return
	}

	listMessages(ctx, db, chatID, *limitFlag, cfg.LogLevel)
}

func listMessages(ctx context.Context, db *badger.DB, chatID uuid.UUID, limit int, logLevel string) {
	store := storage.NewLocalStore(db, internal.NewLogger(logLevel), 1)

	var (
		rows   [][]string
		cursor *time.Time
	)
	for len(rows) < limit {
		pageSize := limit - len(rows)
		page, hasMore, err := store.FetchPage(ctx, chatID, cursor, pageSize)
		if err != nil {
			log.Fatal("fetch failed: ", err)
		}
		for i := len(page) - 1; i >= 0; i-- {
			msg := page[i]
			rows = append(rows, []string{
				msg.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				msg.SenderID.String()[:8],
				string(msg.Kind),
				msg.ID.String(),
				msg.Content,
			})
		}
		if !hasMore || len(page) == 0 {
			break
		}
		cursor = &page[0].CreatedAt
	}

	// Rows were collected newest first; print oldest first like the client.
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "Sender", "Kind", "Message ID", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for i := len(rows) - 1; i >= 0; i-- {
		table.Append(rows[i])
	}
	table.Render()
	fmt.Printf("%d message(s)\n", len(rows))
}

func runSearch(ctx context.Context, indexPath string, chatID uuid.UUID, query string, limit int, logLevel string) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(indexPath))
	if err != nil {
		log.Fatal("error while opening bluge: ", err)
	}
	defer func() { _ = writer.Close() }()

	index := search.NewMessageIndex(writer, internal.NewLogger(logLevel))
	hits, err := index.Search(ctx, chatID, query, limit)
	if err != nil {
		log.Fatal("search failed: ", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "Message ID", "Content"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, hit := range hits {
		table.Append([]string{
			hit.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			hit.MessageID.String(),
			hit.Content,
		})
	}
	table.Render()
	fmt.Printf("%d hit(s)\n", len(hits))
}
