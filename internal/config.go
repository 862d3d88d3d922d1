package internal

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	// Identity of the local participant and the peer the engine binds to.
	SelfID    string `env:"SELF_ID,required=true"`
	SelfName  string `env:"SELF_NAME,default=Me"`
	SelfEmail string `env:"SELF_EMAIL"`
	OtherID   string `env:"OTHER_ID,required=true"`

	// Remote store. When POSTGRES_DSN is empty the client falls back to the
	// badger-backed local store (offline mode).
	PostgresDSN   string `env:"POSTGRES_DSN"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Local storage paths.
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	BlobRootDir    string `env:"BLOB_ROOT_DIR,required=true"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL,default=file://blobs"`

	PageSize      int           `env:"PAGE_SIZE,default=20"`
	FeedBuffer    int           `env:"FEED_BUFFER,default=64"`
	MaxImageBytes int           `env:"MAX_IMAGE_BYTES,default=262144"`
	SendTimeout   time.Duration `env:"SEND_TIMEOUT,default=10s"`

	// Moderation of outgoing text; an empty list disables the censor.
	CensoredWords   string `env:"CENSORED_WORDS"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`

	SessionSecret     string        `env:"SESSION_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	MetricInterval time.Duration `env:"METRIC_INTERVAL,default=30s"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
	DebugPort      int           `env:"DEBUG_PORT,default=8081"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// CensoredWordList splits the comma-separated CENSORED_WORDS value,
// dropping empty entries.
func (c Config) CensoredWordList() []string {
	if strings.TrimSpace(c.CensoredWords) == "" {
		return nil
	}
	var words []string
	for _, w := range strings.Split(c.CensoredWords, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	return words
}
