// Package logger configures the global zerolog logger.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"github.com/rs/zerolog/log"
	"go.elastic.co/ecszerolog"
)

// Options select the level and output of the global logger.
type Options struct {
	App    string
	Level  string
	Format string // console, json or ecs
	// ElasticsearchURL, when set, also ships ECS documents to this index URL.
	ElasticsearchURL string
	Out              io.Writer
}

const ecsVersionField = "ecs.version"

// ElasticsearchWriter posts each log line as a document.
type ElasticsearchWriter struct {
	URL    string
	Client *http.Client
}

func (ew ElasticsearchWriter) Write(p []byte) (int, error) {
	client := ew.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Post(ew.URL+"/_doc", "application/json", bytes.NewReader(p))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("elasticsearch returned %d", resp.StatusCode)
	}
	return len(p), nil
}

// shipper is the async Elasticsearch sink of the current logger.
var shipper io.Closer

// Setup replaces log.Logger and the global level. Console output stays
// human readable; ECS encoding applies to the JSON lines, which include
// everything shipped to Elasticsearch. Shipping is asynchronous so a slow
// or unreachable cluster never blocks a request.
func Setup(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	var writers []io.Writer
	switch opts.Format {
	case "", "console":
		writers = append(writers, zerolog.ConsoleWriter{
			Out:           out,
			TimeFormat:    time.RFC3339,
			FieldsExclude: []string{ecsVersionField},
		})
	case "json", "ecs":
		writers = append(writers, out)
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", opts.Format)
	}

	zerolog.SetGlobalLevel(level)
	if err := Close(); err != nil {
		fmt.Fprintf(os.Stderr, "logger: closing previous shipper: %v\n", err)
	}

	if opts.ElasticsearchURL != "" {
		dw := diode.NewWriter(ElasticsearchWriter{URL: opts.ElasticsearchURL}, 1000, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "logger: dropped %d log lines for elasticsearch\n", missed)
		})
		shipper = dw
		writers = append(writers, dw)
	}

	w := writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	var base zerolog.Logger
	if opts.Format == "ecs" || opts.ElasticsearchURL != "" {
		// ecszerolog adds @timestamp and ecs.version itself.
		base = ecszerolog.New(w)
	} else {
		base = zerolog.New(w).With().Timestamp().Logger()
	}

	log.Logger = base.With().Str("app", opts.App).Logger()
	return nil
}

// Close flushes and stops the Elasticsearch shipper, if any.
func Close() error {
	if shipper == nil {
		return nil
	}
	err := shipper.Close()
	shipper = nil
	return err
}
