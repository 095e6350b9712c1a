package internal

import (
	"chat-sync/infrastructure/storage"
	"chat-sync/runtime/workers"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
)

//go:embed inspect.html
var templatesFS embed.FS

const maxInspectedRows = 500

type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	EntityID  string
	Detail    string
}

type PageData struct {
	Prefix   string
	Prefixes []string
	Items    []InspectRow
	Stats    map[string]any
}

// DebugSources are the parts of the server the inspector reads from.
// DB is nil when the store is not Badger; Heartbeat may be nil.
type DebugSources struct {
	DB        *badger.DB
	Bus       workers.BusStats
	Store     workers.StoreStats
	Heartbeat *workers.HeartbeatWorker
}

// NewDebugServer serves a read-only view of the records and the runtime
// counters. It is meant to be bound to a private port.
func NewDebugServer(log *slog.Logger, port int, sources DebugSources) *http.Server {
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetHTMLTemplate(tmpl)

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, collectStats(c.Request.Context(), log, sources))
	})

	router.GET("/inspect", func(c *gin.Context) {
		prefix := c.DefaultQuery("prefix", "conv:")
		data := PageData{
			Prefix:   prefix,
			Prefixes: storage.Prefixes(),
			Stats:    collectStats(c.Request.Context(), log, sources),
		}
		if sources.DB != nil {
			items, err := scan(sources.DB, prefix, maxInspectedRows)
			if err != nil {
				log.Warn("Inspector scan failed", "prefix", prefix, "error", err)
			}
			data.Items = items
		}
		c.HTML(http.StatusOK, "inspect.html", data)
	})

	return &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func collectStats(ctx context.Context, log *slog.Logger, sources DebugSources) map[string]any {
	stats := map[string]any{}
	if sources.Bus != nil {
		for topic, s := range sources.Bus.Stats() {
			stats["bus."+string(topic)+".subscribers"] = s.Subscribers
			stats["bus."+string(topic)+".published"] = s.Published
		}
	}
	if sources.Store != nil {
		counts, err := sources.Store.Stats(ctx)
		if err != nil {
			log.Warn("Unable to count stored records", "error", err)
		}
		for entity, n := range counts {
			stats["records."+entity] = n
		}
	}
	if sources.Heartbeat != nil {
		if p := sources.Heartbeat.Latest(); p != nil {
			stats["process.cpu_percent"] = p.CPUPercent
			stats["process.rss_bytes"] = p.RSSBytes
			stats["process.goroutines"] = p.Goroutines
		}
	}
	return stats
}

// scan reads at most limit records under prefix.
func scan(db *badger.DB, prefix string, limit int) ([]InspectRow, error) {
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)) && len(rows) < limit; it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rows = append(rows, RowMapper(string(item.Key()), val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

// RowMapper describes one raw record. Message keys carry their timestamp
// just before the message id.
func RowMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Type:      parts[0],
		Timestamp: "--:--:--",
		EntityID:  parts[len(parts)-1],
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
	if row.Type == "msg" && len(parts) >= 5 {
		if ns, err := strconv.ParseInt(parts[len(parts)-2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, ns).UTC().Format(time.RFC3339)
		}
	}
	if len(val) > 0 {
		if decoded, err := storage.Decode(val); err == nil {
			row.Detail = fmt.Sprintf("%v", decoded)
		}
	}
	return row
}
