package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"
	"gorm.io/gorm"

	"billscope/pkg/statement"
)

var jwtSecret []byte // loaded from env JWT_SECRET (fallback to dev default)

// server carries the shared dependencies. Handlers, the ingestion
// controller and the query layer are methods on it so nothing reaches for
// ambient globals.
type server struct {
	db           *gorm.DB
	cfg          statement.Config
	ollama       *ollamaClient
	subjectLocks sync.Map // subject id -> *sync.Mutex
}

func newServer(db *gorm.DB) *server {
	cfg := statement.DefaultConfig()
	cfg.Normalize.Special = specialRuleFromEnv()
	return &server{
		db:     db,
		cfg:    cfg,
		ollama: newOllamaClient(),
	}
}

func main() {
	// Auto-load ./.env if present (no external dependency) before reading vars
	loadDotEnv()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}
	jwtSecret = []byte(secret)

	// Support a lightweight migrate command: `./billscope migrate`
	// It runs AutoMigrate then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		initDB()
		fmt.Println("migration completed")
		return
	}

	db := initDB()
	srv := newServer(db)

	// Optional watch-folder ingestion: <WATCH_DIR>/<subjectID>/*.pdf|*.xlsx
	if dir := os.Getenv("WATCH_DIR"); dir != "" {
		go srv.watchStatements(dir)
	}

	// AI analysis degrades gracefully when Ollama is down; say so up front.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.ollama.ping(ctx); err != nil {
			log.Warn().Err(err).Str("host", srv.ollama.host).Msg("ollama unreachable, AI analysis disabled until it comes back")
		} else {
			log.Info().Str("host", srv.ollama.host).Str("model", srv.ollama.model).Msg("ollama reachable")
		}
	}()

	r := gin.Default()

	srv.setupRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8180"
	}
	r.Run(":" + port)
}

// loadDotEnv loads key=value pairs from a local .env file into the environment
// without overwriting variables that are already set. Lines starting with # are ignored.
func loadDotEnv() {
	path := ".env"
	if _, err := os.Stat(path); err != nil {
		return // no .env file
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// split on first '='
		if eq := strings.IndexByte(line, '='); eq > 0 {
			key := strings.TrimSpace(line[:eq])
			val := strings.TrimSpace(line[eq+1:])
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
}
