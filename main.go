// NimbusDesk local sync server: caches the remote-backed workspace
// collections, applies mutations optimistically, and serves them to the web
// client over HTTP and a change-event websocket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimbusdesk/nimbusdesk/pkg/backend"
	"github.com/nimbusdesk/nimbusdesk/pkg/config"
	"github.com/nimbusdesk/nimbusdesk/pkg/event"
	"github.com/nimbusdesk/nimbusdesk/pkg/prefs"
	"github.com/nimbusdesk/nimbusdesk/pkg/service"
	"github.com/nimbusdesk/nimbusdesk/pkg/store"
	"github.com/nimbusdesk/nimbusdesk/pkg/utils"
)

func main() {
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("default config not written", "error", err)
	}
	cfg, configFile, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "file", configFile)

	client := backend.NewClient(backend.ClientOptions{
		BaseURL: cfg.BackendBaseURL(),
		APIKey:  cfg.BackendAPIKey(),
		Timeout: time.Duration(cfg.BackendTimeoutSeconds()) * time.Second,
	})

	dbPath, err := cfg.StateDBPath()
	if err != nil {
		logger.Error("state db path", "error", err)
		os.Exit(1)
	}
	state, err := service.NewStateService(dbPath)
	if err != nil {
		logger.Error("open state db", "error", err)
		os.Exit(1)
	}
	if err := state.AutoMigrate(); err != nil {
		logger.Error("migrate state db", "error", err)
		os.Exit(1)
	}

	emitter := event.NewEmitter()
	auth := service.NewAuthService(client, state, emitter)
	if err := auth.Restore(); err != nil {
		logger.Warn("session restore failed", "error", err)
	}

	convs := store.NewConversationStore(client, emitter)
	files := store.NewFileStore(client, client, emitter)
	emails := store.NewEmailStore(client, client, emitter)
	prefsMgr := prefs.NewManager(client, emitter)

	ai := service.NewAIService(cfg)
	workbench := service.NewWorkbenchService(convs, ai, client, prefsMgr)

	// Warm the caches when a session survived the restart. Failures are
	// logged, not fatal: every collection reloads on demand.
	if auth.Authenticated() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		warmCaches(ctx, logger, convs, files, emails, prefsMgr, state)
		cancel()
	}

	gin.SetMode(gin.ReleaseMode)
	router := SetupRouter(&appServices{
		Auth:      auth,
		State:     state,
		Workbench: workbench,
		Convs:     convs,
		Files:     files,
		Emails:    emails,
		Prefs:     prefsMgr,
		Emitter:   emitter,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host(), cfg.Port())
	logger.Info("listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func warmCaches(
	ctx context.Context,
	logger *slog.Logger,
	convs *store.ConversationStore,
	files *store.FileStore,
	emails *store.EmailStore,
	prefsMgr *prefs.Manager,
	state *service.StateService,
) {
	if err := prefsMgr.Load(ctx); err != nil {
		logger.Warn("preferences not warmed", "error", err)
	} else if doc, err := prefsMgr.Export(); err == nil {
		if err := state.SavePrefsSnapshot(doc); err != nil {
			logger.Warn("preference snapshot not saved", "error", err)
		}
	}
	if err := convs.Load(ctx); err != nil {
		logger.Warn("conversations not warmed", "error", err)
	} else if key, err := state.LoadCurrentConversation(); err == nil && key != "" {
		if err := convs.SetCurrent(key); err != nil {
			logger.Warn("stored selection no longer exists", "record_key", key)
		}
	}
	if err := files.Load(ctx); err != nil {
		logger.Warn("files not warmed", "error", err)
	}
	if err := emails.Load(ctx); err != nil {
		logger.Warn("email collections not warmed", "error", err)
	} else if doc, err := json.Marshal(map[string]any{
		"drafts":    emails.Drafts(),
		"templates": emails.Templates(),
		"log":       emails.SentLog(),
	}); err == nil {
		if err := state.SaveCollectionSnapshot("email", doc); err != nil {
			logger.Warn("email snapshot not saved", "error", err)
		}
	}
}
