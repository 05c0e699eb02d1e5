package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimbusdesk/nimbusdesk/pkg/event"
	"github.com/nimbusdesk/nimbusdesk/pkg/handler"
	"github.com/nimbusdesk/nimbusdesk/pkg/prefs"
	"github.com/nimbusdesk/nimbusdesk/pkg/service"
	"github.com/nimbusdesk/nimbusdesk/pkg/store"
)

// appServices bundles everything the router exposes.
type appServices struct {
	Auth      *service.AuthService
	State     *service.StateService
	Workbench *service.WorkbenchService
	Convs     *store.ConversationStore
	Files     *store.FileStore
	Emails    *store.EmailStore
	Prefs     *prefs.Manager
	Emitter   *event.Emitter
}

// SetupRouter builds the HTTP surface. The auth endpoints and the event
// socket are open; everything else requires a session.
func SetupRouter(svcs *appServices) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	api := r.Group("/api")

	handler.NewAuthHandler(svcs.Auth).RegisterRoutes(api)
	api.GET("/events/ws", event.NewWSHandler(svcs.Emitter).Handle)

	guarded := api.Group("")
	guarded.Use(handler.RequireSession(svcs.Auth))
	handler.NewConversationHandler(svcs.Convs, svcs.Workbench, svcs.State).RegisterRoutes(guarded)
	handler.NewFileHandler(svcs.Files).RegisterRoutes(guarded)
	handler.NewEmailHandler(svcs.Emails, svcs.Files).RegisterRoutes(guarded)
	handler.NewPrefsHandler(svcs.Prefs).RegisterRoutes(guarded)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
