package main

import (
	"chat-relay/internal/auth"
	"chat-relay/internal/clock"
	"chat-relay/internal/config"
	"chat-relay/internal/credentials"
	"chat-relay/internal/handlers"
	"chat-relay/internal/logger"
	"chat-relay/internal/repository/postgres"
	"chat-relay/internal/vault"
	"chat-relay/internal/ws"
	"net/http"
)

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load configuration")
	}

	logger.Log.Info("Initializing database...")
	database, err := postgres.NewPostgresDB(cfg.Database)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	if err := database.SeedDemoUser(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to seed demo user")
	}

	keyVault, err := vault.NewVault(cfg.Vault.MasterKey)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize key vault")
	}

	resolver := credentials.NewResolver(database, keyVault, clock.System{}, cfg.LLM.ClientCacheTTL)
	authService := auth.NewService(database, cfg.Auth)
	keyHandlers := handlers.NewAPIKeyHandlers(database, resolver)

	hub := ws.NewHub(resolver, database, authService, cfg.WS.HeartbeatInterval)
	hub.StartKeepAlive()
	defer hub.Stop()

	// Go 1.22+ method-based routing with path parameters
	mux := http.NewServeMux()

	// CORS preflight handler for OPTIONS requests
	corsHandler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusOK)
	}

	// Public routes
	mux.HandleFunc("POST /api/login", enableCORS(authService.LoginHandler))
	mux.HandleFunc("OPTIONS /api/login", corsHandler)
	mux.HandleFunc("POST /api/register", enableCORS(authService.RegisterHandler))
	mux.HandleFunc("OPTIONS /api/register", corsHandler)
	mux.HandleFunc("GET /api/health", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	mux.HandleFunc("OPTIONS /api/health", corsHandler)
	mux.HandleFunc("GET /api/models", enableCORS(handlers.ModelsHandler))
	mux.HandleFunc("OPTIONS /api/models", corsHandler)

	// Protected credential management routes
	mux.HandleFunc("POST /api/api-keys", enableCORS(authService.Middleware(keyHandlers.AddKeyHandler)))
	mux.HandleFunc("GET /api/api-keys", enableCORS(authService.Middleware(keyHandlers.ListKeysHandler)))
	mux.HandleFunc("OPTIONS /api/api-keys", corsHandler)
	mux.HandleFunc("POST /api/api-keys/test", enableCORS(authService.Middleware(keyHandlers.TestKeyHandler)))
	mux.HandleFunc("OPTIONS /api/api-keys/test", corsHandler)
	mux.HandleFunc("PUT /api/api-keys/{id}", enableCORS(authService.Middleware(keyHandlers.UpdateKeyHandler)))
	mux.HandleFunc("DELETE /api/api-keys/{id}", enableCORS(authService.Middleware(keyHandlers.DeleteKeyHandler)))
	mux.HandleFunc("OPTIONS /api/api-keys/{id}", corsHandler)

	// Websocket endpoint; auth happens during the handshake so anonymous
	// connections are still accepted
	mux.HandleFunc("GET /ws", hub.HandleWS)

	logger.Log.WithField("port", cfg.Server.Port).Info("Server starting")
	logger.Log.Infof("Health check: http://localhost:%s/api/health", cfg.Server.Port)
	logger.Log.Infof("Websocket endpoint: ws://localhost:%s/ws", cfg.Server.Port)

	if err := http.ListenAndServe(":"+cfg.Server.Port, mux); err != nil {
		logger.Log.WithError(err).Fatal("Server failed to start")
	}
}
