package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"homehelp/config"
	"homehelp/cron"
	"homehelp/database"
	preferencesRepo "homehelp/database/repository/preferences"
	"homehelp/handlers"
	"homehelp/middleware"
	"homehelp/realtime"
	"homehelp/routes"
	"homehelp/services/availability"
	"homehelp/services/discovery"
	"homehelp/services/geocoding"
	"homehelp/services/location"
	"homehelp/services/savedlocation"
	"homehelp/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "homehelp",
	Short: "Location resolution and availability discovery backend",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadConfig()
		utils.InitializeLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func main() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the discovery API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "geocode <query>",
		Short: "Forward-geocode an address through the configured provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := newGeocoder().ForwardGeocode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(hits)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "reverse <lat> <lng>",
		Short: "Reverse-geocode a coordinate through the configured provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("lat: %w", err)
			}
			lng, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("lng: %w", err)
			}
			addr, err := newGeocoder().ReverseGeocode(cmd.Context(), lat, lng)
			if err != nil {
				return err
			}
			return printJSON(addr)
		},
	})
	tokenCmd := &cobra.Command{
		Use:   "token <customerId>",
		Short: "Mint a development bearer token for a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := utils.GenerateToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newGeocoder builds the provider client behind the Redis cache.
func newGeocoder() geocoding.Geocoder {
	logger := utils.GetLogger()
	provider := geocoding.NewNominatimClient(geocoding.NominatimConfig{
		BaseURL:    config.AppConfig.GeocoderBaseURL,
		UserAgent:  config.AppConfig.GeocoderUserAgent,
		Timeout:    config.AppConfig.HTTPTimeout,
		RatePerSec: config.AppConfig.GeocoderRatePerSec,
	}, logger)
	cache := geocoding.NewRedisCache(utils.GetCacheClient())
	return geocoding.NewCachedGeocoder(provider, cache, config.AppConfig.GeocodeCacheTTL, logger)
}

// newPreferenceBackend picks the saved-location backend. The mongo backend
// talks to the preference collection directly; the default goes through the
// remote user-settings API.
func newPreferenceBackend() (savedlocation.PreferenceBackend, *mongo.Client, error) {
	logger := utils.GetLogger()
	switch config.AppConfig.PreferenceBackend {
	case "mongo":
		if err := database.InitDB(); err != nil {
			return nil, nil, err
		}
		if database.MongoClient == nil {
			return nil, nil, fmt.Errorf("PREFERENCE_BACKEND=mongo requires DATABASE_URL")
		}
		return preferencesRepo.NewMongoPreferenceRepo(database.Database(), logger), database.MongoClient, nil
	case "", "http":
		return savedlocation.NewHTTPBackend(config.AppConfig.PreferenceBaseURL, config.AppConfig.HTTPTimeout, logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown PREFERENCE_BACKEND %q", config.AppConfig.PreferenceBackend)
	}
}

func serve() error {
	logger := utils.GetLogger()
	defer func() { _ = logger.Sync() }()

	backend, mongoClient, err := newPreferenceBackend()
	if err != nil {
		return fmt.Errorf("main: preference backend: %w", err)
	}

	store := savedlocation.NewStore(backend, savedlocation.DefaultOptions, logger)
	searcher := availability.NewClient(config.AppConfig.AvailabilityBaseURL, config.AppConfig.HTTPTimeout, config.AppConfig.DefaultRadiusKm, logger)

	sessions := discovery.NewSessionManager(discovery.Dependencies{
		Geocoder:       newGeocoder(),
		Saved:          store,
		Searcher:       searcher,
		WatchOptions:   location.DefaultWatchOptions,
		SearchDebounce: config.AppConfig.SearchDebounce,
		Logger:         logger,
	})
	hub := realtime.NewHub(config.AppConfig.DeviceCallTimeout, logger)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	utils.StartHealthMonitor(bgCtx, utils.GetCacheClient(), mongoClient)
	cron.StartSessionReaper(bgCtx, sessions, hub, config.AppConfig.SessionIdleTTL, config.AppConfig.SessionReapInterval, logger)

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.RateLimitMiddleware(config.AppConfig.MaxRequestsPerMin))

	handlerBundle := handlers.NewHandlerBundle(handlers.NewDiscoveryHandler(sessions, hub))
	routes.RegisterRoutes(router, handlerBundle)

	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Info("Starting server", zap.String("addr", srv.Addr), zap.String("preferenceBackend", config.AppConfig.PreferenceBackend))
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("main: server failed to start: %w", err)
	case <-quit:
	}
	logger.Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), utils.SessionTeardownTimeout)
	defer cancel()
	sessions.CloseAll()
	hub.CloseAll()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("main: server forced to shutdown", zap.Error(err))
	}
	database.CloseDB(ctx)
	if err := utils.GetCacheClient().Close(); err != nil {
		logger.Debug("main: closing redis", zap.Error(err))
	}

	logger.Info("main: server stopped gracefully")
	return nil
}
