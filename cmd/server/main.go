package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/flatmate/internal/authkit"
	"github.com/tyemirov/flatmate/internal/csrf"
	"github.com/tyemirov/flatmate/internal/platform"
	"github.com/tyemirov/flatmate/internal/platformpg"
	"github.com/tyemirov/flatmate/internal/web"
	"go.uber.org/zap"
)

const shutdownGracePeriod = 10 * time.Second

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildIdentityProvider = func(ctx context.Context, serverConfig ServerConfig) (platform.IdentityProvider, error) {
	if serverConfig.IdentityProvider == identityProviderOIDC {
		return platform.NewOIDCIdentityProvider(ctx, serverConfig.OIDCIssuerURL, serverConfig.OAuthClientID, serverConfig.OAuthClientSecret, serverConfig.OAuthRedirectURL)
	}
	validator, validatorErr := platform.NewGoogleTokenValidator(ctx)
	if validatorErr != nil {
		return nil, validatorErr
	}
	return platform.NewGoogleIdentityProvider(serverConfig.OAuthClientID, serverConfig.OAuthClientSecret, serverConfig.OAuthRedirectURL, validator), nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

var configFlags = []string{
	"listen_addr",
	"cookie_domain",
	"jwt_signing_key",
	"csrf_signing_key",
	"session_ttl",
	"refresh_ttl",
	"flow_state_ttl",
	"csrf_ttl",
	"csrf_enforce",
	"dev_insecure_http",
	"database_url",
	"vote_store",
	"redis_url",
	"identity_provider",
	"oauth_client_id",
	"oauth_client_secret",
	"oauth_redirect_url",
	"oidc_issuer_url",
	"login_path",
	"default_redirect",
	"enable_cors",
	"cors_allowed_origins",
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "flatmate",
		Short:   "Session, CSRF, and community vote API for the flatmate web app",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for session tokens")
	rootCmd.Flags().String("csrf_signing_key", "", "HS256 signing secret for CSRF tokens")
	rootCmd.Flags().Duration("session_ttl", 15*time.Minute, "Session token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 60*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Duration("flow_state_ttl", 10*time.Minute, "Lifetime of an in-progress OAuth sign-in")
	rootCmd.Flags().Duration("csrf_ttl", time.Hour, "CSRF token TTL")
	rootCmd.Flags().Bool("csrf_enforce", false, "Require X-CSRF-Token on community writes")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", defaultDatabaseURL, "Database URL (postgres:// or sqlite://)")
	rootCmd.Flags().String("vote_store", voteStoreGORM, "Vote table backend: gorm or pgx (pgx requires a postgres database_url)")
	rootCmd.Flags().String("redis_url", "", "Redis URL for shared sign-in flow state; empty keeps it in memory")
	rootCmd.Flags().String("identity_provider", identityProviderGoogle, "Identity provider: google or oidc")
	rootCmd.Flags().String("oauth_client_id", "", "OAuth client ID")
	rootCmd.Flags().String("oauth_client_secret", "", "OAuth client secret")
	rootCmd.Flags().String("oauth_redirect_url", "", "Absolute URL of /auth/callback registered with the provider")
	rootCmd.Flags().String("oidc_issuer_url", "", "OIDC issuer URL (identity_provider=oidc)")
	rootCmd.Flags().String("login_path", "/login", "Login page that receives ?error=")
	rootCmd.Flags().String("default_redirect", "/dashboard", "Post-login redirect when next is absent")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (switches cookies to SameSite=None)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")

	for _, flagName := range configFlags {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	defaultDatabaseURL = "sqlite://file::memory:?cache=shared"
	sessionIssuer      = "flatmate"

	identityProviderGoogle = "google"
	identityProviderOIDC   = "oidc"
	voteStoreGORM          = "gorm"
	voteStorePGX           = "pgx"

	configCodeDotEnv                  = "config.dotenv"
	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeMissingCSRFSigningKey   = "config.missing_csrf_signing_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeUnsupportedProvider     = "config.unsupported_identity_provider"
	configCodeMissingOAuthClientID    = "config.missing_oauth_client_id"
	configCodeMissingOAuthRedirectURL = "config.missing_oauth_redirect_url"
	configCodeMissingOIDCIssuerURL    = "config.missing_oidc_issuer_url"
	configCodeInvalidVoteStore        = "config.invalid_vote_store"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeIdentityProviderInit    = "config.identity_provider_init"
)

// ServerConfig is the validated process configuration.
type ServerConfig struct {
	ListenAddr         string
	Platform           platform.Config
	CSRF               csrf.Config
	CSRFEnforce        bool
	DatabaseURL        string
	VoteStore          string
	RedisURL           string
	IdentityProvider   string
	OAuthClientID      string
	OAuthClientSecret  string
	OAuthRedirectURL   string
	OIDCIssuerURL      string
	LoginPath          string
	DefaultRedirect    string
	EnableCORS         bool
	CORSAllowedOrigins []string
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	if loadErr := godotenv.Load(); loadErr != nil && !errors.Is(loadErr, fs.ErrNotExist) {
		return configError(configCodeDotEnv, loadErr.Error())
	}
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates configuration from viper.
func LoadServerConfig() (ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	csrfSigningKey := viper.GetString("csrf_signing_key")
	if csrfSigningKey == "" {
		return ServerConfig{}, configError(configCodeMissingCSRFSigningKey, "csrf_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	flowStateTTL := 10 * time.Minute
	if configuredFlowStateTTL := viper.GetDuration("flow_state_ttl"); configuredFlowStateTTL > 0 {
		flowStateTTL = configuredFlowStateTTL
	}

	identityProvider := strings.ToLower(strings.TrimSpace(viper.GetString("identity_provider")))
	if identityProvider == "" {
		identityProvider = identityProviderGoogle
	}
	if identityProvider != identityProviderGoogle && identityProvider != identityProviderOIDC {
		return ServerConfig{}, configError(configCodeUnsupportedProvider, "identity_provider must be google or oidc")
	}

	oauthClientID := viper.GetString("oauth_client_id")
	if oauthClientID == "" {
		return ServerConfig{}, configError(configCodeMissingOAuthClientID, "oauth_client_id must be provided")
	}

	oauthRedirectURL := viper.GetString("oauth_redirect_url")
	if oauthRedirectURL == "" {
		return ServerConfig{}, configError(configCodeMissingOAuthRedirectURL, "oauth_redirect_url must be provided")
	}

	oidcIssuerURL := viper.GetString("oidc_issuer_url")
	if identityProvider == identityProviderOIDC && oidcIssuerURL == "" {
		return ServerConfig{}, configError(configCodeMissingOIDCIssuerURL, "oidc_issuer_url must be provided when identity_provider is oidc")
	}

	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		databaseURL = defaultDatabaseURL
	}

	voteStore := strings.ToLower(strings.TrimSpace(viper.GetString("vote_store")))
	switch voteStore {
	case "", voteStoreGORM:
		voteStore = voteStoreGORM
	case voteStorePGX:
		if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
			return ServerConfig{}, configError(configCodeInvalidVoteStore, "vote_store pgx requires a postgres database_url")
		}
	default:
		return ServerConfig{}, configError(configCodeInvalidVoteStore, "vote_store must be gorm or pgx")
	}

	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	enableCORS := viper.GetBool("enable_cors")
	cookieDomain := viper.GetString("cookie_domain")

	sameSiteMode := http.SameSiteLaxMode
	if enableCORS {
		sameSiteMode = http.SameSiteNoneMode
	}

	return ServerConfig{
		ListenAddr: viper.GetString("listen_addr"),
		Platform: platform.Config{
			SessionSigningKey:   []byte(jwtSigningKey),
			SessionIssuer:       sessionIssuer,
			CookieDomain:        cookieDomain,
			SessionCookieName:   "app_session",
			RefreshCookieName:   "app_refresh",
			FlowStateCookieName: "app_flow_state",
			SessionTTL:          sessionTTL,
			RefreshTTL:          refreshTTL,
			FlowStateTTL:        flowStateTTL,
			SameSiteMode:        sameSiteMode,
			AllowInsecureHTTP:   devInsecureHTTP,
		},
		CSRF: csrf.Config{
			SigningKey:        []byte(csrfSigningKey),
			Issuer:            sessionIssuer,
			TTL:               viper.GetDuration("csrf_ttl"),
			CookieName:        csrf.DefaultCookieName,
			CookieDomain:      cookieDomain,
			SameSiteMode:      sameSiteMode,
			AllowInsecureHTTP: devInsecureHTTP,
		},
		CSRFEnforce:        viper.GetBool("csrf_enforce"),
		DatabaseURL:        databaseURL,
		VoteStore:          voteStore,
		RedisURL:           viper.GetString("redis_url"),
		IdentityProvider:   identityProvider,
		OAuthClientID:      oauthClientID,
		OAuthClientSecret:  viper.GetString("oauth_client_secret"),
		OAuthRedirectURL:   oauthRedirectURL,
		OIDCIssuerURL:      oidcIssuerURL,
		LoginPath:          viper.GetString("login_path"),
		DefaultRedirect:    viper.GetString("default_redirect"),
		EnableCORS:         enableCORS,
		CORSAllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}
	ctx := commandContext

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	database, databaseErr := platform.OpenDatabase(ctx, serverConfig.DatabaseURL)
	if databaseErr != nil {
		return databaseErr
	}
	defer func() { _ = database.Close() }()
	logger.Info("database ready", zap.String("driver", database.Driver()))

	var flowStates platform.FlowStateStore
	if serverConfig.RedisURL != "" {
		redisClient, redisErr := platform.NewRedisClient(ctx, serverConfig.RedisURL)
		if redisErr != nil {
			return redisErr
		}
		defer func() { _ = redisClient.Close() }()
		flowStates = platform.NewRedisFlowStateStore(redisClient, serverConfig.Platform.FlowStateTTL)
		logger.Info("using redis flow state store")
	} else {
		flowStates = platform.NewMemoryFlowStateStore(serverConfig.Platform.FlowStateTTL)
		logger.Info("using in-memory flow state store")
	}

	var votes platform.VoteTable = platform.NewDatabaseVoteTable(database)
	if serverConfig.VoteStore == voteStorePGX {
		pool, poolErr := platformpg.BuildPool(ctx, serverConfig.DatabaseURL)
		if poolErr != nil {
			return poolErr
		}
		defer pool.Close()
		if schemaErr := platformpg.EnsureSchema(ctx, pool); schemaErr != nil {
			return schemaErr
		}
		votes = platformpg.NewPostgresVoteTable(pool)
		logger.Info("using pgx vote table")
	}

	identityProvider, identityErr := buildIdentityProvider(ctx, serverConfig)
	if identityErr != nil {
		return fmt.Errorf("%s: %w", configCodeIdentityProviderInit, identityErr)
	}

	clock := platform.NewSystemClock()
	metricsRecorder := platform.NewCounterMetrics()
	factory, factoryErr := platform.NewFactory(platform.Services{
		Config:        serverConfig.Platform,
		Users:         platform.NewDatabaseUserStore(database),
		RefreshTokens: platform.NewDatabaseRefreshTokenStore(database, clock),
		FlowStates:    flowStates,
		Identity:      identityProvider,
		Votes:         votes,
		Clock:         clock,
		Logger:        logger,
		Metrics:       metricsRecorder,
	})
	if factoryErr != nil {
		return factoryErr
	}

	csrfConfig := serverConfig.CSRF
	csrfConfig.Clock = clock
	csrfIssuer, csrfErr := csrf.NewIssuer(csrfConfig)
	if csrfErr != nil {
		return csrfErr
	}

	dependencies := authkit.Dependencies{
		Clients:         factory,
		Logger:          logger,
		Metrics:         metricsRecorder,
		LoginPath:       serverConfig.LoginPath,
		DefaultRedirect: serverConfig.DefaultRedirect,
	}
	authkit.MountAuthRoutes(router, dependencies)
	router.GET("/api/csrf-token", csrf.HandleIssue(csrfIssuer, logger))

	var communityRouter gin.IRouter = router
	if serverConfig.CSRFEnforce {
		communityRouter = router.Group("/", csrf.Protect(csrfIssuer, logger))
	}
	web.MountCommunityRoutes(communityRouter, dependencies)

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopSignals)
	stopWatching := make(chan struct{})
	shutdownDone := make(chan struct{})

	go func() {
		defer close(shutdownDone)
		select {
		case <-stopSignals:
		case <-stopWatching:
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", serverConfig.ListenAddr),
		zap.String("identity_provider", serverConfig.IdentityProvider),
		zap.String("vote_store", serverConfig.VoteStore),
		zap.Bool("csrf_enforce", serverConfig.CSRFEnforce))
	serveErr := serveHTTP(server)
	// Serve returns as soon as Shutdown starts; in-flight requests drain before the stores close.
	close(stopWatching)
	<-shutdownDone
	logger.Info("metrics", zap.Any("counters", metricsRecorder.Snapshot()))
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", serveErr)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
