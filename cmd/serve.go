package cmd

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/bytecinema/cinema-auth/app/controller"
	"github.com/bytecinema/cinema-auth/app/middleware"
	"github.com/bytecinema/cinema-auth/app/notify"
	"github.com/bytecinema/cinema-auth/app/repository"
	"github.com/bytecinema/cinema-auth/app/service"
	"github.com/bytecinema/cinema-auth/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the HTTP (Echo) server for the authentication service.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogging(cfg)

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping redis")
	}

	producer := notify.NewProducer(cfg.KafkaBrokers, cfg.KafkaOTPTopic)
	defer producer.Close()

	userRepo := repository.NewUserRepository(db)
	otpStore := repository.NewOTPStore(rdb, cfg.OTPTTL, cfg.OTPMaxAttempts)
	tokenService := service.NewTokenService(cfg)
	authService := service.NewAuthService(userRepo, otpStore, producer, tokenService, cfg)
	userService := service.NewUserService(userRepo)

	startHTTPServer(cfg, authService, userService, tokenService)
}

func configureLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, falling back to info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func startHTTPServer(
	cfg *config.Config,
	authService *service.AuthService,
	userService *service.UserService,
	tokenService *service.TokenService,
) {
	e := echo.New()
	defer e.Close()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	authController := controller.NewAuthController(authService, cfg)
	userController := controller.NewUserController(userService)
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	auth := e.Group("/auth")
	auth.POST("/register", authController.Register)
	auth.POST("/verify", authController.VerifyOTP)
	auth.POST("/resend-otp", authController.ResendOTP)
	auth.POST("/login", authController.Login)
	auth.GET("/refresh", authController.Refresh)
	auth.GET("/account", authController.Account, authMiddleware.OptionalAuth)
	auth.POST("/logout", authController.Logout, authMiddleware.RequireAuth)

	users := e.Group("/users")
	users.POST("", userController.Create)
	users.GET("/:id", userController.Fetch)
	users.DELETE("/:id", userController.Delete)

	httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
	if err := e.Start(httpAddr); err != nil {
		logrus.WithError(err).Fatal("Failed to start HTTP server")
	}
}
