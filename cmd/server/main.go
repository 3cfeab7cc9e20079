package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/qcom/smsotp/internal/clock"
	"github.com/qcom/smsotp/internal/config"
	"github.com/qcom/smsotp/internal/handlers"
	"github.com/qcom/smsotp/internal/repository"
	"github.com/qcom/smsotp/internal/service"
	"github.com/qcom/smsotp/internal/sms"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Log.Level).Warn("Unknown LOG_LEVEL, keeping info")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	clk := clock.New()

	otpRepo, closeRepo, err := initOTPRepository(ctx, cfg, clk, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP store")
	}
	defer closeRepo()

	generator, err := service.NewGenerator(cfg.OTP.RandomSource)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP generator")
	}
	if cfg.OTP.RandomSource == config.RandomMath {
		logger.Warn("OTP codes use a non-cryptographic random source")
	}

	otpService := service.NewOTPService(otpRepo, initSender(cfg, logger), generator, clk, &cfg.OTP, logger)
	otpHandlers := handlers.NewOTPHandlers(otpService, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(otpHandlers, cfg.Server.AllowedOrigins, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return
	}

	logger.Info("Server exited")
}

func initOTPRepository(ctx context.Context, cfg *config.Config, clk clock.Clocker, logger *logrus.Logger) (repository.OTPRepository, func(), error) {
	switch cfg.OTP.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Redis.Endpoint, err)
		}

		logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Using Redis OTP store")
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close Redis client")
			}
		}
		return repository.NewRedisOTPRepository(client, cfg.OTP.Retention, clk, logger), closeFn, nil

	case config.StoreDynamoDB:
		client, err := initDynamoDB(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("table", cfg.DynamoDB.TableName).Info("Using DynamoDB OTP store")
		return repository.NewDynamoOTPRepository(client, cfg.DynamoDB.TableName, cfg.OTP.Retention, logger), func() {}, nil

	default:
		repo := repository.NewMemoryOTPRepository(cfg.OTP.Retention, clk, logger)
		repo.StartJanitor(ctx, cfg.OTP.CleanupInterval)
		logger.Info("Using in-memory OTP store")
		return repo, func() {}, nil
	}
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func initSender(cfg *config.Config, logger *logrus.Logger) sms.Sender {
	if cfg.SMS.Provider == config.ProviderLog {
		logger.Warn("SMS_PROVIDER=log: OTP codes are written to the log, not delivered")
		return sms.NewLogSender(logger)
	}
	return sms.NewTwilioSender(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber, logger)
}
