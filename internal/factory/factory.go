package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/sync/errgroup"

	"github.com/snackychef/auth-service/internal/bucketing"
	"github.com/snackychef/auth-service/internal/client"
	"github.com/snackychef/auth-service/internal/config"
	"github.com/snackychef/auth-service/internal/encryption"
	"github.com/snackychef/auth-service/internal/events"
	"github.com/snackychef/auth-service/internal/handler"
	"github.com/snackychef/auth-service/internal/hashing"
	"github.com/snackychef/auth-service/internal/mailer"
	"github.com/snackychef/auth-service/internal/model"
	redisrepo "github.com/snackychef/auth-service/internal/repository/redis"
	"github.com/snackychef/auth-service/internal/repository/scylla"
	"github.com/snackychef/auth-service/internal/service"
	"github.com/snackychef/auth-service/internal/token"
	"github.com/snackychef/auth-service/internal/util"
)

// Factory builds and owns every dependency of the service. Scylla and
// Redis are required and abort startup when unavailable; the analytics
// sinks (Kafka, ClickHouse, Elasticsearch) degrade gracefully, and SMTP
// falls back to log delivery outside production.
type Factory struct {
	config *config.Config

	redisClient      *client.RedisClient
	scyllaClient     *scylla.Client
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	hasher           *hashing.Hasher
	tokenManager     *token.Manager
	encryptionMgr    *encryption.Manager
	bucketingManager *bucketing.Manager
	eventRecorder    *events.Recorder
	mailSender       model.EmailSender

	authService *service.AuthService
	authHandler *handler.AuthHandler

	closeOnce sync.Once
	closed    chan struct{}
}

func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(); err != nil {
		return nil, err
	}
	if err := f.wire(); err != nil {
		return nil, err
	}

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	var initErrors []error

	if redisClient, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
	}

	if scyllaClient, err := scylla.NewClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
	}

	// The analytics sinks are optional everywhere: a dead broker must
	// never keep the auth flow from starting.
	if producer, err := client.NewKafkaProducer(f.config); err != nil {
		util.Warn("Kafka producer unavailable, events will skip kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	if esClient, err := client.NewElasticsearchClient(f.config); err != nil {
		util.Warn("Elasticsearch unavailable, events will skip indexing", util.ErrorField(err))
	} else {
		f.esClient = esClient
	}

	if chClient, err := client.NewClickHouseClient(f.config); err != nil {
		util.Warn("ClickHouse unavailable, events will skip analytics", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
	}

	// Scylla and Redis back every request, so a failed init is fatal in
	// every environment.
	if len(initErrors) > 0 {
		return fmt.Errorf("required backends unavailable: %v", initErrors)
	}

	return nil
}

func (f *Factory) initializeManagers() error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewManager(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	f.encryptionMgr = encryption.NewManager(f.config, kmsClient)

	tokenManager, err := token.NewManager(token.Config{
		AccessSecret:  []byte(f.config.Token.AccessSecret),
		RefreshSecret: []byte(f.config.Token.RefreshSecret),
		AccessTTL:     f.config.Token.AccessTTL,
		RefreshTTL:    f.config.Token.RefreshTTL(),
	})
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}
	f.tokenManager = tokenManager

	sender, err := mailer.NewSMTPSender(f.config.Mail)
	if err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("smtp sender: %w", err)
		}
		util.Warn("SMTP not configured, verification emails go to the log", util.ErrorField(err))
		f.mailSender = mailer.LogSender{}
	} else {
		f.mailSender = sender
	}

	if f.clickhouseClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := events.EnsureSchema(ctx, f.clickhouseClient)
		cancel()
		if err != nil {
			util.Warn("ClickHouse schema setup failed, events will skip analytics", util.ErrorField(err))
			_ = f.clickhouseClient.Close()
			f.clickhouseClient = nil
		}
	}

	f.eventRecorder = events.NewRecorder(
		f.kafkaProducer, f.clickhouseClient, f.esClient,
		f.bucketingManager, f.config)

	return nil
}

func (f *Factory) wire() error {
	if f.scyllaClient == nil || f.redisClient == nil {
		return fmt.Errorf("cannot wire services without scylla and redis clients")
	}

	userRepo := scylla.NewUserRepository(f.scyllaClient, f.bucketingManager)
	otpRepo := scylla.NewOTPRepository(f.scyllaClient)
	attempts := redisrepo.NewOTPAttemptCache(f.redisClient)

	f.authService = service.NewAuthService(
		userRepo, otpRepo, attempts,
		f.hasher, f.tokenManager, f.mailSender,
		f.eventRecorder, f.encryptionMgr, f.config)

	f.authHandler = handler.NewAuthHandler(f.authService, f.tokenManager, f.config)
	return nil
}

// HealthCheck probes the required backends in parallel.
func (f *Factory) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if f.scyllaClient == nil {
			return fmt.Errorf("scylla client not initialized")
		}
		return f.scyllaClient.HealthCheck(ctx)
	})
	g.Go(func() error {
		if f.redisClient == nil {
			return fmt.Errorf("redis client not initialized")
		}
		return f.redisClient.HealthCheck(ctx)
	})
	if f.clickhouseClient != nil {
		g.Go(func() error { return f.clickhouseClient.HealthCheck(ctx) })
	}
	if f.kafkaProducer != nil {
		g.Go(func() error { return f.kafkaProducer.HealthCheck(ctx) })
	}
	if f.esClient != nil {
		g.Go(func() error { return f.esClient.HealthCheck() })
	}

	return g.Wait()
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.eventRecorder != nil {
			f.eventRecorder.Close()
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.encryptionMgr != nil {
			f.encryptionMgr.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config           { return f.config }
func (f *Factory) AuthHandler() *handler.AuthHandler { return f.authHandler }
func (f *Factory) AuthService() *service.AuthService { return f.authService }
