package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

var (
	ErrFailedToConnectToMongo = errors.New("failed to connect to mongo")
	ErrHealthcheckFailed      = errors.New("mongo healthcheck failed")
)

// New creates a new mongo client, retrying the connection cfg.RetryAttempts times.
func New(ctx context.Context, cfg config.MongoConfig, log *logger.Logger) (*mongo.Client, error) {
	attempts := max(cfg.RetryAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := mongo.Connect(
			options.Client().
				ApplyURI(cfg.URI).
				SetConnectTimeout(cfg.ConnectTimeout).
				SetMaxPoolSize(cfg.MaxPoolSize).
				SetMinPoolSize(cfg.MinPoolSize).
				SetRetryWrites(true).
				SetRetryReads(true),
		)
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				log.Infow("Connected to MongoDB", "database", cfg.Database)
				return client, nil
			}
			_ = client.Disconnect(ctx)
		}

		log.Warnw("MongoDB connection attempt failed", "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrFailedToConnectToMongo, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrFailedToConnectToMongo
}

// Healthcheck returns a ping function for readiness probes.
func Healthcheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
