package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/campusbridge/cutover/internal/config"
	"github.com/campusbridge/cutover/internal/pipeline"
	"github.com/campusbridge/cutover/pkg/database"
	"github.com/campusbridge/cutover/pkg/models"
)

// stores bundles the connected store wrappers for one command invocation.
type stores struct {
	cfg    *config.Config
	plan   *models.Plan
	source *pipeline.MongoSource
	target *pipeline.PostgresTarget
	object *pipeline.MinioStore

	mongoClient *mongo.Client
	pool        *pgxpool.Pool
}

// openStores loads config and plan, then connects the document and
// relational stores. Object storage connects only when requested.
func openStores(ctx context.Context, opts *GlobalOptions, withObjects bool) (*stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	plan, err := config.LoadPlan(opts.PlanFile)
	if err != nil {
		return nil, err
	}

	mongoClient, err := database.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	pool, err := database.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		disconnectMongo(mongoClient)
		return nil, err
	}

	s := &stores{
		cfg:         cfg,
		plan:        plan,
		source:      pipeline.NewMongoSource(mongoClient, cfg.SourceDB),
		target:      pipeline.NewPostgresTarget(pool),
		mongoClient: mongoClient,
		pool:        pool,
	}

	if withObjects {
		if err := cfg.ValidateObjectStorage(); err != nil {
			s.close()
			return nil, err
		}
		mc, err := database.ConnectObjectStorage(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
		if err != nil {
			s.close()
			return nil, err
		}
		s.object = pipeline.NewMinioStore(mc, cfg.S3Bucket)
	}
	return s, nil
}

func (s *stores) close() {
	if s.pool != nil {
		s.pool.Close()
	}
	disconnectMongo(s.mongoClient)
}

func disconnectMongo(client *mongo.Client) {
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Disconnect(ctx)
}
