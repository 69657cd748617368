package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoConfig selects the collection used by MongoStore.
type MongoConfig struct {
	URI            string        `yaml:"uri" json:"-" env:"URI"`
	Database       string        `yaml:"database" json:"database" env:"DATABASE"`
	Collection     string        `yaml:"collection" json:"collection" env:"COLLECTION"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// mongoDocument is the stored shape; the session name is the _id.
type mongoDocument struct {
	Name string `bson:"_id"`
	Data `bson:",inline"`
}

// MongoStore keeps one document per session.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	owned  bool
	closed atomic.Bool
}

// NewMongoStore connects to cfg.URI and pings the server.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "browserflow"
	}
	if cfg.Collection == "" {
		cfg.Collection = SessionTable
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := NewMongoStoreFromCollection(client.Database(cfg.Database).Collection(cfg.Collection))
	s.owned = true
	return s, nil
}

// NewMongoStoreFromCollection uses an existing collection. Close does not
// disconnect the client.
func NewMongoStoreFromCollection(coll *mongo.Collection) *MongoStore {
	return &MongoStore{client: coll.Database().Client(), coll: coll}
}

func byName(name string) bson.D { return bson.D{{Key: "_id", Value: name}} }

func (s *MongoStore) Load(ctx context.Context, name string) (*Data, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var doc mongoDocument
	err := s.coll.FindOne(ctx, byName(name)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", name, err)
	}
	doc.Data.normalize()
	return &doc.Data, nil
}

func (s *MongoStore) Save(ctx context.Context, name string, data *Data) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := validateName(name); err != nil {
		return err
	}
	doc := mongoDocument{Name: name, Data: *data}
	_, err := s.coll.ReplaceOne(ctx, byName(name), doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save session %s: %w", name, err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, name string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if _, err := s.coll.DeleteOne(ctx, byName(name)); err != nil {
		return fmt.Errorf("delete session %s: %w", name, err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var docs []struct {
		Name string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	if s.closed.Swap(true) || !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
