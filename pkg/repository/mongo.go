package repository

import (
	"context"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const auditService = "order-service"

// MongoRepository keeps the order audit trail: one document per lifecycle
// event, never updated.
type MongoRepository struct {
	client   *mongo.Client
	database *mongo.Database
	config   *config.MongoDBConfig
}

func NewMongoRepository(cfg *config.MongoDBConfig) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoRepository{
		client:   client,
		database: client.Database(cfg.Database),
		config:   cfg,
	}, nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// AuditLog is the stored form of a models.AuditEntry.
type AuditLog struct {
	Service   string    `bson:"service"`
	Action    string    `bson:"action"`
	EntityID  string    `bson:"entity_id"`
	ActorID   string    `bson:"actor_id,omitempty"`
	Data      bson.M    `bson:"data,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

func newAuditLog(entry models.AuditEntry, at time.Time) *AuditLog {
	var data bson.M
	if len(entry.Data) > 0 {
		data = make(bson.M, len(entry.Data))
		for k, v := range entry.Data {
			data[k] = v
		}
	}
	return &AuditLog{
		Service:   auditService,
		Action:    entry.Action,
		EntityID:  entry.EntityID,
		ActorID:   entry.ActorID,
		Data:      data,
		CreatedAt: at.UTC(),
	}
}

func (m *MongoRepository) Record(ctx context.Context, entry models.AuditEntry) error {
	_, err := m.collection().InsertOne(ctx, newAuditLog(entry, time.Now()))
	if err != nil {
		return models.Persistence("write audit log", err)
	}
	return nil
}

func (l *AuditLog) entry() models.AuditEntry {
	return models.AuditEntry{
		Action:   l.Action,
		EntityID: l.EntityID,
		ActorID:  l.ActorID,
		Data:     map[string]interface{}(l.Data),
		At:       l.CreatedAt,
	}
}

// History returns the newest audit entries for one order, newest first.
func (m *MongoRepository) History(ctx context.Context, orderID string, limit int64) ([]models.AuditEntry, error) {
	filter := bson.M{"entity_id": orderID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := m.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, models.Persistence("read audit log", err)
	}
	defer cursor.Close(ctx)

	var logs []*AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, models.Persistence("decode audit log", err)
	}
	entries := make([]models.AuditEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, l.entry())
	}
	return entries, nil
}

func (m *MongoRepository) collection() *mongo.Collection {
	name := m.config.Collection
	if name == "" {
		name = "order_audit"
	}
	return m.database.Collection(name)
}
