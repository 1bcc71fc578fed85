package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/orchestrated-saga/framework/core"
	"github.com/akriventsev/orchestrated-saga/framework/saga"
)

// MongoConfig конфигурация подключения к MongoDB
type MongoConfig struct {
	URI              string
	Database         string
	EventCollection  string
	RecordCollection string
	Timeout          time.Duration
	MaxPoolSize      uint64
	MinPoolSize      uint64
}

// Validate проверяет корректность конфигурации
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if c.EventCollection == "" || c.RecordCollection == "" {
		return fmt.Errorf("collections cannot be empty")
	}
	if c.MaxPoolSize == 0 {
		return fmt.Errorf("MaxPoolSize must be greater than 0")
	}
	return nil
}

// DefaultMongoConfig возвращает конфигурацию MongoDB по умолчанию
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:              "mongodb://localhost:27017",
		Database:         "orchestrated_saga",
		EventCollection:  "saga_events",
		RecordCollection: "participant_records",
		Timeout:          10 * time.Second,
		MaxPoolSize:      100,
		MinPoolSize:      10,
	}
}

// Mongo клиент MongoDB, общий для хранилищ одного процесса
type Mongo struct {
	config MongoConfig
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo подключается к MongoDB
func NewMongo(ctx context.Context, config MongoConfig) (*Mongo, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongo config: %w", err)
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize).
		SetTimeout(config.Timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &Mongo{
		config: config,
		client: client,
		db:     client.Database(config.Database),
	}, nil
}

// Start проверяет подключение и создает индексы (реализация core.Lifecycle)
func (m *Mongo) Start(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	_, err := m.db.Collection(m.config.EventCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "orderId", Value: 1}, {Key: "storedAt", Value: -1}}},
		{Keys: bson.D{{Key: "transactionId", Value: 1}, {Key: "storedAt", Value: -1}}},
		{Keys: bson.D{{Key: "transactionId", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}

	_, err = m.db.Collection(m.config.RecordCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "participant", Value: 1},
			{Key: "orderId", Value: 1},
			{Key: "transactionId", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create record index: %w", err)
	}
	return nil
}

// Stop отключается от MongoDB (реализация core.Lifecycle)
func (m *Mongo) Stop(ctx context.Context) error {
	err := m.client.Disconnect(ctx)
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return nil
	}
	return err
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (m *Mongo) IsRunning() bool {
	return m.client != nil
}

// Name возвращает имя компонента (реализация core.Component)
func (m *Mongo) Name() string {
	return "mongodb"
}

// Type возвращает тип компонента (реализация core.Component)
func (m *Mongo) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck выполняет ping
func (m *Mongo) HealthCheck(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

type eventDocument struct {
	EventID       string     `bson:"eventId"`
	TransactionID string     `bson:"transactionId"`
	OrderID       string     `bson:"orderId"`
	Source        string     `bson:"source"`
	Status        string     `bson:"status"`
	Event         saga.Event `bson:"event"`
	StoredAt      time.Time  `bson:"storedAt"`
}

// MongoEventStore журнал событий в коллекции MongoDB
type MongoEventStore struct {
	*Mongo
	collection *mongo.Collection
}

// NewMongoEventStore создает журнал событий поверх клиента
func NewMongoEventStore(db *Mongo) *MongoEventStore {
	return &MongoEventStore{
		Mongo:      db,
		collection: db.db.Collection(db.config.EventCollection),
	}
}

// Name возвращает имя компонента (реализация core.Component)
func (s *MongoEventStore) Name() string {
	return "mongodb-event-store"
}

// Append добавляет событие
func (s *MongoEventStore) Append(ctx context.Context, event saga.Event) error {
	_, err := s.collection.InsertOne(ctx, eventDocument{
		EventID:       event.ID,
		TransactionID: event.TransactionID,
		OrderID:       event.OrderID,
		Source:        string(event.Source),
		Status:        string(event.Status),
		Event:         event,
		StoredAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to append saga event: %w", err)
	}
	return nil
}

// newestFirst сортировка по времени записи, _id разрешает совпадения внутри миллисекунды
func newestFirst() bson.D {
	return bson.D{{Key: "storedAt", Value: -1}, {Key: "_id", Value: -1}}
}

// FindLatest возвращает самое свежее событие по orderId, иначе по transactionId
func (s *MongoEventStore) FindLatest(ctx context.Context, filter saga.EventFilter) (saga.Event, error) {
	if err := filter.Validate(); err != nil {
		return saga.Event{}, err
	}

	query := bson.D{{Key: "transactionId", Value: filter.TransactionID}}
	if filter.OrderID != "" {
		query = bson.D{{Key: "orderId", Value: filter.OrderID}}
	}

	var doc eventDocument
	err := s.collection.FindOne(ctx, query, options.FindOne().SetSort(newestFirst())).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return saga.Event{}, core.NewError(core.ErrNotFound, "Event not found by filter")
	}
	if err != nil {
		return saga.Event{}, fmt.Errorf("failed to find saga event: %w", err)
	}
	return doc.Event, nil
}

// FindAll возвращает все события, самые свежие первыми
func (s *MongoEventStore) FindAll(ctx context.Context) ([]saga.Event, error) {
	cursor, err := s.collection.Find(ctx, bson.D{}, options.Find().SetSort(newestFirst()))
	if err != nil {
		return nil, fmt.Errorf("failed to find saga events: %w", err)
	}

	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode saga events: %w", err)
	}

	events := make([]saga.Event, 0, len(docs))
	for _, doc := range docs {
		events = append(events, doc.Event)
	}
	return events, nil
}

// RollbackIssued проверяет наличие событий отката по транзакции
func (s *MongoEventStore) RollbackIssued(ctx context.Context, transactionID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.D{
		{Key: "transactionId", Value: transactionID},
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
			string(saga.StatusFail), string(saga.StatusRollbackPending),
		}}}},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check rollback: %w", err)
	}
	return count > 0, nil
}

type recordDocument struct {
	Participant   string        `bson:"participant"`
	OrderID       string        `bson:"orderId"`
	TransactionID string        `bson:"transactionId"`
	Status        string        `bson:"status"`
	Changes       []saga.Change `bson:"changes"`
	Message       string        `bson:"message"`
	CreatedAt     time.Time     `bson:"createdAt"`
	UpdatedAt     time.Time     `bson:"updatedAt"`
}

func toRecordDocument(r saga.Record) recordDocument {
	return recordDocument{
		Participant:   r.Participant,
		OrderID:       r.OrderID,
		TransactionID: r.TransactionID,
		Status:        string(r.Status),
		Changes:       r.Changes,
		Message:       r.Message,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (d recordDocument) record() saga.Record {
	return saga.Record{
		Participant:   d.Participant,
		OrderID:       d.OrderID,
		TransactionID: d.TransactionID,
		Status:        saga.RecordStatus(d.Status),
		Changes:       d.Changes,
		Message:       d.Message,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func keyFilter(key saga.Key) bson.D {
	return bson.D{
		{Key: "participant", Value: key.Participant},
		{Key: "orderId", Value: key.OrderID},
		{Key: "transactionId", Value: key.TransactionID},
	}
}

// MongoRecordStore записи участников, уникальность ключа держит уникальный индекс
type MongoRecordStore struct {
	*Mongo
	collection *mongo.Collection
}

// NewMongoRecordStore создает хранилище записей поверх клиента
func NewMongoRecordStore(db *Mongo) *MongoRecordStore {
	return &MongoRecordStore{
		Mongo:      db,
		collection: db.db.Collection(db.config.RecordCollection),
	}
}

// Name возвращает имя компонента (реализация core.Component)
func (s *MongoRecordStore) Name() string {
	return "mongodb-record-store"
}

// Insert вставляет запись, нарушение уникального индекса означает повторную доставку
func (s *MongoRecordStore) Insert(ctx context.Context, record saga.Record) (bool, error) {
	_, err := s.collection.InsertOne(ctx, toRecordDocument(record))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert participant record: %w", err)
	}
	return true, nil
}

// Get возвращает запись по ключу
func (s *MongoRecordStore) Get(ctx context.Context, key saga.Key) (saga.Record, bool, error) {
	var doc recordDocument
	err := s.collection.FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return saga.Record{}, false, nil
	}
	if err != nil {
		return saga.Record{}, false, fmt.Errorf("failed to read participant record: %w", err)
	}
	return doc.record(), true, nil
}

// Update обновляет статус, изменения и сообщение записи, если ее статус равен from
func (s *MongoRecordStore) Update(ctx context.Context, record saga.Record, from saga.RecordStatus) (bool, error) {
	filter := append(keyFilter(record.Key()), bson.E{Key: "status", Value: string(from)})
	res, err := s.collection.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: string(record.Status)},
		{Key: "changes", Value: record.Changes},
		{Key: "message", Value: record.Message},
		{Key: "updatedAt", Value: record.UpdatedAt},
	}}})
	if err != nil {
		return false, fmt.Errorf("failed to update participant record: %w", err)
	}
	return res.MatchedCount == 1, nil
}
