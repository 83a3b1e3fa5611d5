package chat

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesCollectionName = "chat_messages"

type mongoRepo struct {
	collection *mongo.Collection
}

// NewMongoRepo returns a Repository over db and creates its indexes.
func NewMongoRepo(ctx context.Context, db *mongo.Database) (Repository, error) {
	r := &mongoRepo{collection: db.Collection(messagesCollectionName)}
	if err := r.initialize(ctx); err != nil {
		return nil, fmt.Errorf("create chat indexes: %w", err)
	}
	return r, nil
}

// Connect dials uri and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func (r *mongoRepo) initialize(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "conversationId", Value: 1},
				{Key: "createdAt", Value: -1},
			},
			Options: options.Index().SetName("ConversationTimeline"),
		},
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "senderId", Value: 1},
			},
			Options: options.Index().SetName("MessagesBySender"),
		},
	})
	return err
}

func (r *mongoRepo) Append(ctx context.Context, m *Message) error {
	doc := *m
	doc.ID = ""
	res, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		m.ID = oid.Hex()
	}
	return nil
}

func (r *mongoRepo) List(ctx context.Context, tenantID, conversationID string, before time.Time, limit int) ([]*Message, error) {
	selector := bson.M{
		"tenantId":       tenantID,
		"conversationId": conversationID,
	}
	if !before.IsZero() {
		selector["createdAt"] = bson.M{"$lt": before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, selector, opts)
	if err != nil {
		return nil, fmt.Errorf("find chat messages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Message
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode chat messages: %w", err)
	}
	return out, nil
}

func (r *mongoRepo) DeleteConversation(ctx context.Context, tenantID, conversationID string) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{
		"tenantId":       tenantID,
		"conversationId": conversationID,
	})
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	return res.DeletedCount, nil
}
