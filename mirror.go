package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// VoucherMirror copies qualifying users into the secondary document store.
type VoucherMirror interface {
	// InsertRaw stores the document as received.
	InsertRaw(ctx context.Context, doc map[string]any) error
	// UpsertVoucher creates or refreshes the voucher of a user; the voucher
	// code is kept once issued.
	UpsertVoucher(ctx context.Context, userID int, total decimal.Decimal) (Voucher, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type MongoMirror struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoMirror(ctx context.Context, uri, database, collection string) (*MongoMirror, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	// One voucher per user. Raw documents carry no voucher_code and stay outside the index.
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().
			SetName("user_voucher_idx").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"voucher_code": bson.M{"$exists": true}}),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create voucher index: %w", err)
	}

	return &MongoMirror{client: client, collection: coll}, nil
}

func (m *MongoMirror) InsertRaw(ctx context.Context, doc map[string]any) error {
	if _, err := m.collection.InsertOne(ctx, bson.M(doc)); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (m *MongoMirror) UpsertVoucher(ctx context.Context, userID int, total decimal.Decimal) (Voucher, error) {
	amount, err := primitive.ParseDecimal128(total.String())
	if err != nil {
		return Voucher{}, fmt.Errorf("invalid total %s: %w", total, err)
	}

	now := time.Now().UTC()
	filter := bson.M{"user_id": userID, "voucher_code": bson.M{"$exists": true}}
	update := bson.M{
		"$set": bson.M{"total_spent": amount, "updated_at": now},
		"$setOnInsert": bson.M{
			"voucher_code": uuid.NewString(),
			"created_at":   now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc struct {
		UserID      int                  `bson:"user_id"`
		TotalSpent  primitive.Decimal128 `bson:"total_spent"`
		VoucherCode string               `bson:"voucher_code"`
		CreatedAt   time.Time            `bson:"created_at"`
		UpdatedAt   time.Time            `bson:"updated_at"`
	}
	err = m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert inserted the voucher first; this pass updates it.
		err = m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return Voucher{}, fmt.Errorf("failed to upsert voucher for user %d: %w", userID, err)
	}

	return Voucher{
		UserId:      doc.UserID,
		TotalSpent:  total,
		VoucherCode: doc.VoucherCode,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func (m *MongoMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoMirror) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
