package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const adminAccountName = "admin"

// userDoc is the persisted shape of an account. Matches live inside the
// user document so history reads never need a join.
type userDoc struct {
	Username       string         `bson:"username"`
	ExternalUserID string         `bson:"externalUserId,omitempty"`
	Coins          float64        `bson:"coins"`
	Matches        []MatchSummary `bson:"matches,omitempty"`
}

// MongoLedger persists accounts in a users collection. Balance changes
// go through guarded single-document updates, so concurrent settlements
// against the same account serialize on the server.
type MongoLedger struct {
	users *mongo.Collection
}

// NewMongoLedger connects to MongoDB at uri and verifies the connection.
func NewMongoLedger(ctx context.Context, uri, database string) (*MongoLedger, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoLedger{users: client.Database(database).Collection("users")}, client, nil
}

func (l *MongoLedger) FindByUsername(ctx context.Context, username string) (Account, bool, error) {
	return l.findOne(ctx, bson.M{"username": username})
}

func (l *MongoLedger) FindByExternalID(ctx context.Context, externalID string) (Account, bool, error) {
	return l.findOne(ctx, bson.M{"externalUserId": externalID})
}

func (l *MongoLedger) findOne(ctx context.Context, filter bson.M) (Account, bool, error) {
	var doc userDoc
	err := l.users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return Account{Username: doc.Username, ExternalUserID: doc.ExternalUserID, Coins: doc.Coins}, true, nil
}

// Create upserts the account keyed by username. An existing account is
// returned untouched, so retried creations are safe.
func (l *MongoLedger) Create(ctx context.Context, username, externalID string, initialCoins float64) (Account, error) {
	filter := bson.M{"username": username}
	update := bson.M{"$setOnInsert": bson.M{
		"username":       username,
		"externalUserId": externalID,
		"coins":          initialCoins,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc userDoc
	if err := l.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return Account{}, fmt.Errorf("create account %q: %w", username, err)
	}
	return Account{Username: doc.Username, ExternalUserID: doc.ExternalUserID, Coins: doc.Coins}, nil
}

func (l *MongoLedger) Credit(ctx context.Context, username string, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	res, err := l.users.UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$inc": bson.M{"coins": amount}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("credit: account %q not found", username)
	}
	return nil
}

// Debit decrements only when the balance covers the amount. The balance
// check rides in the filter so two racing debits cannot both succeed
// against coins that are only there once.
func (l *MongoLedger) Debit(ctx context.Context, username string, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	res, err := l.users.UpdateOne(ctx,
		bson.M{"username": username, "coins": bson.M{"$gte": amount}},
		bson.M{"$inc": bson.M{"coins": -amount}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Distinguish a missing account from an uncovered balance.
		_, found, ferr := l.FindByUsername(ctx, username)
		if ferr != nil {
			return ferr
		}
		if !found {
			return fmt.Errorf("debit: account %q not found", username)
		}
		return ErrInsufficientCoins
	}
	return nil
}

// RecordMatch appends the summary unless one with the same session id is
// already present. The session filter makes the append idempotent.
func (l *MongoLedger) RecordMatch(ctx context.Context, username string, match MatchSummary) error {
	res, err := l.users.UpdateOne(ctx,
		bson.M{"username": username, "matches.sessionId": bson.M{"$ne": match.SessionID}},
		bson.M{"$push": bson.M{"matches": match}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		_, found, ferr := l.FindByUsername(ctx, username)
		if ferr != nil {
			return ferr
		}
		if !found {
			return fmt.Errorf("record match: account %q not found", username)
		}
		return ErrDuplicateMatch
	}
	return nil
}

// MongoAdminSink accumulates house fees on a singleton admin document.
type MongoAdminSink struct {
	admin *mongo.Collection
}

// NewMongoAdminSink uses the admin collection of the given database.
func NewMongoAdminSink(client *mongo.Client, database string) *MongoAdminSink {
	return &MongoAdminSink{admin: client.Database(database).Collection("admin")}
}

func (s *MongoAdminSink) Credit(ctx context.Context, amount float64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	_, err := s.admin.UpdateOne(ctx,
		bson.M{"name": adminAccountName},
		bson.M{"$inc": bson.M{"coins": amount}},
		options.Update().SetUpsert(true))
	return err
}

// MongoRevshare reads affiliate approval state from the revshare
// requests collection.
type MongoRevshare struct {
	requests *mongo.Collection
}

// NewMongoRevshare uses the revshare_requests collection of the given
// database.
func NewMongoRevshare(client *mongo.Client, database string) *MongoRevshare {
	return &MongoRevshare{requests: client.Database(database).Collection("revshare_requests")}
}

func (r *MongoRevshare) FindApprovalStatus(ctx context.Context, externalID string) (ApprovalStatus, bool, error) {
	var doc struct {
		Status ApprovalStatus `bson:"status"`
	}
	err := r.requests.FindOne(ctx, bson.M{"userId": externalID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc.Status, true, nil
}
