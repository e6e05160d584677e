package store

import (
	"context"
	stderrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/id"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
	sourcesCollection  = "sources"
)

// mongoStore implements Factory on MongoDB. 计数与成本使用单文档 $inc，天然原子。
type mongoStore struct {
	db *mongo.Database
}

// NewMongo creates a MongoDB-backed store.
func NewMongo(db *mongo.Database) Factory {
	return &mongoStore{db: db}
}

func (s *mongoStore) Chats() ChatStore {
	return &mongoChats{db: s.db, chats: s.db.Collection(chatsCollection)}
}

func (s *mongoStore) Messages() MessageStore {
	return &mongoMessages{
		chats:    s.db.Collection(chatsCollection),
		messages: s.db.Collection(messagesCollection),
		sources:  s.db.Collection(sourcesCollection),
	}
}

// AutoMigrate 创建查询所需索引。
func (s *mongoStore) AutoMigrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		chatsCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "_id", Value: 1}}},
		},
		sourcesCollection: {
			{Keys: bson.D{{Key: "messageId", Value: 1}, {Key: "rank", Value: 1}}},
			{Keys: bson.D{{Key: "chatId", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.ErrDatabase.WithCause(err)
		}
	}
	return nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *mongoStore) Close() error { return nil }

func mongoError(err error, notFound *errors.Errno) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return notFound
	}
	return errors.ErrDatabase.WithCause(err)
}

func chatFilter(userID, chatID string) bson.M {
	return bson.M{"_id": chatID, "userId": userID}
}

type mongoChats struct {
	db    *mongo.Database
	chats *mongo.Collection
}

func (c *mongoChats) Create(ctx context.Context, chat *model.Chat) error {
	if chat.ID == "" {
		chat.ID = id.NewULID()
	}
	now := time.Now().UnixMilli()
	if chat.CreatedAt == 0 {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	if chat.HandoffState == "" {
		chat.HandoffState = model.HandoffNone
	}
	_, err := c.chats.InsertOne(ctx, chat)
	return mongoError(err, errors.ErrChatNotFound)
}

func (c *mongoChats) Get(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	var chat model.Chat
	if err := c.chats.FindOne(ctx, chatFilter(userID, chatID)).Decode(&chat); err != nil {
		return nil, mongoError(err, errors.ErrChatNotFound)
	}
	return &chat, nil
}

func (c *mongoChats) List(ctx context.Context, userID string) ([]*model.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := c.chats.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, mongoError(err, errors.ErrChatNotFound)
	}
	var chats []*model.Chat
	if err := cur.All(ctx, &chats); err != nil {
		return nil, mongoError(err, errors.ErrChatNotFound)
	}
	return chats, nil
}

func (c *mongoChats) findAndUpdate(ctx context.Context, filter bson.M, update bson.M) (*model.Chat, error) {
	var chat model.Chat
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if err := c.chats.FindOneAndUpdate(ctx, filter, update, opts).Decode(&chat); err != nil {
		return nil, mongoError(err, errors.ErrChatNotFound)
	}
	return &chat, nil
}

func (c *mongoChats) UpdateTitle(ctx context.Context, userID, chatID, title string) (*model.Chat, error) {
	return c.findAndUpdate(ctx, chatFilter(userID, chatID), bson.M{
		"$set": bson.M{"title": title, "updatedAt": time.Now().UnixMilli()},
	})
}

func (c *mongoChats) Delete(ctx context.Context, userID, chatID string) error {
	res, err := c.chats.DeleteOne(ctx, chatFilter(userID, chatID))
	if err != nil {
		return mongoError(err, errors.ErrChatNotFound)
	}
	if res.DeletedCount == 0 {
		return errors.ErrChatNotFound
	}
	if _, err := c.db.Collection(sourcesCollection).DeleteMany(ctx, bson.M{"chatId": chatID}); err != nil {
		return mongoError(err, errors.ErrChatNotFound)
	}
	_, err = c.db.Collection(messagesCollection).DeleteMany(ctx, bson.M{"chatId": chatID})
	return mongoError(err, errors.ErrChatNotFound)
}

// IncrementHandoffCounter 返回更新后的文档；$inc 不修改状态字段，所以返回的状态即自增时刻的状态。
func (c *mongoChats) IncrementHandoffCounter(ctx context.Context, userID, chatID string) (int, model.HandoffState, error) {
	chat, err := c.findAndUpdate(ctx, chatFilter(userID, chatID), bson.M{
		"$inc": bson.M{"handoffRequests": 1, "version": 1},
		"$set": bson.M{"updatedAt": time.Now().UnixMilli()},
	})
	if err != nil {
		return 0, "", err
	}
	return chat.HandoffRequests, chat.HandoffState, nil
}

func (c *mongoChats) SetHandoffState(ctx context.Context, userID, chatID string, expected, next model.HandoffState) error {
	filter := chatFilter(userID, chatID)
	filter["handoffState"] = expected
	res, err := c.chats.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"handoffState": next, "updatedAt": time.Now().UnixMilli()},
		"$inc": bson.M{"version": 1},
	})
	if err != nil {
		return mongoError(err, errors.ErrChatNotFound)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := c.Get(ctx, userID, chatID); err != nil {
		return err
	}
	return errors.ErrConcurrentUpdate
}

func (c *mongoChats) PopulateHandoff(ctx context.Context, userID, chatID, summary string) error {
	res, err := c.chats.UpdateOne(ctx, chatFilter(userID, chatID), bson.M{
		"$set": bson.M{"handoffObject": summary, "updatedAt": time.Now().UnixMilli()},
	})
	if err != nil {
		return mongoError(err, errors.ErrChatNotFound)
	}
	if res.MatchedCount == 0 {
		return errors.ErrChatNotFound
	}
	return nil
}

func (c *mongoChats) AddCost(ctx context.Context, userID, chatID string, delta model.CostTotals) error {
	res, err := c.chats.UpdateOne(ctx, chatFilter(userID, chatID), bson.M{
		"$inc": bson.M{"inputTokens": delta.InputTokens, "outputTokens": delta.OutputTokens, "cost": delta.Cost},
		"$set": bson.M{"updatedAt": time.Now().UnixMilli()},
	})
	if err != nil {
		return mongoError(err, errors.ErrChatNotFound)
	}
	if res.MatchedCount == 0 {
		return errors.ErrChatNotFound
	}
	return nil
}

type mongoMessages struct {
	chats    *mongo.Collection
	messages *mongo.Collection
	sources  *mongo.Collection
}

func (m *mongoMessages) AppendTurn(ctx context.Context, human, ai *model.Message) error {
	n, err := m.chats.CountDocuments(ctx, chatFilter(human.UserID, human.ChatID))
	if err != nil {
		return mongoError(err, errors.ErrChatNotFound)
	}
	if n == 0 {
		return errors.ErrChatNotFound
	}

	prepareTurn(human, ai)
	if _, err := m.messages.InsertMany(ctx, []any{human, ai}); err != nil {
		return mongoError(err, errors.ErrChatNotFound)
	}
	if len(ai.Sources) > 0 {
		docs := make([]any, len(ai.Sources))
		for i, s := range ai.Sources {
			docs[i] = s
		}
		if _, err := m.sources.InsertMany(ctx, docs); err != nil {
			return mongoError(err, errors.ErrChatNotFound)
		}
	}
	_, err = m.chats.UpdateOne(ctx, bson.M{"_id": human.ChatID}, bson.M{"$set": bson.M{"updatedAt": time.Now().UnixMilli()}})
	return mongoError(err, errors.ErrChatNotFound)
}

func (m *mongoMessages) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Message, error) {
	cur, err := m.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoError(err, errors.ErrMessageNotFound)
	}
	var msgs []*model.Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, mongoError(err, errors.ErrMessageNotFound)
	}
	return msgs, nil
}

func (m *mongoMessages) ListRecent(ctx context.Context, userID, chatID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	msgs, err := m.find(ctx, bson.M{"chatId": chatID, "userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (m *mongoMessages) List(ctx context.Context, userID, chatID, nextToken string, limit int) (*model.MessagePage, error) {
	cur, err := parseCursor(nextToken)
	if err != nil {
		return nil, errors.ErrInvalidParam.WithCause(err)
	}
	limit = normalizeLimit(limit)

	filter := bson.M{"chatId": chatID, "userId": userID}
	if cur != nil {
		filter["_id"] = bson.M{"$gt": cur.ID}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	msgs, err := m.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return page(msgs, limit), nil
}

func (m *mongoMessages) exists(ctx context.Context, userID, chatID, messageID string) error {
	n, err := m.messages.CountDocuments(ctx, bson.M{"_id": messageID, "chatId": chatID, "userId": userID})
	if err != nil {
		return mongoError(err, errors.ErrMessageNotFound)
	}
	if n == 0 {
		return errors.ErrMessageNotFound
	}
	return nil
}

func (m *mongoMessages) ListSources(ctx context.Context, userID, chatID, messageID string) ([]*model.Source, error) {
	if err := m.exists(ctx, userID, chatID, messageID); err != nil {
		return nil, err
	}
	cur, err := m.sources.Find(ctx, bson.M{"messageId": messageID}, options.Find().SetSort(bson.D{{Key: "rank", Value: 1}}))
	if err != nil {
		return nil, mongoError(err, errors.ErrMessageNotFound)
	}
	var sources []*model.Source
	if err := cur.All(ctx, &sources); err != nil {
		return nil, mongoError(err, errors.ErrMessageNotFound)
	}
	return sources, nil
}

func (m *mongoMessages) Delete(ctx context.Context, userID, chatID, messageID string) error {
	res, err := m.messages.DeleteOne(ctx, bson.M{"_id": messageID, "chatId": chatID, "userId": userID})
	if err != nil {
		return mongoError(err, errors.ErrMessageNotFound)
	}
	if res.DeletedCount == 0 {
		return errors.ErrMessageNotFound
	}
	_, err = m.sources.DeleteMany(ctx, bson.M{"messageId": messageID})
	return mongoError(err, errors.ErrMessageNotFound)
}

func (m *mongoMessages) UpdateFeedback(ctx context.Context, userID, chatID, messageID, thumb, feedback string) error {
	res, err := m.messages.UpdateOne(ctx,
		bson.M{"_id": messageID, "chatId": chatID, "userId": userID, "messageType": model.MessageAI},
		bson.M{"$set": bson.M{"thumb": thumb, "feedback": feedback}},
	)
	if err != nil {
		return mongoError(err, errors.ErrMessageNotFound)
	}
	if res.MatchedCount == 0 {
		return errors.ErrMessageNotFound
	}
	return nil
}
