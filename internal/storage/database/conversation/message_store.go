// Package conversation 一對一訊息的 MongoDB 儲存
package conversation

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/chat"
	"chat-relay/internal/storage/database/mongoutil"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionName 訊息集合名稱
const CollectionName = "messages"

// TextCipher 訊息文字落地加解密
type TextCipher interface {
	Encrypt(plaintext, conversationKey string) (string, error)
	Decrypt(content, conversationKey string) (string, error)
}

// MessageStore 實作 chat.MessageStore
type MessageStore struct {
	collection *mongo.Collection
	cipher     TextCipher
}

// NewMessageStore 創建訊息存儲，cipher 為 nil 時以原文存放
func NewMessageStore(db *mongo.Database, cipher TextCipher) *MessageStore {
	return &MessageStore{
		collection: db.Collection(CollectionName),
		cipher:     cipher,
	}
}

var (
	newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}
	oldestFirst = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}
)

// visibleTo viewer 仍可見的訊息條件
func visibleTo(viewer string) bson.M {
	return bson.M{
		"deleted_for_everyone": false,
		"hidden_for":           bson.M{"$ne": viewer},
	}
}

// Create 寫入新訊息
func (s *MessageStore) Create(ctx context.Context, m *chat.Message) error {
	doc := m.Snapshot()
	if doc.HiddenFor == nil {
		// $addToSet 無法作用在 null 欄位
		doc.HiddenFor = []string{}
	}
	if s.cipher != nil && doc.Text != "" {
		sealed, err := s.cipher.Encrypt(doc.Text, doc.ConversationKey)
		if err != nil {
			return fmt.Errorf("conversation.Create: 加密失敗: %w", err)
		}
		doc.Text = sealed
	}

	_, err := s.collection.InsertOne(ctx, doc)
	return mongoutil.MapError("conversation.Create", err)
}

// Get 依 ID 取得訊息，已全域刪除視為不存在
func (s *MessageStore) Get(ctx context.Context, id string) (*chat.Message, error) {
	var m chat.Message
	err := s.collection.FindOne(ctx, bson.M{"_id": id, "deleted_for_everyone": false}).Decode(&m)
	if err != nil {
		return nil, mongoutil.MapError("conversation.Get", err)
	}
	if err := s.open(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AdvanceStatus 條件式推進狀態，只有目前為 from 的訊息會被更新
func (s *MessageStore) AdvanceStatus(ctx context.Context, ids []string, from, to chat.Status, at time.Time) (int64, error) {
	if next, ok := from.Next(); !ok || next != to {
		return 0, chat.NewValidationError("conversation.AdvanceStatus", "非法的狀態轉換")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	set := bson.M{"status": to}
	switch to {
	case chat.StatusDelivered:
		set["delivered_at"] = at
	case chat.StatusSeen:
		set["seen_at"] = at
	}

	result, err := s.collection.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": from, "deleted_for_everyone": false},
		bson.M{"$set": set},
	)
	if err != nil {
		return 0, mongoutil.MapError("conversation.AdvanceStatus", err)
	}
	return result.ModifiedCount, nil
}

// PendingSeen 取得 from 傳給 to 尚未 seen 的訊息
func (s *MessageStore) PendingSeen(ctx context.Context, from, to string) ([]*chat.Message, error) {
	filter := bson.M{
		"sender_id":            from,
		"receiver_id":          to,
		"deleted_for_everyone": false,
		"status":               bson.M{"$ne": chat.StatusSeen},
	}
	opts := options.Find().
		SetSort(oldestFirst).
		SetProjection(bson.M{"_id": 1, "sender_id": 1, "receiver_id": 1, "status": 1, "created_at": 1, "conversation_key": 1})
	return s.find(ctx, "conversation.PendingSeen", filter, opts)
}

// Hide 將訊息加入 userID 的隱藏集合，重複呼叫不會改變結果
func (s *MessageStore) Hide(ctx context.Context, id, userID string) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "deleted_for_everyone": false},
		bson.M{"$addToSet": bson.M{"hidden_for": userID}},
	)
	if err != nil {
		return mongoutil.MapError("conversation.Hide", err)
	}
	if result.MatchedCount == 0 {
		return chat.NewNotFoundError("conversation.Hide", "訊息不存在")
	}
	return nil
}

// MarkDeletedForEveryone 標記全域刪除並清除內容
func (s *MessageStore) MarkDeletedForEveryone(ctx context.Context, id string, at time.Time) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "deleted_for_everyone": false},
		bson.M{
			"$set":   bson.M{"deleted_for_everyone": true, "deleted_at": at},
			"$unset": bson.M{"text": "", "audio": "", "file": "", "shared_post_id": ""},
		},
	)
	if err != nil {
		return mongoutil.MapError("conversation.MarkDeletedForEveryone", err)
	}
	if result.MatchedCount == 0 {
		return chat.NewNotFoundError("conversation.MarkDeletedForEveryone", "訊息不存在")
	}
	return nil
}

// Conversation 由新到舊取得 viewer 可見的對話訊息
func (s *MessageStore) Conversation(ctx context.Context, q chat.ConversationQuery) ([]*chat.Message, error) {
	filter := visibleTo(q.Viewer)
	filter["conversation_key"] = chat.ConversationKey(q.Viewer, q.Counterpart)
	switch {
	case q.Before.IsZero():
	case q.BeforeID != "":
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": q.Before}},
			bson.M{"created_at": q.Before, "_id": bson.M{"$lt": q.BeforeID}},
		}
	default:
		filter["created_at"] = bson.M{"$lt": q.Before}
	}

	opts := options.Find().SetSort(newestFirst)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return s.find(ctx, "conversation.Conversation", filter, opts)
}

// LatestPerCounterpart 每段對話取一筆 viewer 可見的最新訊息
func (s *MessageStore) LatestPerCounterpart(ctx context.Context, viewer string) ([]*chat.Message, error) {
	match := visibleTo(viewer)
	match["$or"] = bson.A{bson.M{"sender_id": viewer}, bson.M{"receiver_id": viewer}}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: newestFirst}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_key", "latest": bson.M{"$first": "$$ROOT"}}}},
		{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$latest"}}},
		{{Key: "$sort", Value: newestFirst}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mongoutil.MapError("conversation.LatestPerCounterpart", err)
	}
	return s.decodeAll(ctx, "conversation.LatestPerCounterpart", cursor)
}

// HideConversation 將 until 之前 viewer 仍可見的訊息全部隱藏
func (s *MessageStore) HideConversation(ctx context.Context, viewer, counterpart string, until time.Time) (int64, error) {
	filter := visibleTo(viewer)
	filter["conversation_key"] = chat.ConversationKey(viewer, counterpart)
	filter["created_at"] = bson.M{"$lte": until}

	result, err := s.collection.UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{"hidden_for": viewer}})
	if err != nil {
		return 0, mongoutil.MapError("conversation.HideConversation", err)
	}
	return result.ModifiedCount, nil
}

// SentIDs 取得 sender 傳給 receiver 且尚未全域刪除的訊息 ID
func (s *MessageStore) SentIDs(ctx context.Context, sender, receiver string, until time.Time) ([]string, error) {
	filter := bson.M{
		"sender_id":            sender,
		"receiver_id":          receiver,
		"deleted_for_everyone": false,
		"created_at":           bson.M{"$lte": until},
	}
	opts := options.Find().SetSort(oldestFirst).SetProjection(bson.M{"_id": 1})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoutil.MapError("conversation.SentIDs", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, mongoutil.MapError("conversation.SentIDs", err)
		}
		ids = append(ids, row.ID)
	}
	return ids, mongoutil.MapError("conversation.SentIDs", cursor.Err())
}

func (s *MessageStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*chat.Message, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoutil.MapError(op, err)
	}
	return s.decodeAll(ctx, op, cursor)
}

func (s *MessageStore) decodeAll(ctx context.Context, op string, cursor *mongo.Cursor) ([]*chat.Message, error) {
	var messages []*chat.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, mongoutil.MapError(op, err)
	}
	for _, m := range messages {
		if err := s.open(m); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (s *MessageStore) open(m *chat.Message) error {
	if s.cipher == nil || m.Text == "" {
		return nil
	}
	text, err := s.cipher.Decrypt(m.Text, m.ConversationKey)
	if err != nil {
		return fmt.Errorf("conversation: 解密訊息 %s 失敗: %w", m.ID, err)
	}
	m.Text = text
	return nil
}
