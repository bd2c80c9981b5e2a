package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"counselchat/internal/chat"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// MessageRecord is a persisted chat message
type MessageRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID      int64     `gorm:"not null;index:idx_chat_messages_room_id" json:"roomId"`
	SenderID    int64     `gorm:"not null;index" json:"senderId"`
	UserName    string    `gorm:"not null" json:"userName"`
	Avatar      string    `json:"avatar,omitempty"`
	AvatarColor string    `json:"avatarColor,omitempty"`
	Message     string    `gorm:"not null" json:"message"`
	MessageType chat.Kind `gorm:"not null;default:text" json:"messageType"`
	CreatedAt   time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

func (MessageRecord) TableName() string {
	return "chat_messages"
}

// ToWire converts the record to the shape clients receive
func (m *MessageRecord) ToWire() chat.WireMessage {
	return chat.WireMessage{
		ID:          m.ID,
		RoomID:      m.RoomID,
		SenderID:    m.SenderID,
		Message:     m.Message,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt,
		UserName:    m.UserName,
		Avatar:      m.Avatar,
		AvatarColor: m.AvatarColor,
	}
}

func toWire(records []MessageRecord) []chat.WireMessage {
	out := make([]chat.WireMessage, len(records))
	for i := range records {
		out[i] = records[i].ToWire()
	}
	return out
}

// MessageRepository stores room history. Both list calls return messages
// in ascending id order.
type MessageRepository interface {
	Create(ctx context.Context, message *MessageRecord) error
	// ListPage returns page n (1 = newest) of size limit and the room total
	ListPage(ctx context.Context, roomID int64, page, limit int) ([]MessageRecord, int64, error)
	// ListBefore returns up to limit messages with id < beforeID
	ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]MessageRecord, bool, error)
}

// OpenPostgres connects with gorm and migrates the chat_messages table
func OpenPostgres(dsn string, logger *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&MessageRecord{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate chat_messages: %w", err)
	}
	logger.Info("Connected to the database successfully")
	return db, nil
}

type gormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Create(ctx context.Context, message *MessageRecord) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *gormMessageRepository) ListPage(ctx context.Context, roomID int64, page, limit int) ([]MessageRecord, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&MessageRecord{}).
		Where("room_id = ?", roomID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []MessageRecord
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	slices.Reverse(messages)
	return messages, total, nil
}

func (r *gormMessageRepository) ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]MessageRecord, bool, error) {
	var messages []MessageRecord
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND id < ?", roomID, beforeID).
		Order("id DESC").
		Limit(limit + 1).
		Find(&messages).Error
	if err != nil {
		return nil, false, err
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	slices.Reverse(messages)
	return messages, hasMore, nil
}

// memoryMessageRepository keeps everything in process, for tests and for
// running without DATABASE_URL
type memoryMessageRepository struct {
	mu     sync.RWMutex
	nextID int64
	rooms  map[int64][]MessageRecord
	now    func() time.Time
}

func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{
		rooms: make(map[int64][]MessageRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryMessageRepository) Create(ctx context.Context, message *MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	message.ID = r.nextID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = r.now()
	}
	if message.MessageType == "" {
		message.MessageType = chat.KindText
	}
	r.rooms[message.RoomID] = append(r.rooms[message.RoomID], *message)
	return nil
}

func (r *memoryMessageRepository) ListPage(ctx context.Context, roomID int64, page, limit int) ([]MessageRecord, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.rooms[roomID]
	total := int64(len(all))
	end := len(all) - (page-1)*limit
	if end <= 0 {
		return []MessageRecord{}, total, nil
	}
	start := max(end-limit, 0)
	return slices.Clone(all[start:end]), total, nil
}

func (r *memoryMessageRepository) ListBefore(ctx context.Context, roomID, beforeID int64, limit int) ([]MessageRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if beforeID <= 0 {
		beforeID = math.MaxInt64
	}
	all := r.rooms[roomID]
	// ids ascend within a room, so everything before idx qualifies
	idx, _ := slices.BinarySearchFunc(all, beforeID, func(m MessageRecord, id int64) int {
		switch {
		case m.ID < id:
			return -1
		case m.ID > id:
			return 1
		}
		return 0
	})
	start := max(idx-limit, 0)
	return slices.Clone(all[start:idx]), start > 0, nil
}
