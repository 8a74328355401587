package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalog-sync/pkg/db"
	"github.com/angelmondragon/catalog-sync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/catalog-sync/pkg/errors"
)

const (
	maxErrorLen  = 1024
	defaultLimit = 50
	maxLimit     = 500
)

// Repository stores lifecycle messages that exhausted their delivery budget.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// Insert records a dead letter. A second insert for the same message id returns the
// stored row, so a crash between insert and ack never fails the redelivered message.
func (r *Repository) Insert(ctx context.Context, entry models.SyncDeadLetter) (*models.SyncDeadLetter, error) {
	if entry.MessageID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message id is required")
	}
	if !entry.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid dead letter reason")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	if entry.Payload == "" {
		entry.Payload = "null"
	}
	if entry.ErrorMessage != nil {
		msg := truncateError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return r.FindByMessageID(ctx, entry.MessageID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert dead letter")
	}
	return &entry, nil
}

// FindByMessageID returns nil when the message was never dead-lettered.
func (r *Repository) FindByMessageID(ctx context.Context, messageID string) (*models.SyncDeadLetter, error) {
	var row models.SyncDeadLetter
	err := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dead letter")
	}
	return &row, nil
}

// List returns the newest dead letters first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.SyncDeadLetter, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	rows := []models.SyncDeadLetter{}
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
	}
	return rows, nil
}

func truncateError(message string) string {
	if len(message) <= maxErrorLen {
		return message
	}
	return message[:maxErrorLen]
}
