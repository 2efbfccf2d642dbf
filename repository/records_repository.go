package repository

import (
	"errors"
	"fmt"
	"time"

	"groupfm/model"

	"gorm.io/gorm"
)

// RecordsRepository defines the interface for GroupRecords persistence. Built
// on GORM; the row is replaced wholesale, never patched field-by-field while a
// reader might be looking at it.
type RecordsRepository interface {
	GetByGroupID(groupID int64) (*model.GroupRecords, error)

	// Replace deletes any prior row for the group and inserts a fresh one in
	// the calculating state.
	Replace(groupID int64, chartsGeneratedAt *time.Time) (*model.GroupRecords, error)

	MarkCompleted(id int64, records model.SuperlativeMap) error
	MarkFailed(id int64) error
}

// gormRecordsRepository implements RecordsRepository on GORM.
type gormRecordsRepository struct {
	db *gorm.DB
}

// NewGormRecordsRepository creates a new gormRecordsRepository.
func NewGormRecordsRepository(db *gorm.DB) RecordsRepository {
	return &gormRecordsRepository{db: db}
}

// GetByGroupID retrieves the records row for a group.
func (r *gormRecordsRepository) GetByGroupID(groupID int64) (*model.GroupRecords, error) {
	var records model.GroupRecords
	err := r.db.Where("group_id = ?", groupID).First(&records).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // No records row yet
		}
		return nil, fmt.Errorf("failed to load records for group %d: %w", groupID, err)
	}
	return &records, nil
}

// Replace swaps the records row for a fresh calculating one.
func (r *gormRecordsRepository) Replace(groupID int64, chartsGeneratedAt *time.Time) (*model.GroupRecords, error) {
	records := &model.GroupRecords{
		GroupID:              groupID,
		Status:               model.RecordsStatusCalculating,
		CalculationStartedAt: time.Now().UTC(),
		ChartsGeneratedAt:    chartsGeneratedAt,
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&model.GroupRecords{}).Error; err != nil {
			return err
		}
		return tx.Create(records).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace records row for group %d: %w", groupID, err)
	}
	return records, nil
}

// MarkCompleted stores the computed superlatives and flips the status.
func (r *gormRecordsRepository) MarkCompleted(id int64, records model.SuperlativeMap) error {
	err := r.db.Model(&model.GroupRecords{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":  model.RecordsStatusCompleted,
		"records": records,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to mark records %d completed: %w", id, err)
	}
	return nil
}

// MarkFailed flips the status to failed. Best effort; if even this update
// fails the row stays calculating and the operator retry path applies.
func (r *gormRecordsRepository) MarkFailed(id int64) error {
	err := r.db.Model(&model.GroupRecords{}).Where("id = ?", id).Update("status", model.RecordsStatusFailed).Error
	if err != nil {
		return fmt.Errorf("failed to mark records %d failed: %w", id, err)
	}
	return nil
}
