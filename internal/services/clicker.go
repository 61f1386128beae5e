package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"classengage-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClickerService maps physical clicker device ids to users.
type ClickerService struct {
	db *gorm.DB
}

func NewClickerService(db *gorm.DB) *ClickerService {
	return &ClickerService{db: db}
}

// Register binds a device to a user, replacing any previous owner.
func (s *ClickerService) Register(ctx context.Context, deviceID string, userID uint) (*models.ClickerDevice, error) {
	deviceID = normalizeDeviceID(deviceID)
	if deviceID == "" || userID == 0 {
		return nil, fmt.Errorf("%w: device_id and user_id are required", ErrInvalidInput)
	}

	device := models.ClickerDevice{DeviceID: deviceID, UserID: userID, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "updated_at"}),
	}).Create(&device).Error
	if err != nil {
		return nil, fmt.Errorf("register device %s: %w", deviceID, err)
	}
	return &device, nil
}

func (s *ClickerService) Resolve(ctx context.Context, deviceID string) (uint, error) {
	var device models.ClickerDevice
	err := s.db.WithContext(ctx).Where("device_id = ?", normalizeDeviceID(deviceID)).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrDeviceNotRegistered, deviceID)
		}
		return 0, fmt.Errorf("resolve device %s: %w", deviceID, err)
	}
	return device.UserID, nil
}

func (s *ClickerService) Unregister(ctx context.Context, deviceID string) error {
	res := s.db.WithContext(ctx).Where("device_id = ?", normalizeDeviceID(deviceID)).Delete(&models.ClickerDevice{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotRegistered, deviceID)
	}
	return nil
}

// device ids arrive from hubs in mixed case, e.g. "0a1b2c" and "0A1B2C"
func normalizeDeviceID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
