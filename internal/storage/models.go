package storage

import (
	"time"
)

type DeviceGroup struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

type Device struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	GroupID   uint          `gorm:"index;not null" json:"group_id"`
	Group     DeviceGroup   `json:"group"`
	Name      string        `gorm:"uniqueIndex;not null" json:"name"`
	UID       string        `gorm:"uniqueIndex;not null" json:"uid"`
	Address   uint8         `json:"address"`
	Inputs    []DeviceInput `gorm:"constraint:OnDelete:CASCADE" json:"inputs"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// DeviceInput records one connection of a device: the device reads from
// Name in Group.
type DeviceInput struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	DeviceID uint   `gorm:"uniqueIndex:idx_device_input;not null" json:"-"`
	Group    string `gorm:"uniqueIndex:idx_device_input;not null" json:"group"`
	Name     string `gorm:"uniqueIndex:idx_device_input;not null" json:"name"`
}
