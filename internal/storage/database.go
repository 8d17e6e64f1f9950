package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"solar-sim/internal/device"
	"solar-sim/internal/topology"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Database keeps device metadata. The live simulation never reads it.
type Database struct {
	db *gorm.DB
}

func NewDatabase(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&DeviceGroup{}, &Device{}, &DeviceInput{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

func upsertGroup(tx *gorm.DB, name string) (*DeviceGroup, error) {
	group := DeviceGroup{Name: name}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&group).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("name = ?", name).First(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func (d *Database) UpsertDeviceGroup(name string) (*DeviceGroup, error) {
	return upsertGroup(d.db, name)
}

// UpsertDevice creates the device or updates its group, address and uid.
func (d *Database) UpsertDevice(dev *Device) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return upsertDevice(tx, dev)
	})
}

func upsertDevice(tx *gorm.DB, dev *Device) error {
	err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"group_id", "uid", "address", "updated_at"}),
	}).Create(dev).Error
	if err != nil {
		return err
	}
	return tx.Where("name = ?", dev.Name).First(dev).Error
}

// SyncPlant writes the groups, devices and connections of a built plant.
// Connections of synced devices are replaced.
func (d *Database) SyncPlant(plant *topology.Plant) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		groups := make(map[device.Group]uint)
		for _, dev := range plant.Devices {
			meta := dev.Meta()
			if _, ok := groups[meta.Group]; !ok {
				g, err := upsertGroup(tx, string(meta.Group))
				if err != nil {
					return fmt.Errorf("failed to upsert group %s: %w", meta.Group, err)
				}
				groups[meta.Group] = g.ID
			}

			row := Device{
				GroupID: groups[meta.Group],
				Name:    meta.Name,
				UID:     meta.UID().String(),
				Address: meta.Address,
			}
			if err := upsertDevice(tx, &row); err != nil {
				return fmt.Errorf("failed to upsert device %s: %w", meta.Name, err)
			}

			if err := tx.Where("device_id = ?", row.ID).Delete(&DeviceInput{}).Error; err != nil {
				return fmt.Errorf("failed to clear inputs of %s: %w", meta.Name, err)
			}
			var inputs []DeviceInput
			for _, g := range device.Groups {
				for _, c := range meta.Connected(g) {
					inputs = append(inputs, DeviceInput{DeviceID: row.ID, Group: string(g), Name: c.Meta().Name})
				}
			}
			if len(inputs) == 0 {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&inputs).Error; err != nil {
				return fmt.Errorf("failed to save inputs of %s: %w", meta.Name, err)
			}
		}
		return nil
	})
}

func (d *Database) ListDeviceGroups() ([]DeviceGroup, error) {
	var groups []DeviceGroup
	if err := d.db.Order("id").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func (d *Database) ListDevices() ([]Device, error) {
	var devices []Device
	result := d.db.Preload("Group").Preload("Inputs").Order("address").Find(&devices)
	if result.Error != nil {
		return nil, result.Error
	}
	return devices, nil
}

func (d *Database) GetDevice(name string) (*Device, error) {
	var dev Device
	result := d.db.Preload("Group").Preload("Inputs").Where("name = ?", name).First(&dev)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("device %q: %w", name, ErrNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &dev, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
