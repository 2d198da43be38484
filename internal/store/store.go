// Package store provides database access for rendezvous registrations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/peer-seek/internal/db"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("registration not found")

type RegistrationStore struct {
	db *gorm.DB
}

func NewRegistrationStore(gormDB *gorm.DB) *RegistrationStore {
	return &RegistrationStore{db: gormDB}
}

func (s *RegistrationStore) CreateRegistration(ctx context.Context, host string, port int, username string) (db.Registration, error) {
	reg := db.Registration{
		Host:         host,
		Port:         port,
		Username:     username,
		RegisteredAt: time.Now().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&reg).Error; err != nil {
		return db.Registration{}, err
	}
	return reg, nil
}

func (s *RegistrationStore) GetRegistration(ctx context.Context, host string, port int) (db.Registration, error) {
	var reg db.Registration
	err := s.db.WithContext(ctx).Where("host = ? AND port = ?", host, port).First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Registration{}, ErrNotFound
	}
	return reg, err
}

func (s *RegistrationStore) DeleteRegistration(ctx context.Context, host string, port int) (bool, error) {
	res := s.db.WithContext(ctx).Where("host = ? AND port = ?", host, port).Delete(&db.Registration{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *RegistrationStore) ListRegistrations(ctx context.Context) ([]db.Registration, error) {
	var regs []db.Registration
	err := s.db.WithContext(ctx).Order("id").Find(&regs).Error
	return regs, err
}

func (s *RegistrationStore) CountRegistrations(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&db.Registration{}).Count(&n).Error
	return n, err
}
