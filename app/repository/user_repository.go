package repository

import (
	"time"

	"github.com/ManuelReschke/TenantDesk/app/models"
	"gorm.io/gorm"
)

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// EmailExists checks the unique email constraint, ignoring excludeID
func (r *userRepository) EmailExists(email string, excludeID uint) (bool, error) {
	var count int64
	q := r.db.Model(&models.User{}).Where("email = ?", email)
	if excludeID > 0 {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *userRepository) Delete(id uint) error {
	return r.db.Delete(&models.User{}, id).Error
}

func (r *userRepository) List(offset, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.Order("name ASC").Offset(offset).Limit(limit).Find(&users).Error
	return users, err
}

func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}

// CountByCurrentDomain counts users that have the domain selected
func (r *userRepository) CountByCurrentDomain(domainID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Where("current_domain_id = ?", domainID).Count(&count).Error
	return count, err
}

func (r *userRepository) SetCurrentDomain(userID uint, domainID *uint) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Update("current_domain_id", domainID).Error
}

func (r *userRepository) TouchLastLogin(userID uint) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Update("last_login_at", time.Now()).Error
}
