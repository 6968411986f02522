package services

import (
	"context"
	"errors"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"
	"outpatient-backend/pkg/utils"

	"gorm.io/gorm"
)

// StaffService is the Master's account administration.
type StaffService struct {
	*base
}

// List returns every department account, newest first. Master accounts
// are not listed.
func (s *StaffService) List(ctx context.Context) ([]models.User, error) {
	var staff []models.User
	if err := s.db.WithContext(ctx).
		Where("role <> ?", models.RoleMaster).
		Order("created_at desc, id desc").
		Find(&staff).Error; err != nil {
		return nil, apperr.Internal("Could not load staff", err)
	}
	return staff, nil
}

func (s *StaffService) Create(ctx context.Context, in models.CreateStaffInput) (*models.User, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal("Could not process password", err)
	}

	user := models.User{
		Username:     in.Username,
		Email:        in.Email,
		Mobile:       in.Mobile,
		Role:         in.Role,
		PasswordHash: hash,
	}
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		if err := ensureUnique(tx, 0, in.Username, in.Email); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			return apperr.Internal("Could not create staff account", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, visitflow.TopicStaffList)
	return &user, nil
}

// Update changes an account; an empty password keeps the current one.
func (s *StaffService) Update(ctx context.Context, id uint64, in models.UpdateStaffInput) (*models.User, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var user models.User
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := loadStaff(tx, id, &user); err != nil {
			return err
		}
		if err := ensureUnique(tx, id, in.Username, in.Email); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"username": in.Username,
			"email":    in.Email,
			"mobile":   in.Mobile,
			"role":     in.Role,
		}
		if in.Password != "" {
			hash, err := utils.HashPassword(in.Password)
			if err != nil {
				return apperr.Internal("Could not process password", err)
			}
			updates["password_hash"] = hash
			updates["session_version"] = gorm.Expr("session_version + 1")
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return apperr.Internal("Could not update staff account", err)
		}
		return tx.First(&user, id).Error
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, visitflow.TopicStaffList)
	return &user, nil
}

// Delete removes a department account. Master accounts, including the
// caller's own, cannot be deleted here.
func (s *StaffService) Delete(ctx context.Context, actorID, id uint64) error {
	if actorID == id {
		return apperr.Forbidden("You cannot delete your own account")
	}

	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var user models.User
		if err := loadStaff(tx, id, &user); err != nil {
			return err
		}
		if err := tx.Delete(&user).Error; err != nil {
			return apperr.Internal("Could not delete staff account", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, visitflow.TopicStaffList)
	return nil
}

func loadStaff(tx *gorm.DB, id uint64, user *models.User) error {
	err := tx.First(user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("Staff member not found")
	}
	if err != nil {
		return apperr.Internal("Could not load staff member", err)
	}
	if user.Role == models.RoleMaster {
		return apperr.Forbidden("Master accounts cannot be changed here")
	}
	return nil
}

// ensureUnique rejects a username or email held by any other account,
// including deleted ones still holding the unique index.
func ensureUnique(tx *gorm.DB, exceptID uint64, username, email string) error {
	var taken int64
	if err := tx.Unscoped().Model(&models.User{}).
		Where("(username = ? OR email = ?) AND id <> ?", username, email, exceptID).
		Count(&taken).Error; err != nil {
		return apperr.Internal("Could not check staff account", err)
	}
	if taken > 0 {
		return apperr.Conflict("Username or email is already in use", nil)
	}
	return nil
}
