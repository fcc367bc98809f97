package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/danuarta/archive-management/internal/user"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) user.Repository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, user.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*user.User, error) {
	return r.findOne(ctx, "phone = ?", phone)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*user.User, error) {
	var u user.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, user.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindAll(ctx context.Context, f user.Filter) ([]*user.User, error) {
	var users []*user.User
	err := r.filtered(ctx, f).Order("created_at DESC").Find(&users).Error
	return users, err
}

func (r *UserRepository) Search(ctx context.Context, term string) ([]*user.User, error) {
	var users []*user.User
	pattern := "%" + term + "%"
	err := r.db.WithContext(ctx).
		Where("full_name LIKE ? OR username LIKE ? OR email LIKE ? OR phone LIKE ?",
			pattern, pattern, pattern, pattern).
		Order("full_name ASC").
		Find(&users).Error
	return users, err
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	return r.db.WithContext(ctx).Save(u).Error
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&user.User{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (r *UserRepository) Count(ctx context.Context, f user.Filter) (int64, error) {
	var count int64
	err := r.filtered(ctx, f).Model(&user.User{}).Count(&count).Error
	return count, err
}

func (r *UserRepository) CountByRole(ctx context.Context) (map[user.Role]int64, error) {
	var rows []struct {
		Role  user.Role
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&user.User{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byRole := make(map[user.Role]int64, len(rows))
	for _, row := range rows {
		byRole[row.Role] = row.Count
	}
	return byRole, nil
}

func (r *UserRepository) filtered(ctx context.Context, f user.Filter) *gorm.DB {
	tx := r.db.WithContext(ctx)
	if f.Role != nil {
		tx = tx.Where("role = ?", *f.Role)
	}
	if f.IsActive != nil {
		tx = tx.Where("is_active = ?", *f.IsActive)
	}
	return tx
}
