package usersgorm

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	games "github.com/gameinsight/gameinsight/internal/repo/gorm/games"
)

// GORM models (IDs as uint via gorm.Model)

type UserRecord struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;size:256;not null"`
	PasswordHash string `gorm:"size:255"` // bcrypt hash
	Active       bool   `gorm:"default:true"`

	Favorites []games.Game `gorm:"many2many:user_favorite_games"`
}

func (UserRecord) TableName() string { return "users" }

// AdminUserRecord backs the operator accounts for the task/schedule API.
type AdminUserRecord struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255"`
	Active       bool   `gorm:"default:true"`
}

func (AdminUserRecord) TableName() string { return "admin_users" }

var (
	ErrEmailTaken         = errors.New("users: email already registered")
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserRecord{}, &AdminUserRecord{})
}

type Repo struct{ db *gorm.DB }

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Create(ctx context.Context, email, password string) (*UserRecord, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &UserRecord{Email: email, PasswordHash: string(hash), Active: true}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

func (r *Repo) Authenticate(ctx context.Context, email, password string) (*UserRecord, error) {
	var u UserRecord
	err := r.db.WithContext(ctx).Where("email = ? AND active = ?", email, true).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

func (r *Repo) Get(ctx context.Context, id uint) (*UserRecord, error) {
	var u UserRecord
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// AddFavorite is idempotent: adding twice keeps exactly one link.
func (r *Repo) AddFavorite(ctx context.Context, userID, gameID uint) error {
	u, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	var g games.Game
	if err := r.db.WithContext(ctx).First(&g, gameID).Error; err != nil {
		return err
	}
	var n int64
	r.db.WithContext(ctx).Table("user_favorite_games").
		Where("user_record_id = ? AND game_id = ?", userID, gameID).Count(&n)
	if n > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(u).Association("Favorites").Append(&g)
}

func (r *Repo) RemoveFavorite(ctx context.Context, userID, gameID uint) error {
	u, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	var g games.Game
	if err := r.db.WithContext(ctx).First(&g, gameID).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(u).Association("Favorites").Delete(&g)
}

func (r *Repo) ListFavorites(ctx context.Context, userID uint) ([]games.Game, error) {
	u, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	var arr []games.Game
	if err := r.db.WithContext(ctx).Model(u).Association("Favorites").Find(&arr); err != nil {
		return nil, err
	}
	return arr, nil
}
