package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sampark/internal/automation"
	"sampark/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTagExists = errors.New("tag already exists")

// TagRequest 创建标签的请求
type TagRequest struct {
	Name  string `json:"name" binding:"required,max=128"`
	Color string `json:"color" binding:"omitempty,hexcolor"`
}

type TagService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTagService(db *gorm.DB, logger *logrus.Logger) *TagService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TagService{db: db, logger: logger}
}

var _ automation.TagService = (*TagService)(nil)

// CreateTag 新建标签
func (s *TagService) CreateTag(ctx context.Context, req *TagRequest) (*models.Tag, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("tag name required")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Tag{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrTagExists
	}
	tag := &models.Tag{Name: name, Color: req.Color}
	if err := s.db.WithContext(ctx).Create(tag).Error; err != nil {
		return nil, err
	}
	return tag, nil
}

// ListTags 标签列表
func (s *TagService) ListTags(ctx context.Context) ([]models.Tag, error) {
	var tags []models.Tag
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

// TagsFor returns the tag names attached to target.
func (s *TagService) TagsFor(ctx context.Context, target automation.Target) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&models.EntityTag{}).
		Joins("JOIN tags ON tags.id = entity_tags.tag_id").
		Where("entity_tags.target_kind = ? AND entity_tags.target_id = ?", target.Kind, target.ID).
		Order("tags.name ASC").
		Pluck("tags.name", &names).Error
	return names, err
}

// AddTag attaches tag to target. Unknown tags fail unless autoCreate is set.
// Attaching an already attached tag is a no-op.
func (s *TagService) AddTag(ctx context.Context, target automation.Target, name string, autoCreate bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &automation.UnknownTagError{Tag: name}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tag models.Tag
		err := tx.First(&tag, "name = ?", name).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !autoCreate {
				return &automation.UnknownTagError{Tag: name}
			}
			tag = models.Tag{Name: name}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tag).Error; err != nil {
				return err
			}
			if tag.ID == 0 {
				if err := tx.First(&tag, "name = ?", name).Error; err != nil {
					return err
				}
			}
			s.logger.WithField("tag", name).Info("automation: tag auto-created")
		case err != nil:
			return err
		}

		link := models.EntityTag{TagID: tag.ID, TargetKind: target.Kind, TargetID: target.ID}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	})
}
