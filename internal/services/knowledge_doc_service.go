package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sampark/internal/models"

	"gorm.io/gorm"
)

var (
	ErrKnowledgeDocNotFound = errors.New("article not found")
	// ErrInvalidInput wraps request problems the binding layer cannot catch.
	ErrInvalidInput = errors.New("invalid input")
)

// KnowledgeDocService 知识库文章管理
type KnowledgeDocService struct {
	db *gorm.DB
}

func NewKnowledgeDocService(db *gorm.DB) *KnowledgeDocService {
	return &KnowledgeDocService{db: db}
}

type KnowledgeDocCreateRequest struct {
	Title     string   `json:"title" binding:"required,max=255"`
	Content   string   `json:"content" binding:"required"`
	Category  string   `json:"category" binding:"required,max=128"`
	Tags      []string `json:"tags"`
	Published bool     `json:"published"`
}

type KnowledgeDocUpdateRequest struct {
	Title     *string   `json:"title" binding:"omitempty,max=255"`
	Content   *string   `json:"content"`
	Category  *string   `json:"category" binding:"omitempty,max=128"`
	Tags      *[]string `json:"tags"`
	Published *bool     `json:"published"`
}

type KnowledgeDocListRequest struct {
	Page      int    `form:"page,default=1" binding:"min=1"`
	PageSize  int    `form:"page_size,default=20" binding:"min=1,max=100"`
	Category  string `form:"category"`
	Search    string `form:"search"`
	Published *bool  `form:"published"`
}

func (s *KnowledgeDocService) Create(ctx context.Context, req *KnowledgeDocCreateRequest) (*models.KnowledgeDoc, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrInvalidInput)
	}
	doc := &models.KnowledgeDoc{
		Title:     strings.TrimSpace(req.Title),
		Content:   strings.TrimSpace(req.Content),
		Category:  strings.TrimSpace(req.Category),
		Tags:      joinTagsCSV(req.Tags),
		Published: req.Published,
	}
	if err := checkDoc(doc); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

// View returns the article and counts the read.
func (s *KnowledgeDocService) View(ctx context.Context, id uint) (*models.KnowledgeDoc, error) {
	var doc models.KnowledgeDoc
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.KnowledgeDoc{}).Where("id = ?", id).
			UpdateColumn("views", gorm.Expr("views + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrKnowledgeDocNotFound
		}
		return tx.First(&doc, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *KnowledgeDocService) List(ctx context.Context, req *KnowledgeDocListRequest) ([]models.KnowledgeDoc, int64, error) {
	page, pageSize := 1, 20
	q := s.db.WithContext(ctx).Model(&models.KnowledgeDoc{})
	if req != nil {
		if req.Page > 0 {
			page = req.Page
		}
		if req.PageSize > 0 {
			pageSize = min(req.PageSize, 100)
		}
		if c := strings.TrimSpace(req.Category); c != "" {
			q = q.Where("category = ?", c)
		}
		if term := strings.TrimSpace(req.Search); term != "" {
			like := "%" + strings.ToLower(term) + "%"
			q = q.Where("LOWER(title) LIKE ? OR LOWER(content) LIKE ? OR LOWER(tags) LIKE ?", like, like, like)
		}
		if req.Published != nil {
			q = q.Where("published = ?", *req.Published)
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var docs []models.KnowledgeDoc
	if err := q.Order("updated_at DESC").Limit(pageSize).Offset((page - 1) * pageSize).Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (s *KnowledgeDocService) Update(ctx context.Context, id uint, req *KnowledgeDocUpdateRequest) (*models.KnowledgeDoc, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrInvalidInput)
	}
	var doc models.KnowledgeDoc
	if err := s.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKnowledgeDocNotFound
		}
		return nil, err
	}

	if req.Title != nil {
		doc.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		doc.Content = strings.TrimSpace(*req.Content)
	}
	if req.Category != nil {
		doc.Category = strings.TrimSpace(*req.Category)
	}
	if req.Tags != nil {
		doc.Tags = joinTagsCSV(*req.Tags)
	}
	if req.Published != nil {
		doc.Published = *req.Published
	}
	if err := checkDoc(&doc); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *KnowledgeDocService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.KnowledgeDoc{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrKnowledgeDocNotFound
	}
	return nil
}

func checkDoc(doc *models.KnowledgeDoc) error {
	switch {
	case doc.Title == "":
		return fmt.Errorf("%w: title required", ErrInvalidInput)
	case doc.Content == "":
		return fmt.Errorf("%w: content required", ErrInvalidInput)
	case doc.Category == "":
		return fmt.Errorf("%w: category required", ErrInvalidInput)
	}
	return nil
}

func joinTagsCSV(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, ",")
}
