package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"sircharge/admin/internal/assets"
	"sircharge/admin/internal/store"
	"sircharge/admin/internal/util"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type ContentView struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Locale      string     `json:"locale"`
	Section     string     `json:"section"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	ImageKey    string     `json:"imageKey,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	SortOrder   int        `json:"sortOrder"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"publishedAt"`
	UpdatedBy   string     `json:"updatedBy"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// PublicContentView is what the landing pages read. Operator fields stay out.
type PublicContentView struct {
	Slug      string `json:"slug"`
	Locale    string `json:"locale"`
	Section   string `json:"section"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	ImageURL  string `json:"imageUrl,omitempty"`
	SortOrder int    `json:"sortOrder"`
}

type ContentInput struct {
	Slug      string `json:"slug" validate:"required,max=120"`
	Locale    string `json:"locale" validate:"required,min=2,max=10"`
	Section   string `json:"section" validate:"required,notblank,max=60"`
	Title     string `json:"title" validate:"required,notblank,max=200"`
	Body      string `json:"body" validate:"max=20000"`
	SortOrder int    `json:"sortOrder" validate:"gte=0"`
}

func (in ContentInput) normalize() ContentInput {
	in.Slug = strings.ToLower(strings.TrimSpace(in.Slug))
	in.Locale = strings.ToLower(strings.TrimSpace(in.Locale))
	in.Section = strings.ToLower(strings.TrimSpace(in.Section))
	in.Title = strings.TrimSpace(in.Title)
	return in
}

func (in ContentInput) validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if !slugPattern.MatchString(in.Slug) {
		return validationError("Invalid slug", map[string]string{"slug": "slug may only contain lowercase letters, digits and single hyphens"})
	}
	return nil
}

func (s *Service) contentView(ctx context.Context, c store.ContentBlock) ContentView {
	return ContentView{
		ID:          c.ID,
		Slug:        c.Slug,
		Locale:      c.Locale,
		Section:     c.Section,
		Title:       c.Title,
		Body:        c.Body,
		ImageKey:    c.ImageKey,
		ImageURL:    s.imageURL(ctx, c.ImageKey),
		SortOrder:   c.SortOrder,
		Published:   c.Published,
		PublishedAt: c.PublishedAt,
		UpdatedBy:   c.UpdatedBy,
		UpdatedAt:   c.UpdatedAt,
		CreatedAt:   c.CreatedAt,
	}
}

// imageURL presigns a read URL. Failures leave the URL empty.
func (s *Service) imageURL(ctx context.Context, key string) string {
	if key == "" || s.assets == nil || !s.assets.Enabled() {
		return ""
	}
	u, err := s.assets.PresignedURL(ctx, key, assets.DefaultURLTTL)
	if err != nil {
		s.logger.Warn("presign content image", zap.String("key", key), zap.Error(err))
		return ""
	}
	return u
}

func (s *Service) ListContent(ctx context.Context, filter store.ContentFilter) ([]ContentView, error) {
	items, err := s.store.ListContent(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]ContentView, 0, len(items))
	for _, item := range items {
		out = append(out, s.contentView(ctx, item))
	}
	return out, nil
}

func (s *Service) PublicContent(ctx context.Context, locale, section string) ([]PublicContentView, error) {
	items, err := s.store.ListContent(ctx, store.ContentFilter{
		Locale:        strings.ToLower(strings.TrimSpace(locale)),
		Section:       strings.ToLower(strings.TrimSpace(section)),
		PublishedOnly: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]PublicContentView, 0, len(items))
	for _, item := range items {
		out = append(out, PublicContentView{
			Slug:      item.Slug,
			Locale:    item.Locale,
			Section:   item.Section,
			Title:     item.Title,
			Body:      item.Body,
			ImageURL:  s.imageURL(ctx, item.ImageKey),
			SortOrder: item.SortOrder,
		})
	}
	return out, nil
}

func (s *Service) GetContent(ctx context.Context, id string) (ContentView, error) {
	item, err := s.store.GetContent(ctx, id)
	if err != nil {
		return ContentView{}, err
	}
	return s.contentView(ctx, item), nil
}

func (s *Service) CreateContent(ctx context.Context, session Session, input ContentInput) (ContentView, error) {
	input = input.normalize()
	if err := input.validate(); err != nil {
		return ContentView{}, err
	}
	item := store.ContentBlock{
		ID:        util.NewID("cnt"),
		Slug:      input.Slug,
		Locale:    input.Locale,
		Section:   input.Section,
		Title:     input.Title,
		Body:      input.Body,
		SortOrder: input.SortOrder,
		UpdatedBy: session.UserID,
	}
	if err := s.store.CreateContent(ctx, item); err != nil {
		return ContentView{}, slugConflict(err)
	}
	return s.GetContent(ctx, item.ID)
}

func (s *Service) UpdateContent(ctx context.Context, session Session, id string, input ContentInput) (ContentView, error) {
	input = input.normalize()
	if err := input.validate(); err != nil {
		return ContentView{}, err
	}
	item, err := s.store.GetContent(ctx, id)
	if err != nil {
		return ContentView{}, err
	}
	item.Slug = input.Slug
	item.Locale = input.Locale
	item.Section = input.Section
	item.Title = input.Title
	item.Body = input.Body
	item.SortOrder = input.SortOrder
	item.UpdatedBy = session.UserID
	if err := s.store.UpdateContent(ctx, item); err != nil {
		return ContentView{}, slugConflict(err)
	}
	return s.GetContent(ctx, id)
}

func (s *Service) SetContentPublished(ctx context.Context, session Session, id string, published bool) (ContentView, error) {
	if err := s.store.SetContentPublished(ctx, id, published, session.UserID); err != nil {
		return ContentView{}, err
	}
	return s.GetContent(ctx, id)
}

// DeleteContent removes the block and then, best effort, its image.
func (s *Service) DeleteContent(ctx context.Context, id string) error {
	item, err := s.store.GetContent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteContent(ctx, id); err != nil {
		return err
	}
	s.removeImage(ctx, item.ImageKey)
	return nil
}

// UploadContentImage stores a new image and points the block at it. The
// previous image is removed once the block no longer references it.
func (s *Service) UploadContentImage(ctx context.Context, session Session, id, contentType string, r io.Reader, size int64) (ContentView, error) {
	if s.assets == nil || !s.assets.Enabled() {
		return ContentView{}, assets.ErrDisabled
	}
	if err := assets.Validate(contentType, size); err != nil {
		return ContentView{}, err
	}
	item, err := s.store.GetContent(ctx, id)
	if err != nil {
		return ContentView{}, err
	}
	key := assets.ObjectKey(id, contentType)
	if err := s.assets.Upload(ctx, key, contentType, r, size); err != nil {
		return ContentView{}, err
	}
	if err := s.store.SetContentImage(ctx, id, key, session.UserID); err != nil {
		s.removeImage(ctx, key)
		return ContentView{}, err
	}
	s.removeImage(ctx, item.ImageKey)
	return s.GetContent(ctx, id)
}

func (s *Service) removeImage(ctx context.Context, key string) {
	if key == "" || s.assets == nil || !s.assets.Enabled() {
		return
	}
	if err := s.assets.Delete(ctx, key); err != nil {
		s.logger.Warn("remove content image", zap.String("key", key), zap.Error(err))
	}
}

func slugConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return domainError(http.StatusConflict, "SLUG_EXISTS", "Slug already exists for this locale", nil)
	}
	return err
}
