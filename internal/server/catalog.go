package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"lessonplayer/internal/media"
	"lessonplayer/internal/stream"
)

// Catalog is the reference backend's read-only course content, loaded from
// a YAML file at startup.
type Catalog struct {
	Users   []User   `yaml:"users" validate:"dive"`
	Courses []Course `yaml:"courses" validate:"dive"`

	videos map[string]*CatalogVideo
	users  map[string]*User
}

type User struct {
	ID       int64   `yaml:"id" validate:"required"`
	Username string  `yaml:"username" validate:"required"`
	Password string  `yaml:"password" validate:"required"`
	Role     string  `yaml:"role" validate:"omitempty,oneof=student admin"`
	Courses  []int64 `yaml:"courses"`
}

func (u *User) IDString() string { return strconv.FormatInt(u.ID, 10) }

func (u *User) IsAdmin() bool { return u.Role == "admin" }

func (u *User) CanAccess(courseID int64) bool {
	if u.IsAdmin() {
		return true
	}
	for _, id := range u.Courses {
		if id == courseID {
			return true
		}
	}
	return false
}

type Course struct {
	ID               int64          `yaml:"id" validate:"required"`
	TitleUz          string         `yaml:"title_uz"`
	TitleRu          string         `yaml:"title_ru"`
	TitleEn          string         `yaml:"title_en"`
	TelegramGroupURL string         `yaml:"telegram_group_url" validate:"omitempty,url"`
	DailyLimit       int            `yaml:"daily_limit" validate:"gte=0"`
	Videos           []CatalogVideo `yaml:"videos" validate:"dive"`
}

type CatalogVideo struct {
	ID              int64             `yaml:"id" validate:"required"`
	TitleUz         string            `yaml:"title_uz"`
	TitleRu         string            `yaml:"title_ru"`
	TitleEn         string            `yaml:"title_en"`
	DescriptionUz   string            `yaml:"description_uz"`
	DescriptionRu   string            `yaml:"description_ru"`
	DescriptionEn   string            `yaml:"description_en"`
	Level           string            `yaml:"level"`
	Thumbnail       string            `yaml:"thumbnail"`
	DurationSeconds float64           `yaml:"duration_seconds" validate:"gte=0"`
	File            string            `yaml:"file" validate:"required"`
	Renditions      map[string]string `yaml:"renditions"`
	Questions       []CatalogQuestion `yaml:"questions" validate:"dive"`

	course        *Course
	order         int
	thumbnailPath string
}

func (v *CatalogVideo) IDString() string { return strconv.FormatInt(v.ID, 10) }

func (v *CatalogVideo) Course() *Course { return v.course }

// ThumbnailURL is the catalog thumbnail when it is an absolute URL, else the
// backend's poster route for the video.
func (v *CatalogVideo) ThumbnailURL() string {
	if strings.Contains(v.Thumbnail, "://") {
		return v.Thumbnail
	}
	return "/api/videos/" + v.IDString() + "/thumbnail/"
}

type CatalogQuestion struct {
	ID     int64  `yaml:"id" validate:"required"`
	Type   string `yaml:"type" validate:"oneof=choice multi_choice text true_false"`
	TextUz string `yaml:"text_uz"`
	TextRu string `yaml:"text_ru"`
	TextEn string `yaml:"text_en"`
	// Accepted answers for text questions, compared case-insensitively.
	Answers []string        `yaml:"answers"`
	Choices []CatalogChoice `yaml:"choices" validate:"dive"`
}

type CatalogChoice struct {
	ID      int64  `yaml:"id" validate:"required"`
	TextUz  string `yaml:"text_uz"`
	TextRu  string `yaml:"text_ru"`
	TextEn  string `yaml:"text_en"`
	Correct bool   `yaml:"correct"`
}

type CatalogOptions struct {
	// MediaRoot resolves relative file paths and holds transcoded
	// renditions under videos/<res>/.
	MediaRoot string
	Prober    *media.Prober
	Logger    zerolog.Logger
}

// LoadCatalog reads and validates the catalog. Missing renditions are
// discovered on disk and a zero duration is filled in with ffprobe when it
// is installed.
func LoadCatalog(path string, opts CatalogOptions) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := validator.New().Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	if err := c.index(opts); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index(opts CatalogOptions) error {
	logger := opts.Logger.With().Str("component", "catalog").Logger()
	scanner := media.NewRenditionScanner(opts.MediaRoot, stream.KnownResolutions, opts.Logger)

	c.videos = make(map[string]*CatalogVideo)
	c.users = make(map[string]*User)

	for i := range c.Users {
		u := &c.Users[i]
		if _, dup := c.users[u.Username]; dup {
			return fmt.Errorf("duplicate username %q", u.Username)
		}
		c.users[u.Username] = u
	}

	for ci := range c.Courses {
		course := &c.Courses[ci]
		for vi := range course.Videos {
			v := &course.Videos[vi]
			v.course = course
			v.order = vi

			if _, dup := c.videos[v.IDString()]; dup {
				return fmt.Errorf("duplicate video id %d", v.ID)
			}
			c.videos[v.IDString()] = v

			if opts.MediaRoot != "" && !filepath.IsAbs(v.File) {
				v.File = filepath.Join(opts.MediaRoot, v.File)
			}
			if v.Thumbnail != "" && !strings.Contains(v.Thumbnail, "://") {
				v.thumbnailPath = v.Thumbnail
				if opts.MediaRoot != "" && !filepath.IsAbs(v.thumbnailPath) {
					v.thumbnailPath = filepath.Join(opts.MediaRoot, v.thumbnailPath)
				}
			}
			if v.Renditions == nil {
				v.Renditions = make(map[string]string)
			}
			for res, p := range v.Renditions {
				if opts.MediaRoot != "" && !filepath.IsAbs(p) {
					v.Renditions[res] = filepath.Join(opts.MediaRoot, p)
				}
			}
			if opts.MediaRoot != "" {
				for res, p := range scanner.Scan(v.File) {
					if _, ok := v.Renditions[res]; !ok {
						v.Renditions[res] = p
					}
				}
			}

			if v.DurationSeconds <= 0 && opts.Prober.IsAvailable() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				meta, err := opts.Prober.Probe(ctx, v.File)
				cancel()
				if err != nil {
					logger.Warn().Err(err).Str("file", v.File).Msg("failed to probe duration")
				} else {
					v.DurationSeconds = meta.Duration
				}
			}
		}
	}

	logger.Info().
		Int("courses", len(c.Courses)).
		Int("videos", len(c.videos)).
		Int("users", len(c.users)).
		Msg("catalog loaded")
	return nil
}

func (c *Catalog) Video(id string) *CatalogVideo { return c.videos[id] }

func (c *Catalog) UserByName(name string) *User { return c.users[name] }

func (c *Catalog) UserByID(id string) *User {
	for i := range c.Users {
		if c.Users[i].IDString() == id {
			return &c.Users[i]
		}
	}
	return nil
}

// Neighbors returns the ids of the previous and next video in the course.
func (c *Catalog) Neighbors(v *CatalogVideo) (prev, next *int64) {
	if v.course == nil {
		return nil, nil
	}
	vids := v.course.Videos
	if v.order > 0 {
		id := vids[v.order-1].ID
		prev = &id
	}
	if v.order+1 < len(vids) {
		id := vids[v.order+1].ID
		next = &id
	}
	return prev, next
}

// VideoIDs lists the ids of every video in the course.
func (co *Course) VideoIDs() []string {
	ids := make([]string, 0, len(co.Videos))
	for i := range co.Videos {
		ids = append(ids, co.Videos[i].IDString())
	}
	return ids
}
