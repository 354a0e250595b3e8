package template

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketTemplates     = []byte("templates")
	bucketTemplateNames = []byte("template_names")
	bucketVersions      = []byte("template_versions")
)

var (
	// ErrNotFound is returned when updating a template that doesn't exist
	ErrNotFound = errors.New("template not found")
	// ErrDuplicateName is returned when another template already uses the name
	ErrDuplicateName = errors.New("template name already exists")
)

// Storage provides template storage operations
type Storage struct {
	db *bolt.DB
}

// OpenDB opens the bbolt database at path, creating its directory
func OpenDB(path string) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// NewStorage creates a new template storage
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTemplates, bucketTemplateNames, bucketVersions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template buckets: %w", err)
	}
	return &Storage{db: db}, nil
}

// Create stores a new template, assigning its ID, version and derived variables
func (s *Storage) Create(ctx context.Context, tmpl *Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)
		names := tx.Bucket(bucketTemplateNames)

		if existing := names.Get([]byte(tmpl.Name)); existing != nil {
			return fmt.Errorf("%w: %q", ErrDuplicateName, tmpl.Name)
		}

		tmpl.ID = uuid.New().String()
		tmpl.Version = 1
		tmpl.CreatedAt = time.Now()
		tmpl.UpdatedAt = tmpl.CreatedAt
		tmpl.Refresh()

		data, err := json.Marshal(tmpl)
		if err != nil {
			return fmt.Errorf("failed to marshal template: %w", err)
		}

		if err := templates.Put([]byte(tmpl.ID), data); err != nil {
			return err
		}
		if err := names.Put([]byte(tmpl.Name), []byte(tmpl.ID)); err != nil {
			return err
		}
		return putVersion(tx, tmpl)
	})
}

// Get retrieves a template by ID. It returns nil, nil when absent.
func (s *Storage) Get(ctx context.Context, id string) (*Template, error) {
	var tmpl *Template

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTemplates).Get([]byte(id))
		if data == nil {
			return nil
		}

		tmpl = &Template{}
		return json.Unmarshal(data, tmpl)
	})

	return tmpl, err
}

// GetByName retrieves a template by name. It returns nil, nil when absent.
func (s *Storage) GetByName(ctx context.Context, name string) (*Template, error) {
	var tmpl *Template

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTemplateNames).Get([]byte(name))
		if id == nil {
			return nil
		}

		data := tx.Bucket(bucketTemplates).Get(id)
		if data == nil {
			return nil
		}

		tmpl = &Template{}
		return json.Unmarshal(data, tmpl)
	})

	return tmpl, err
}

// Lookup tries ref as an ID first and then as a name
func (s *Storage) Lookup(ctx context.Context, ref string) (*Template, error) {
	tmpl, err := s.Get(ctx, ref)
	if err != nil || tmpl != nil {
		return tmpl, err
	}
	return s.GetByName(ctx, ref)
}

// List returns the page of templates selected by filter along with the
// number of templates matching the search across all pages
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Template, int, error) {
	var templates []*Template
	total := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTemplates).Cursor()
		search := strings.ToLower(filter.Search)

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var tmpl Template
			if err := json.Unmarshal(v, &tmpl); err != nil {
				continue
			}

			if search != "" &&
				!strings.Contains(strings.ToLower(tmpl.Name), search) &&
				!strings.Contains(strings.ToLower(tmpl.Description), search) {
				continue
			}

			total++
			if total <= filter.Offset {
				continue
			}
			if filter.Limit > 0 && len(templates) >= filter.Limit {
				continue
			}
			templates = append(templates, &tmpl)
		}

		return nil
	})

	return templates, total, err
}

// Update replaces an existing template's content, recomputing its variables
// and bumping its version
func (s *Storage) Update(ctx context.Context, tmpl *Template) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)
		names := tx.Bucket(bucketTemplateNames)

		existingData := templates.Get([]byte(tmpl.ID))
		if existingData == nil {
			return ErrNotFound
		}

		var existing Template
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return err
		}

		if existing.Name != tmpl.Name {
			if names.Get([]byte(tmpl.Name)) != nil {
				return fmt.Errorf("%w: %q", ErrDuplicateName, tmpl.Name)
			}
			if err := names.Delete([]byte(existing.Name)); err != nil {
				return err
			}
			if err := names.Put([]byte(tmpl.Name), []byte(tmpl.ID)); err != nil {
				return err
			}
		}

		tmpl.Version = existing.Version + 1
		tmpl.CreatedAt = existing.CreatedAt
		tmpl.UpdatedAt = time.Now()
		tmpl.Refresh()

		data, err := json.Marshal(tmpl)
		if err != nil {
			return fmt.Errorf("failed to marshal template: %w", err)
		}

		if err := templates.Put([]byte(tmpl.ID), data); err != nil {
			return err
		}
		return putVersion(tx, tmpl)
	})
}

// Delete removes a template and its history. Deleting a missing ID is a no-op.
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		templates := tx.Bucket(bucketTemplates)

		data := templates.Get([]byte(id))
		if data == nil {
			return nil
		}

		var tmpl Template
		if err := json.Unmarshal(data, &tmpl); err != nil {
			return err
		}

		if err := tx.Bucket(bucketTemplateNames).Delete([]byte(tmpl.Name)); err != nil {
			return err
		}

		versions := tx.Bucket(bucketVersions)
		if versions.Bucket([]byte(id)) != nil {
			if err := versions.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}

		return templates.Delete([]byte(id))
	})
}

// Versions returns the stored history of a template, oldest first
func (s *Storage) Versions(ctx context.Context, id string) ([]*Version, error) {
	var versions []*Version

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketVersions).Bucket([]byte(id))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var ver Version
			if err := json.Unmarshal(v, &ver); err != nil {
				return err
			}
			versions = append(versions, &ver)
			return nil
		})
	})

	return versions, err
}

// Stats returns template statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Total = int64(tx.Bucket(bucketTemplates).Stats().KeyN)
		return nil
	})

	return stats, err
}

// putVersion appends tmpl's current content to its history
func putVersion(tx *bolt.Tx, tmpl *Template) error {
	bucket, err := tx.Bucket(bucketVersions).CreateBucketIfNotExists([]byte(tmpl.ID))
	if err != nil {
		return fmt.Errorf("failed to create version bucket: %w", err)
	}

	data, err := json.Marshal(Version{
		TemplateID: tmpl.ID,
		Version:    tmpl.Version,
		Subject:    tmpl.Subject,
		HTML:       tmpl.HTML,
		Text:       tmpl.Text,
		Variables:  tmpl.Variables,
		CreatedAt:  tmpl.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(tmpl.Version))
	return bucket.Put(key, data)
}
