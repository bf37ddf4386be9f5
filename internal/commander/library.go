package commander

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metorial/agentsched/internal/models"
	"gopkg.in/yaml.v3"
)

// Library stores reusable script templates.
type Library struct {
	db *DB
}

func NewLibrary(db *DB) *Library {
	return &Library{db: db}
}

// Create stores a new template. Names are unique.
func (l *Library) Create(ctx context.Context, s models.Script) (*models.Script, error) {
	s.Name = strings.TrimSpace(s.Name)
	s.Type = strings.TrimSpace(s.Type)
	if s.Name == "" || s.Content == "" || s.Type == "" {
		return nil, fmt.Errorf("%w: name, content and type are required", ErrInvalidInput)
	}

	params, err := models.NormalizeParameters(s.Parameters)
	if err != nil {
		return nil, err
	}

	script := &models.Script{
		ID:          uuid.New().String(),
		Name:        s.Name,
		Description: s.Description,
		Content:     s.Content,
		Type:        s.Type,
		Parameters:  params,
		CreatedAt:   time.Now(),
	}
	if err := l.db.InsertScript(ctx, script); err != nil {
		return nil, err
	}
	return script, nil
}

func (l *Library) Get(ctx context.Context, id string) (*models.Script, error) {
	return l.db.GetScript(ctx, id)
}

func (l *Library) List(ctx context.Context) ([]models.Script, error) {
	return l.db.ListScripts(ctx)
}

type libraryFile struct {
	Scripts []struct {
		Name        string         `yaml:"name"`
		Description string         `yaml:"description"`
		Type        string         `yaml:"type"`
		Content     string         `yaml:"content"`
		Parameters  map[string]any `yaml:"parameters"`
	} `yaml:"scripts"`
}

// Seed loads templates from a YAML file. Templates whose name already exists
// are left untouched. It returns the number of templates added.
func (l *Library) Seed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read script library: %w", err)
	}

	var file libraryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse script library %s: %w", path, err)
	}

	added := 0
	for _, entry := range file.Scripts {
		_, err := l.Create(ctx, models.Script{
			Name:        entry.Name,
			Description: entry.Description,
			Type:        entry.Type,
			Content:     entry.Content,
			Parameters:  entry.Parameters,
		})
		switch {
		case err == nil:
			added++
		case errors.Is(err, ErrDuplicateScript):
		default:
			return added, fmt.Errorf("seed script %q: %w", entry.Name, err)
		}
	}

	log.Printf("Seeded %d scripts from %s", added, path)
	return added, nil
}
