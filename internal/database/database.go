package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/codelive/internal/chat"
	"github.com/gluk-w/codelive/internal/filetree"
)

var DB *gorm.DB

var ErrProjectNotFound = errors.New("project not found")

func Init(dbPath string) error {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrate(DB); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Project{}, &ProjectFile{}, &Message{})
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping reports whether the database answers.
func Ping() bool {
	if DB == nil {
		return false
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}

// Store is the project/message store used by the live channel and the AI
// bridge.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateProject(ctx context.Context, name string) (*Project, error) {
	p := &Project{ID: uuid.NewString(), Name: name}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// ProjectExists satisfies the channel handshake check.
func (s *Store) ProjectExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count project: %w", err)
	}
	return count > 0, nil
}

// FileTree loads a project's files in saved order.
func (s *Store) FileTree(ctx context.Context, projectID string) (*filetree.Tree, error) {
	var rows []ProjectFile
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("position asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load file tree: %w", err)
	}
	tree := filetree.New()
	for _, r := range rows {
		tree.SetFile(r.Name, r.Contents)
	}
	return tree, nil
}

// SaveFileTree replaces a project's files with the given tree.
func (s *Store) SaveFileTree(ctx context.Context, projectID string, tree *filetree.Tree) error {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&ProjectFile{}).Error; err != nil {
			return fmt.Errorf("clear files: %w", err)
		}
		files := tree.Files()
		if len(files) == 0 {
			return nil
		}
		rows := make([]ProjectFile, len(files))
		for i, f := range files {
			rows[i] = ProjectFile{ProjectID: projectID, Position: i, Name: f.Name, Contents: f.Contents}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert files: %w", err)
		}
		return nil
	})
}

func (s *Store) AppendMessage(ctx context.Context, projectID string, msg chat.Message) error {
	row := Message{
		ProjectID:   projectID,
		SenderID:    msg.Sender.ID,
		SenderEmail: msg.Sender.Email,
		Body:        msg.Text,
	}
	if !msg.CreatedAt.IsZero() {
		row.CreatedAt = msg.CreatedAt
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit most recent messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, projectID string, limit int) ([]chat.Message, error) {
	var rows []Message
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]chat.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = chat.Message{
			Text:      r.Body,
			Sender:    chat.Sender{ID: r.SenderID, Email: r.SenderEmail},
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}
