package database

import "time"

type Project struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectFile is one file of a project's tree. Position preserves the order
// in which the tree was last saved.
type ProjectFile struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID string `gorm:"index;not null;size:64"`
	Position  int    `gorm:"not null;default:0"`
	Name      string `gorm:"not null"`
	Contents  string `gorm:"type:text"`
}

type Message struct {
	ID          uint   `gorm:"primaryKey"`
	ProjectID   string `gorm:"index;not null;size:64"`
	SenderID    string `gorm:"not null"`
	SenderEmail string
	Body        string `gorm:"type:text"`
	CreatedAt   time.Time
}
