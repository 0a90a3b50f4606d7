// Package migration_0 freezes the initial schema. Later migrations must not
// reference the live types in the database package, so the records are copied
// here as they existed at version 0.
package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Project struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"not null"`
	Description string
	Owner       string `gorm:"index;not null"`

	CreationTime time.Time

	Datasets    []Dataset    `gorm:"foreignKey:ProjectId;constraint:OnDelete:CASCADE"`
	Featuresets []Featureset `gorm:"foreignKey:ProjectId;constraint:OnDelete:CASCADE"`
	Models      []Model      `gorm:"foreignKey:ProjectId;constraint:OnDelete:CASCADE"`
	Predictions []Prediction `gorm:"foreignKey:ProjectId;constraint:OnDelete:CASCADE"`
}

type Dataset struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId uuid.UUID `gorm:"type:uuid;index"`
	Project   *Project  `gorm:"foreignKey:ProjectId"`

	Name string `gorm:"not null"`

	CreationTime time.Time

	Files []DatasetFile `gorm:"foreignKey:DatasetId;constraint:OnDelete:CASCADE"`
}

type DatasetFile struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	DatasetId uuid.UUID `gorm:"type:uuid;index"`

	Name  string `gorm:"not null"`
	Key   string `gorm:"not null"`
	Label string
	Size  int64
}

type Featureset struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId uuid.UUID `gorm:"type:uuid;index"`
	DatasetId uuid.UUID `gorm:"type:uuid;index"`
	Dataset   *Dataset  `gorm:"foreignKey:DatasetId"`

	Name     string `gorm:"not null"`
	Features string `gorm:"type:text"`

	Status string        `gorm:"size:20;not null"`
	TaskId uuid.NullUUID `gorm:"type:uuid"`
	Error  string

	CreationTime   time.Time
	CompletionTime sql.NullTime

	ArtifactKey string
}

type Model struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId    uuid.UUID   `gorm:"type:uuid;index"`
	FeaturesetId uuid.UUID   `gorm:"type:uuid;index"`
	Featureset   *Featureset `gorm:"foreignKey:FeaturesetId"`

	Name   string         `gorm:"not null"`
	Type   string         `gorm:"size:40;not null"`
	Params datatypes.JSON `gorm:"type:jsonb"`

	TrainScore sql.NullFloat64

	Status string        `gorm:"size:20;not null"`
	TaskId uuid.NullUUID `gorm:"type:uuid"`
	Error  string

	CreationTime   time.Time
	CompletionTime sql.NullTime

	ArtifactKey string
}

type Prediction struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ProjectId uuid.UUID `gorm:"type:uuid;index"`
	DatasetId uuid.UUID `gorm:"type:uuid;index"`
	Dataset   *Dataset  `gorm:"foreignKey:DatasetId"`
	ModelId   uuid.UUID `gorm:"type:uuid;index"`
	Model     *Model    `gorm:"foreignKey:ModelId"`

	Status string        `gorm:"size:20;not null"`
	TaskId uuid.NullUUID `gorm:"type:uuid"`
	Error  string

	CreationTime   time.Time
	CompletionTime sql.NullTime

	ArtifactKey string
}

type Notification struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username string `gorm:"index;not null"`
	Note     string `gorm:"not null"`
	Kind     string `gorm:"size:10;not null"`
	Read     bool   `gorm:"default:false"`

	CreationTime time.Time
}

func Migration(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Project{}, &Dataset{}, &DatasetFile{}, &Featureset{}, &Model{}, &Prediction{}, &Notification{},
	)
	if err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
