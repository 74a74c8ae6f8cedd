package database

import (
	"time"

	"github.com/mantonx/redseat/internal/models"
)

// Library is a catalog library backed by a source
type Library struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Source    string    `gorm:"not null;default:local" json:"source"` // "local" or "plugin"
	Root      string    `json:"root,omitempty"`
	PluginID  *string   `gorm:"type:varchar(64)" json:"plugin_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Plugin is the stored descriptor of an installed plugin
type Plugin struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	Path         string    `gorm:"not null;index" json:"path"`
	Capabilities []string  `gorm:"serializer:json" json:"capabilities"`
	Settings     string    `gorm:"type:text" json:"settings,omitempty"`
	CredentialID *string   `gorm:"type:varchar(64)" json:"credential_id,omitempty"`
	Enabled      bool      `gorm:"default:true" json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Credential is a stored secret a plugin uses to reach its service
type Credential struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Kind         string    `json:"kind"`
	Login        *string   `json:"login,omitempty"`
	Password     *string   `json:"-"`
	Token        *string   `json:"-"`
	RefreshToken *string   `json:"-"`
	Expires      *int64    `json:"expires,omitempty"`
	Settings     string    `gorm:"type:text" json:"settings,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LibraryPlugin enables a plugin for a library
type LibraryPlugin struct {
	LibraryID string `gorm:"type:varchar(64);primaryKey"`
	PluginID  string `gorm:"type:varchar(64);primaryKey"`
}

// RequestProcessing mirrors one plugin-side acquisition job
type RequestProcessing struct {
	ID              string                  `gorm:"type:varchar(36);primaryKey" json:"id"`
	LibraryID       string                  `gorm:"type:varchar(64);index" json:"library_id"`
	ProcessingID    string                  `gorm:"not null;uniqueIndex:idx_processing_plugin_job" json:"processing_id"`
	PluginID        string                  `gorm:"type:varchar(64);not null;uniqueIndex:idx_processing_plugin_job" json:"plugin_id"`
	Progress        int                     `gorm:"not null;default:0" json:"progress"`
	Status          models.ProcessingStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Error           *string                 `json:"error,omitempty"`
	Eta             *int64                  `json:"eta,omitempty"`
	MediaRef        *string                 `json:"media_ref,omitempty"`
	OriginalRequest models.RsRequest        `gorm:"type:text;serializer:json" json:"original_request"`
	Failures        int                     `gorm:"not null;default:0" json:"failures"`
	NextCheck       *time.Time              `json:"next_check,omitempty"`
	Added           time.Time               `gorm:"autoCreateTime" json:"added"`
	Modified        time.Time               `gorm:"autoUpdateTime" json:"modified"`
}

// TableName pins the table name
func (RequestProcessing) TableName() string {
	return "request_processings"
}

// AllModels lists every model migrated at startup
func AllModels() []interface{} {
	return []interface{}{
		&Library{},
		&Plugin{},
		&Credential{},
		&LibraryPlugin{},
		&RequestProcessing{},
	}
}
