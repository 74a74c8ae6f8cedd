package pluginmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mantonx/redseat/internal/database"
)

// GormPluginStore reads plugin descriptors and credentials from the database
type GormPluginStore struct {
	db *gorm.DB
}

var _ PluginStore = (*GormPluginStore)(nil)

// NewGormPluginStore creates a store on db
func NewGormPluginStore(db *gorm.DB) *GormPluginStore {
	return &GormPluginStore{db: db}
}

// ListPlugins returns enabled plugins with their credentials resolved.
// A LibraryID restricts the result to plugins enabled for that library.
func (s *GormPluginStore) ListPlugins(ctx context.Context, q PluginQuery) ([]PluginWithCredential, error) {
	var rows []database.Plugin
	tx := s.db.WithContext(ctx).Where("plugins.enabled = ?", true)
	if q.LibraryID != "" {
		tx = tx.Joins("JOIN library_plugins ON library_plugins.plugin_id = plugins.id").
			Where("library_plugins.library_id = ?", q.LibraryID)
	}
	if err := tx.Order("plugins.id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}

	out := make([]PluginWithCredential, 0, len(rows))
	for i := range rows {
		desc := toDescriptor(&rows[i])
		if q.Capability != "" && !desc.HasCapability(q.Capability) {
			continue
		}
		cred, err := s.credential(ctx, rows[i].CredentialID)
		if err != nil {
			return nil, err
		}
		out = append(out, PluginWithCredential{Plugin: desc, Credential: cred})
	}
	return out, nil
}

// GetPlugin returns one plugin with its credential
func (s *GormPluginStore) GetPlugin(ctx context.Context, pluginID string) (*PluginWithCredential, error) {
	var row database.Plugin
	if err := s.db.WithContext(ctx).First(&row, "id = ?", pluginID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, pluginID)
		}
		return nil, fmt.Errorf("failed to load plugin %s: %w", pluginID, err)
	}

	cred, err := s.credential(ctx, row.CredentialID)
	if err != nil {
		return nil, err
	}
	return &PluginWithCredential{Plugin: toDescriptor(&row), Credential: cred}, nil
}

// SaveCredential stores cred and links it to the plugin, replacing any
// previously linked credential in place
func (s *GormPluginStore) SaveCredential(ctx context.Context, pluginID string, cred *Credential) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plugin database.Plugin
		if err := tx.First(&plugin, "id = ?", pluginID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrPluginNotFound, pluginID)
			}
			return err
		}

		row := fromCredential(cred)
		if plugin.CredentialID != nil {
			row.ID = *plugin.CredentialID
		} else if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if err := tx.Save(row).Error; err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}

		cred.ID = row.ID
		if plugin.CredentialID == nil || *plugin.CredentialID != row.ID {
			return tx.Model(&plugin).Update("credential_id", row.ID).Error
		}
		return nil
	})
}

func (s *GormPluginStore) credential(ctx context.Context, id *string) (*Credential, error) {
	if id == nil {
		return nil, nil
	}
	var row database.Credential
	if err := s.db.WithContext(ctx).First(&row, "id = ?", *id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load credential %s: %w", *id, err)
	}
	return toCredential(&row), nil
}

func toDescriptor(p *database.Plugin) PluginDescriptor {
	desc := PluginDescriptor{
		ID:           p.ID,
		Name:         p.Name,
		Path:         p.Path,
		CredentialID: p.CredentialID,
	}
	for _, c := range p.Capabilities {
		if capability, err := ParseCapability(c); err == nil {
			desc.Capabilities = append(desc.Capabilities, capability)
		}
	}
	if p.Settings != "" {
		desc.Settings = json.RawMessage(p.Settings)
	}
	return desc
}

func toCredential(c *database.Credential) *Credential {
	cred := &Credential{
		ID:           c.ID,
		Kind:         c.Kind,
		Login:        c.Login,
		Password:     c.Password,
		Token:        c.Token,
		RefreshToken: c.RefreshToken,
		Expires:      c.Expires,
	}
	if c.Settings != "" {
		cred.Settings = json.RawMessage(c.Settings)
	}
	return cred
}

func fromCredential(c *Credential) *database.Credential {
	return &database.Credential{
		ID:           c.ID,
		Kind:         c.Kind,
		Login:        c.Login,
		Password:     c.Password,
		Token:        c.Token,
		RefreshToken: c.RefreshToken,
		Expires:      c.Expires,
		Settings:     string(c.Settings),
	}
}
