package sourcemodule

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mantonx/redseat/internal/database"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
)

// Library backends
const (
	SourceLocal  = "local"
	SourcePlugin = "plugin"
)

// ErrLibraryNotFound is returned for unknown library ids
var ErrLibraryNotFound = errors.New("library not found")

// LibraryStore reads library definitions
type LibraryStore interface {
	GetLibrary(ctx context.Context, id string) (*database.Library, error)
	ListLibraries(ctx context.Context) ([]database.Library, error)
}

// GormLibraryStore reads libraries from the database
type GormLibraryStore struct {
	db *gorm.DB
}

// NewGormLibraryStore creates a library store on db
func NewGormLibraryStore(db *gorm.DB) *GormLibraryStore {
	return &GormLibraryStore{db: db}
}

func (s *GormLibraryStore) GetLibrary(ctx context.Context, id string) (*database.Library, error) {
	var lib database.Library
	if err := s.db.WithContext(ctx).First(&lib, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, id)
		}
		return nil, fmt.Errorf("failed to load library %s: %w", id, err)
	}
	return &lib, nil
}

func (s *GormLibraryStore) ListLibraries(ctx context.Context) ([]database.Library, error) {
	var libs []database.Library
	if err := s.db.WithContext(ctx).Order("id").Find(&libs).Error; err != nil {
		return nil, fmt.Errorf("failed to list libraries: %w", err)
	}
	return libs, nil
}

// Registry builds the Source for a library
type Registry struct {
	libraries LibraryStore
	plugins   pluginmodule.PluginStore
	invoker   pluginmodule.Invoker
}

// NewRegistry creates a source registry
func NewRegistry(libraries LibraryStore, plugins pluginmodule.PluginStore, invoker pluginmodule.Invoker) *Registry {
	return &Registry{libraries: libraries, plugins: plugins, invoker: invoker}
}

// ForLibrary returns the source configured for lib. Plugin sources resolve
// their plugin and credential on every call.
func (r *Registry) ForLibrary(ctx context.Context, lib *database.Library) (Source, error) {
	switch lib.Source {
	case SourceLocal, "":
		return NewLocalSource(lib.Root)
	case SourcePlugin:
		if lib.PluginID == nil {
			return nil, fmt.Errorf("library %s has a plugin source without a plugin", lib.ID)
		}
		plugin, err := r.plugins.GetPlugin(ctx, *lib.PluginID)
		if err != nil {
			return nil, err
		}
		return NewPluginSource(*plugin, r.invoker), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, lib.Source)
	}
}

// ForLibraryID loads the library then returns its source
func (r *Registry) ForLibraryID(ctx context.Context, libraryID string) (Source, *database.Library, error) {
	lib, err := r.libraries.GetLibrary(ctx, libraryID)
	if err != nil {
		return nil, nil, err
	}
	src, err := r.ForLibrary(ctx, lib)
	if err != nil {
		return nil, nil, err
	}
	return src, lib, nil
}

// Libraries lists every library
func (r *Registry) Libraries(ctx context.Context) ([]database.Library, error) {
	return r.libraries.ListLibraries(ctx)
}
