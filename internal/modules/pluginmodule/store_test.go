package pluginmodule

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/redseat/internal/database"
	plugins "github.com/mantonx/redseat/sdk"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedPlugins(t *testing.T, db *gorm.DB) {
	t.Helper()
	credID := "cred-1"
	require.NoError(t, db.Create(&database.Credential{ID: credID, Kind: "token", Token: strPtr("abc")}).Error)
	require.NoError(t, db.Create(&[]database.Plugin{
		{ID: "yt", Name: "Video site", Path: "/plugins/yt/yt", Capabilities: []string{"provider", "url_parser"}, Settings: `{"q":"hd"}`, CredentialID: &credID, Enabled: true},
		{ID: "conv", Name: "Converter", Path: "/plugins/conv/conv", Capabilities: []string{"video_convert"}, Enabled: true},
		{ID: "auth", Name: "Auth", Path: "/plugins/auth/auth", Capabilities: []string{"oauth"}, Enabled: true},
	}).Error)
	require.NoError(t, db.Create(&database.Library{ID: "lib1", Name: "Movies", Source: "local"}).Error)
	require.NoError(t, db.Create(&database.LibraryPlugin{LibraryID: "lib1", PluginID: "conv"}).Error)
}

func TestGormPluginStore_ListPlugins(t *testing.T) {
	db := setupTestDB(t)
	seedPlugins(t, db)
	store := NewGormPluginStore(db)
	ctx := context.Background()

	all, err := store.ListPlugins(ctx, PluginQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	providers, err := store.ListPlugins(ctx, PluginQuery{Capability: CapabilityProvider})
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "yt", providers[0].Plugin.ID)
	assert.JSONEq(t, `{"q":"hd"}`, string(providers[0].Plugin.Settings))
	require.NotNil(t, providers[0].Credential)
	assert.Equal(t, "abc", *providers[0].Credential.Token)

	scoped, err := store.ListPlugins(ctx, PluginQuery{LibraryID: "lib1", Capability: CapabilityVideoConvert})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "conv", scoped[0].Plugin.ID)
	assert.Nil(t, scoped[0].Credential)

	none, err := store.ListPlugins(ctx, PluginQuery{LibraryID: "lib1", Capability: CapabilityProvider})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormPluginStore_GetPlugin(t *testing.T) {
	db := setupTestDB(t)
	seedPlugins(t, db)
	store := NewGormPluginStore(db)

	p, err := store.GetPlugin(context.Background(), "yt")
	require.NoError(t, err)
	assert.Equal(t, "/plugins/yt/yt", p.Plugin.Path)
	assert.True(t, p.Plugin.HasCapability(CapabilityURLParser))

	_, err = store.GetPlugin(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPluginNotFound)
}

func TestService_ExchangeToken(t *testing.T) {
	db := setupTestDB(t)
	seedPlugins(t, db)
	store := NewGormPluginStore(db)

	registry, dispatcher := newTestDispatcher(t)
	registry.Register("/plugins/auth/auth", mustManifest(t, "auth", CapabilityOAuth), &fakeCaller{
		handle: func(_ context.Context, function string, _ []byte) ([]byte, error) {
			assert.Equal(t, plugins.FuncExchangeToken, function)
			return []byte(`{"kind":"oauth","token":"tok","refresh_token":"ref","expires":1700000000000}`), nil
		},
	})
	svc := NewService(store, registry, dispatcher, hclog.NewNullLogger())
	ctx := context.Background()

	cred, err := svc.ExchangeToken(ctx, "auth", map[string]string{"code": "xyz"})
	require.NoError(t, err)
	require.NotEmpty(t, cred.ID)
	assert.Equal(t, "tok", *cred.Token)

	stored, err := store.GetPlugin(ctx, "auth")
	require.NoError(t, err)
	require.NotNil(t, stored.Credential)
	assert.Equal(t, cred.ID, stored.Credential.ID)
	assert.Equal(t, "ref", *stored.Credential.RefreshToken)

	// A second exchange rotates the same credential row.
	_, err = svc.ExchangeToken(ctx, "auth", map[string]string{"code": "again"})
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&database.Credential{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	registry.Register("/plugins/conv/conv", mustManifest(t, "conv", CapabilityVideoConvert), &fakeCaller{})
	_, err = svc.ExchangeToken(ctx, "conv", nil)
	var unsupported *UnsupportedCallError
	assert.ErrorAs(t, err, &unsupported)
}
