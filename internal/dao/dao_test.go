package dao

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forbearing/querygate/internal/apimodel"
	"github.com/forbearing/querygate/internal/connection"
	"github.com/forbearing/querygate/internal/dialect"
	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/types/claims"
)

// scriptedConn answers Query by routing on which table name appears in the
// generated SQL text, letting a test stand in for a real database without
// asserting on exact statement text.
type scriptedConn struct {
	byTable map[string][]map[string]any
}

func (c *scriptedConn) Query(_ context.Context, sqlText string, _ ...any) ([]map[string]any, error) {
	for table, rows := range c.byTable {
		if strings.Contains(sqlText, table) {
			return rows, nil
		}
	}
	return nil, nil
}
func (c *scriptedConn) Exec(context.Context, string, ...any) (int64, error) { return 0, nil }
func (c *scriptedConn) Begin(context.Context) (connection.Connection, error) {
	return c, nil
}
func (c *scriptedConn) Commit() error   { return nil }
func (c *scriptedConn) Rollback() error { return nil }
func (c *scriptedConn) Close() error    { return nil }

func seedAlbumTrackRegistry() {
	album := &apimodel.EntitySchema{
		Name:       "album",
		Table:      "album",
		PrimaryKey: "album_id",
		Properties: map[string]*apimodel.PropertyDescriptor{
			"album_id": {Name: "album_id", Column: "album_id", Type: apimodel.TypeInteger, IsKey: true},
			"title":    {Name: "title", Column: "title", Type: apimodel.TypeString},
		},
		PropertyOrder: []string{"album_id", "title"},
		Relations: map[string]*apimodel.RelationDescriptor{
			"tracks": {
				Name: "tracks", Cardinality: apimodel.CardinalityArray,
				ReferencedEntity: "track", ParentProperty: "album_id", ChildProperty: "album_id",
			},
		},
		Permissions: apimodel.PermissionTable{
			apimodel.DefaultProvider: apimodel.ActionRules{
				apimodel.ActionRead: apimodel.RoleRules{
					"staff": {Properties: ".*"},
				},
			},
		},
	}
	track := &apimodel.EntitySchema{
		Name:       "track",
		Table:      "track",
		PrimaryKey: "track_id",
		Properties: map[string]*apimodel.PropertyDescriptor{
			"track_id": {Name: "track_id", Column: "track_id", Type: apimodel.TypeInteger, IsKey: true},
			"album_id": {Name: "album_id", Column: "album_id", Type: apimodel.TypeInteger},
			"name":     {Name: "name", Column: "name", Type: apimodel.TypeString},
		},
		PropertyOrder: []string{"track_id", "album_id", "name"},
		Permissions: apimodel.PermissionTable{
			apimodel.DefaultProvider: apimodel.ActionRules{
				apimodel.ActionRead: apimodel.RoleRules{
					"staff": {Properties: ".*"},
				},
			},
		},
	}
	apimodel.SetSnapshotForTest(map[string]*apimodel.EntitySchema{
		"album": album,
		"track": track,
	}, nil)
}

func TestDAO_Execute_ReadAttachesArrayRelation(t *testing.T) {
	seedAlbumTrackRegistry()
	d, err := dialect.For(dialect.Postgres)
	require.NoError(t, err)
	dao := New(d)

	conn := &scriptedConn{byTable: map[string][]map[string]any{
		`"album"`: {{"album_id": int64(1), "title": "Rock Classics"}},
		`"track"`: {
			{"track_id": int64(10), "album_id": int64(1), "name": "Song A"},
			{"track_id": int64(11), "album_id": int64(1), "name": "Song B"},
		},
	}}

	op := &operation.Operation{
		Entity:         "album",
		Action:         operation.ActionRead,
		QueryParams:    map[string]string{},
		MetadataParams: map[string]string{"__include": "tracks"},
		Claims:         &claims.Claims{Roles: []string{"staff"}},
	}

	result, err := dao.Execute(context.Background(), conn, op)
	require.NoError(t, err)
	rows, ok := result.([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 1)

	nested, ok := rows[0]["tracks"].([]map[string]any)
	require.True(t, ok, "expected tracks to be attached as a nested row slice")
	require.Len(t, nested, 2)
	assert.Equal(t, "Song A", nested[0]["name"])
	assert.Equal(t, "Song B", nested[1]["name"])
}

func TestDAO_Execute_ReadWithoutIncludeSkipsArrayRelation(t *testing.T) {
	seedAlbumTrackRegistry()
	d, err := dialect.For(dialect.Postgres)
	require.NoError(t, err)
	dao := New(d)

	conn := &scriptedConn{byTable: map[string][]map[string]any{
		`"album"`: {{"album_id": int64(1), "title": "Rock Classics"}},
	}}

	op := &operation.Operation{
		Entity:         "album",
		Action:         operation.ActionRead,
		QueryParams:    map[string]string{},
		MetadataParams: map[string]string{},
		Claims:         &claims.Claims{Roles: []string{"staff"}},
	}

	result, err := dao.Execute(context.Background(), conn, op)
	require.NoError(t, err)
	rows := result.([]map[string]any)
	require.Len(t, rows, 1)
	_, hasTracks := rows[0]["tracks"]
	assert.False(t, hasTracks)
}
