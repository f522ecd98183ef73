package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/researchaccelerator-hub/telegram-netscan/graph"
	"github.com/researchaccelerator-hub/telegram-netscan/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *RecordDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleRecords(at time.Time) []model.ChannelRecord {
	return []model.ChannelRecord{
		{
			ID:             1,
			Title:          "Alpha",
			Username:       "alpha",
			Participants:   100,
			LinkedChannels: []string{"bravo"},
			ScannedAt:      at,
			Messages: []model.Message{
				{ID: 10, Date: at, Text: "see @bravo", Views: 5},
				{ID: 11, Date: at, Text: ""},
			},
		},
		{
			ID:        2,
			Title:     "Bravo",
			Username:  "bravo",
			Depth:     1,
			ScannedAt: at,
		},
	}
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", DefaultFileName)
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, path)
	assert.Equal(t, path, db.Path())
}

func TestSaveRun_ListChannels(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.SaveRun(ctx, sampleRecords(at), []Link{{Source: "alpha", Target: "bravo"}}))

	rows, err := db.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "alpha", rows[0].Username)
	assert.Equal(t, 100, rows[0].Participants)
	assert.Equal(t, 1, rows[0].MessageCount, "only messages with text are counted")
	assert.True(t, at.Equal(rows[0].ScannedAt))
	assert.Equal(t, "bravo", rows[1].Username)
	assert.Equal(t, 1, rows[1].Depth)
}

func TestLoadGraph(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	links := []Link{{Source: "alpha", Target: "alpha"}, {Source: "alpha", Target: "bravo"}}
	require.NoError(t, db.SaveRun(ctx, sampleRecords(at), links))

	nodes, edges, err := db.LoadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, graph.Node{ID: "alpha", Title: "Alpha", Participants: 100, MessageCount: 1}, nodes[0])
	assert.Equal(t, "bravo", nodes[1].ID)
	assert.Equal(t, 1, nodes[1].Depth)
	assert.Equal(t, []graph.Edge{{Source: "alpha", Target: "alpha"}, {Source: "alpha", Target: "bravo"}}, edges)
}

func TestSaveRun_Upserts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	at := time.Now().UTC()

	links := []Link{{Source: "alpha", Target: "bravo"}}
	require.NoError(t, db.SaveRun(ctx, sampleRecords(at), links))

	updated := sampleRecords(at)
	updated[0].Title = "Alpha Renamed"
	require.NoError(t, db.SaveRun(ctx, updated, links))

	rows, err := db.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alpha Renamed", rows[0].Title)

	stored, err := db.Links(ctx)
	require.NoError(t, err)
	assert.Equal(t, links, stored)
}

func TestInbound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveRun(ctx, nil, []Link{
		{Source: "alpha", Target: "charlie"},
		{Source: "bravo", Target: "charlie"},
		{Source: "alpha", Target: "bravo"},
	}))

	in, err := db.Inbound(ctx, "charlie")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "bravo"}, in)

	in, err = db.Inbound(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, in)
}

func TestSaveRun_CancelledContext(t *testing.T) {
	db := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.SaveRun(ctx, sampleRecords(time.Now()), nil)
	assert.Error(t, err)

	rows, err := db.ListChannels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}
