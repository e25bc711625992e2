package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/errors"
	"github.com/vortexdata/vortex/pkg/models"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func connectedSource(t *testing.T, dir string, params map[string]string) core.Connector {
	t.Helper()
	if params == nil {
		params = map[string]string{}
	}
	params["path"] = dir

	src := NewSource()
	cfg := config.NewConnectorConfiguration("file-test", "file under test", "", params)
	require.NoError(t, src.Initialize(context.Background(), cfg))

	result, err := src.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	t.Cleanup(func() { _ = src.Close(context.Background()) })
	return src
}

func TestValidateConnectionRequiresPath(t *testing.T) {
	src := NewSource()

	result := src.ValidateConnection(map[string]string{})
	assert.False(t, result.Valid)

	result = src.ValidateConnection(map[string]string{"path": "/tmp", "delimiter": ";;"})
	assert.False(t, result.Valid)

	result = src.ValidateConnection(map[string]string{"path": "/tmp", "delimiter": ";"})
	assert.True(t, result.Valid)
}

func TestConnectRejectsMissingDirectory(t *testing.T) {
	src := NewSource()
	cfg := config.NewConnectorConfiguration("f", "f", "", map[string]string{
		"path": filepath.Join(t.TempDir(), "nope"),
	})
	require.NoError(t, src.Initialize(context.Background(), cfg))

	_, err := src.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, core.StateError, src.State())
}

func TestDiscoverStructuresListsFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "orders.csv", "id,total\n1,10.5\n2,20\n")
	writeFixture(t, dir, "users.json", `[{"id": 1, "name": "ana"}]`)
	writeFixture(t, dir, "notes.txt", "ignored")

	src := connectedSource(t, dir, nil)

	descs, err := src.DiscoverStructures(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "orders", descs[0].Name)
	assert.Equal(t, "users", descs[1].Name)

	filtered, err := src.DiscoverStructures(context.Background(), "ORDERS")
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	field, ok := filtered[0].Field("total")
	require.True(t, ok)
	assert.Equal(t, models.FieldTypeFloat, field.Type)
}

func TestExtractCSVInfersTypes(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "events.csv",
		"id,name,active,at\n1,alpha,true,2024-01-01T00:00:00Z\n2,beta,false,2024-01-02T00:00:00Z\n")

	src := connectedSource(t, dir, nil)
	result, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"events"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.RowCount)

	row := result.Rows[0]
	assert.Equal(t, models.KindInt, row["id"].Kind())
	assert.Equal(t, models.KindString, row["name"].Kind())
	assert.Equal(t, models.KindBool, row["active"].Kind())
	assert.Equal(t, models.KindTimestamp, row["at"].Kind())
}

func TestExtractCustomDelimiter(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "rows.csv", "id;name\n1;one\n2;two\n")

	src := connectedSource(t, dir, map[string]string{"delimiter": ";"})
	result, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"rows"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, "one", result.Rows[0]["name"].StringValue())
}

func TestExtractJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "users.json",
		`[{"id": 1, "name": "ana", "score": 1.5}, {"id": 2, "name": "bo", "score": 2.5}]`)

	src := connectedSource(t, dir, nil)
	result, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"users"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.RowCount)
	assert.Equal(t, int64(1), result.Rows[0]["id"].IntValue())
	assert.InDelta(t, 1.5, result.Rows[0]["score"].FloatValue(), 1e-9)
}

func TestExtractUnknownStructure(t *testing.T) {
	src := connectedSource(t, t.TempDir(), nil)
	_, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"ghost"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
}

func TestFullExtractionOffsetToken(t *testing.T) {
	dir := t.TempDir()
	content := "id\n"
	for i := 1; i <= 7; i++ {
		content += string(rune('0'+i)) + "\n"
	}
	writeFixture(t, dir, "seq.csv", content)

	src := connectedSource(t, dir, nil)
	params := &core.ExtractionParameters{TargetStructures: []string{"seq"}, MaxRecords: 3}

	first, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 3, first.RowCount)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.ContinuationToken)

	params.ContinuationToken = first.ContinuationToken
	second, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, int64(4), second.Rows[0]["id"].IntValue())
}

func TestIncrementalSortsByTrackingField(t *testing.T) {
	dir := t.TempDir()
	// Deliberately unordered on disk.
	writeFixture(t, dir, "events.csv", "id,name\n3,c\n1,a\n2,b\n")

	src := connectedSource(t, dir, nil)
	result, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		Incremental:      true,
		TrackingField:    "id",
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.RowCount)
	assert.Equal(t, int64(1), result.Rows[0]["id"].IntValue())
	assert.Equal(t, int64(3), result.Rows[2]["id"].IntValue())
	assert.Equal(t, "events|id|3", result.ContinuationToken)
}

func TestIncrementalReplayAndNewRows(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "events.csv", "id\n1\n2\n3\n")

	src := connectedSource(t, dir, nil)
	params := &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		Incremental:      true,
		TrackingField:    "id",
	}
	first, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 3, first.RowCount)

	// No new rows: zero results, boundary stays put.
	params.ContinuationToken = first.ContinuationToken
	replay, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Zero(t, replay.RowCount)
	assert.Equal(t, first.ContinuationToken, replay.ContinuationToken)

	// The file grows: only rows past the boundary come back.
	writeFixture(t, dir, "events.csv", "id\n1\n2\n3\n4\n5\n")
	grown, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 2, grown.RowCount)
	assert.Equal(t, "events|id|5", grown.ContinuationToken)
}

func TestIncrementalTimestampBoundaryKeepsFractionalSeconds(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "events.csv",
		"id,at\n1,2024-01-01T00:00:00Z\n2,2024-01-01T00:00:01Z\n")

	src := connectedSource(t, dir, nil)
	params := &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		Incremental:      true,
		TrackingField:    "at",
	}
	first, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 2, first.RowCount)
	assert.Equal(t, "events|at|2024-01-01T00:00:01Z", first.ContinuationToken)

	// A new row lands between the boundary second and the next whole
	// second. Replaying the token must return it, not drop it.
	writeFixture(t, dir, "events.csv",
		"id,at\n1,2024-01-01T00:00:00Z\n2,2024-01-01T00:00:01Z\n3,2024-01-01T00:00:01.25Z\n")

	params.ContinuationToken = first.ContinuationToken
	second, err := src.Extract(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 1, second.RowCount)
	assert.Equal(t, int64(3), second.Rows[0]["id"].IntValue())
	assert.Equal(t, "events|at|2024-01-01T00:00:01.25Z", second.ContinuationToken)
}

func TestIncrementalUnknownTrackingField(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "events.csv", "id\n1\n")

	src := connectedSource(t, dir, nil)
	_, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		Incremental:      true,
		TrackingField:    "updated_at",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))
}

func TestFilterCriteria(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "events.csv", "id,region\n1,east\n2,west\n3,east\n")

	src := connectedSource(t, dir, nil)
	result, err := src.Extract(context.Background(), &core.ExtractionParameters{
		TargetStructures: []string{"events"},
		FilterCriteria:   map[string]string{"region": "east"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
}

func TestCancelledExtractionReportsPartial(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "events.csv", "id\n1\n2\n3\n")

	src := connectedSource(t, dir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := src.Extract(ctx, &core.ExtractionParameters{
		TargetStructures: []string{"events"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	assert.False(t, result.Success)
	assert.Empty(t, result.ContinuationToken)
}
