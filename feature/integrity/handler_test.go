package integrity

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"delta-sync/core/storage/mocks"
	"delta-sync/feature/deltasync/store"

	"github.com/gofiber/fiber/v2"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestApp(t *testing.T, name string) (*fiber.App, *mocks.Client) {
	app := fiber.New()
	mockClient := new(mocks.Client)
	db := setupTestDB(t, name)
	require.NoError(t, store.Migrate(db))
	require.NoError(t, db.Exec("CREATE TABLE purchase_orders (natural_key TEXT, customer TEXT, name TEXT, Country TEXT)").Error)

	settings := testSettings()
	settings.ArchiveReports = true
	svc := NewService(mockClient, "sync", zap.NewNop(), db, settings, writeMapping(t))
	NewFeature(svc).Load(app)
	return app, mockClient
}

func TestHandleStructureCheck(t *testing.T) {
	app, mockClient := setupTestApp(t, "handler_structure")

	mockClient.On("BucketExists", mock.Anything, "sync").Return(true, nil)
	ch := make(chan minio.ObjectInfo)
	close(ch)
	mockClient.On("ListObjects", mock.Anything, "sync", mock.Anything).Return((<-chan minio.ObjectInfo)(ch))
	mockClient.On("PutObject", mock.Anything, "sync", "reports/", mock.Anything, int64(0), mock.Anything).Return(minio.UploadInfo{}, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/integrity/structure", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "checked", body["status"])
	assert.NotEmpty(t, body["missing"])

	resp, err = app.Test(httptest.NewRequest("GET", "/integrity/structure?fix=true", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "fixed", body["status"])
}

func TestHandleConfigCheck(t *testing.T) {
	app, mockClient := setupTestApp(t, "handler_config")

	mockClient.On("BucketExists", mock.Anything, "sync").Return(false, assert.AnError)

	resp, err := app.Test(httptest.NewRequest("GET", "/integrity/config", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

func TestHandleSourceCheck(t *testing.T) {
	app, _ := setupTestApp(t, "handler_source")

	resp, err := app.Test(httptest.NewRequest("GET", "/integrity/source", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["matched"])
}

func TestHandleSchemaCheck(t *testing.T) {
	app, _ := setupTestApp(t, "handler_schema")

	resp, err := app.Test(httptest.NewRequest("GET", "/integrity/schema", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestHandleIntegrityCheck(t *testing.T) {
	app, mockClient := setupTestApp(t, "handler_all")

	// Failing storage still yields a combined report.
	mockClient.On("BucketExists", mock.Anything, "sync").Return(false, assert.AnError)

	resp, err := app.Test(httptest.NewRequest("GET", "/integrity", nil), 2000)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "structure")
	assert.Contains(t, body, "config")
	assert.Contains(t, body, "source")
	assert.Contains(t, body, "schema")
}

func TestFeature(t *testing.T) {
	feature := NewFeature(NewService(nil, "sync", zap.NewNop(), nil, testSettings(), nil))

	assert.Equal(t, "integrity", feature.Name())
	assert.True(t, feature.IsEnabled())
	assert.NoError(t, feature.Load(fiber.New()))
}
