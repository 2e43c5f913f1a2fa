package adapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forbearing/querygate/internal/operation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContext(method, rawURL, body string, params gin.Params) *gin.Context {
	req := httptest.NewRequest(method, rawURL, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	return c
}

func TestUnmarshal_GetBuildsReadOperationFromPathAndQuery(t *testing.T) {
	c := newContext(http.MethodGet, "/album?artistId=7&__sort=title", "", gin.Params{{Key: "pk", Value: "42"}})
	op, err := Unmarshal(c, "album")
	require.NoError(t, err)
	assert.Equal(t, "album", op.Entity)
	assert.Equal(t, operation.ActionRead, op.Action)
	assert.Equal(t, "42", op.QueryParams["pk"])
	assert.Equal(t, "7", op.QueryParams["artist_id"])
	assert.Equal(t, "title", op.MetadataParams["__sort"])
}

func TestUnmarshal_PostDecodesBodyIntoStoreParams(t *testing.T) {
	c := newContext(http.MethodPost, "/album", `{"artistId":7,"title":"Ride the Lightning"}`, nil)
	op, err := Unmarshal(c, "album")
	require.NoError(t, err)
	assert.Equal(t, operation.ActionCreate, op.Action)
	assert.Equal(t, float64(7), op.StoreParams["artist_id"])
	assert.Equal(t, "Ride the Lightning", op.StoreParams["title"])
}

func TestUnmarshal_PatchAndPutMapToUpdate(t *testing.T) {
	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		c := newContext(method, "/album", `{}`, nil)
		op, err := Unmarshal(c, "album")
		require.NoError(t, err)
		assert.Equal(t, operation.ActionUpdate, op.Action)
	}
}

func TestUnmarshal_DeleteProducesNoStoreParams(t *testing.T) {
	c := newContext(http.MethodDelete, "/album/42", "", gin.Params{{Key: "pk", Value: "42"}})
	op, err := Unmarshal(c, "album")
	require.NoError(t, err)
	assert.Equal(t, operation.ActionDelete, op.Action)
	assert.Nil(t, op.StoreParams)
}

func TestUnmarshal_RejectsUnsupportedMethod(t *testing.T) {
	c := newContext(http.MethodOptions, "/album", "", nil)
	_, err := Unmarshal(c, "album")
	require.Error(t, err)
}

func TestUnmarshalBatch_WrapsBodyAsBatchCreate(t *testing.T) {
	body := `{"operations":[{"id":"a","entity":"album","action":"create"}]}`
	c := newContext(http.MethodPost, "/batch", body, nil)
	op, err := UnmarshalBatch(c)
	require.NoError(t, err)
	assert.Equal(t, "batch", op.Entity)
	assert.Equal(t, operation.ActionCreate, op.Action)
	ops, ok := op.StoreParams["operations"].([]any)
	require.True(t, ok)
	assert.Len(t, ops, 1)
}

func TestUnmarshalCustom_BuildsCustomBindingsFromParamsAndQuery(t *testing.T) {
	c := newContext(http.MethodGet, "/reports/top-albums?minSales=100", "", gin.Params{{Key: "artistId", Value: "7"}})
	op := UnmarshalCustom(c, "top_albums_report")
	assert.Equal(t, operation.ActionCustom, op.Action)
	assert.Equal(t, "top_albums_report", op.CustomSQLName)
	assert.Equal(t, "7", op.CustomBindings["artist_id"])
	assert.Equal(t, "100", op.CustomBindings["min_sales"])
}

func TestMarshal_SuccessEnvelopeCamelCasesTopLevelKeys(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/album", nil)

	Marshal(c, []map[string]any{{"album_id": 1, "artist_id": 7}}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"albumId"`)
	assert.Contains(t, w.Body.String(), `"artistId"`)
}

func TestMarshal_ErrorEnvelopeWritesErrorBody(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/album", nil)

	Marshal(c, nil, assertErr{})

	assert.GreaterOrEqual(t, w.Code, http.StatusBadRequest)
	assert.Contains(t, w.Body.String(), `"error"`)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestAssignParam_MetadataKeysDoNotLeakIntoQueryParams(t *testing.T) {
	op := &operation.Operation{QueryParams: map[string]string{}, MetadataParams: map[string]string{}}
	assignParam(op, "__limit", "10")
	assignParam(op, "artistId", "7")
	assert.Equal(t, "10", op.MetadataParams["__limit"])
	assert.Equal(t, "7", op.QueryParams["artist_id"])
	_, leaked := op.QueryParams["__limit"]
	assert.False(t, leaked)
}

func TestDecodeStoreParams_SnakeCasesTopLevelKeys(t *testing.T) {
	out, err := decodeStoreParams([]byte(`{"artistId":7,"alreadySnake_case":1}`))
	require.NoError(t, err)
	assert.Contains(t, out, "artist_id")
}
