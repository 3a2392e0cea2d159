package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Success(c, gin.H{"id": "x"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, map[string]interface{}{"id": "x"}, resp.Data)
}

func TestErrorsCarryStatusAndCode(t *testing.T) {
	tests := []struct {
		name       string
		write      func(c *gin.Context)
		wantStatus int
		wantCode   int
	}{
		{"param", func(c *gin.Context) { ParamError(c, "bad") }, http.StatusBadRequest, CodeParamError},
		{"not found", func(c *gin.Context) { NotFound(c, "gone") }, http.StatusNotFound, CodeNotFound},
		{"server", func(c *gin.Context) { ServerError(c, "boom") }, http.StatusInternalServerError, CodeServerError},
		{"business", func(c *gin.Context) {
			BusinessError(c, http.StatusConflict, CodeConcurrentUpdate, "retry")
		}, http.StatusConflict, CodeConcurrentUpdate},
		{"negative balance", func(c *gin.Context) {
			BusinessError(c, http.StatusUnprocessableEntity, CodeNegativeBalance, "would go negative")
		}, http.StatusUnprocessableEntity, CodeNegativeBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			tt.write(c)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.True(t, c.IsAborted())
			resp := decode(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Nil(t, resp.Data)
		})
	}
}
