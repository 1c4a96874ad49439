package ginlog

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestGetOrCreateRequestID(t *testing.T) {
	t.Run("if no request ID is present, then one should be created", func(t *testing.T) {
		r, err := http.NewRequest("GET", "/", nil)
		assert.NoError(t, err, "should not error creating request")

		c := &gin.Context{Request: r}

		_, ok := c.Get(RequestIDKey)
		assert.False(t, ok, "should not have request ID")

		id := GetOrCreateRequestID(c)
		assert.NotEmpty(t, id, "request ID should not be empty")
	})

	t.Run("if request ID is present in header, then it should be used", func(t *testing.T) {
		r, err := http.NewRequest("GET", "/", nil)
		assert.NoError(t, err, "should not error creating request")

		r.Header.Add(RequestIDHeader, "test")
		c := &gin.Context{Request: r}

		id := GetOrCreateRequestID(c)
		assert.Equal(t, "test", id)
	})

	t.Run("if request ID is on context, then it should be used", func(t *testing.T) {
		c := &gin.Context{}
		c.Set(RequestIDKey, "test")

		id := GetOrCreateRequestID(c)
		assert.Equal(t, "test", id)
	})
}

func TestRequestLogger_getLogLevel(t *testing.T) {
	zapDev, err := zap.NewDevelopment()
	require.NoError(t, err)

	t.Run("when no paths are defined", func(t *testing.T) {
		rl := requestLogger{
			logger: zapDev,
		}

		lvl := rl.getLogLevel("/")
		require.Equal(t, zapcore.InfoLevel, lvl)
	})

	t.Run("when levelByPath is defined", func(t *testing.T) {
		rl := requestLogger{
			logger: zapDev,
			levelByPath: map[string]zapcore.Level{
				"/health": zapcore.DebugLevel,
			},
		}

		require.Equal(t, zapcore.DebugLevel, rl.getLogLevel("/health"))
		require.Equal(t, zapcore.InfoLevel, rl.getLogLevel("/training/jobs/start"))
	})
}

func TestRequestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestLogger(zap.NewNop()))
	router.GET("/ping", func(c *gin.Context) {
		assert.NotNil(t, GetRequestLogger(c))
		c.String(http.StatusOK, "pong")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/ping", nil)
	r.Header.Set(RequestIDHeader, "req-123")
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseLevelByPath(t *testing.T) {
	t.Run("valid level", func(t *testing.T) {
		lvlPath := parseLevelByPath(RequestLoggerConfig{
			LevelByPath: map[string]string{"/metrics": "debug"},
		})
		require.Equal(t, 1, len(lvlPath))
		assert.Equal(t, zapcore.DebugLevel, lvlPath["/metrics"])
	})

	t.Run("unparseable level falls back to info", func(t *testing.T) {
		lvlPath := parseLevelByPath(RequestLoggerConfig{
			LevelByPath: map[string]string{"/metrics": "chatty"},
		})
		require.Equal(t, 1, len(lvlPath))
		assert.Equal(t, zapcore.InfoLevel, lvlPath["/metrics"])
	})
}
