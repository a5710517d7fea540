package app

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bitwise74/course-video-api/aws"
	"bitwise74/course-video-api/aws/s3test"
	"bitwise74/course-video-api/db"
	"bitwise74/course-video-api/internal"
	"bitwise74/course-video-api/internal/model"
	"bitwise74/course-video-api/internal/service"
	"bitwise74/course-video-api/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("router-test-secret")

var mp4Header = append([]byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom"), make([]byte, 64)...)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDeps(t *testing.T) *internal.Deps {
	t.Helper()

	// db.New refuses a missing sqlite file inside containers
	dsn := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, os.WriteFile(dsn, nil, 0o644))

	database, err := db.New("sqlite", dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store := aws.New(s3test.New(), aws.Config{Bucket: "test", PublicBaseURL: "https://cdn.test"})
	root := t.TempDir()

	return &internal.Deps{
		DB:     database,
		Store:  store,
		Assets: service.NewAssetManager(database, store, service.Pipeline{}, service.Options{LocalRoot: root}),
		Limiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: 1000,
		}),

		JWTSecret:     testSecret,
		CORSOrigins:   []string{"http://localhost:5173"},
		MediaRoot:     root,
		MaxUploadSize: 1 << 20,
	}
}

func token(t *testing.T, role string) string {
	t.Helper()

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u1",
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	return "Bearer " + s
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadForm(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}

	if file != nil {
		part, err := w.CreateFormFile("file", "lecture.mp4")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestHeartbeatAndMetrics(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	w := do(r, httptest.NewRequest(http.MethodHead, "/api/heartbeat", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAuthRequiredOnMutatingRoutes(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/uploads/start"},
		{http.MethodPost, "/api/courses/c1/videos"},
		{http.MethodDelete, "/api/courses/c1"},
		{http.MethodPatch, "/api/videos/v1"},
		{http.MethodDelete, "/api/videos/v1"},
		{http.MethodPut, "/api/videos/v1/thumbnail"},
		{http.MethodPost, "/api/videos/v1/thumbnail/regenerate"},
		{http.MethodPost, "/api/admin/sweep"},
	}

	for _, rt := range routes {
		t.Run(rt.method+rt.path, func(t *testing.T) {
			w := do(r, httptest.NewRequest(rt.method, rt.path, nil))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	d := newTestDeps(t)
	r := NewRouter(d)

	require.NoError(t, d.DB.Create(&model.Course{ID: "c1", Title: "Go"}).Error)

	t.Run("StudentForbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/sweep", nil)
		req.Header.Set("Authorization", token(t, "student"))
		assert.Equal(t, http.StatusForbidden, do(r, req).Code)

		req = httptest.NewRequest(http.MethodDelete, "/api/courses/c1", nil)
		req.Header.Set("Authorization", token(t, "student"))
		assert.Equal(t, http.StatusForbidden, do(r, req).Code)
	})

	t.Run("Sweep", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/sweep", nil)
		req.Header.Set("Authorization", token(t, middleware.RoleAdmin))

		w := do(r, req)
		require.Equal(t, http.StatusOK, w.Code)

		var res service.SweepResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, int64(1), res.Courses)
	})

	t.Run("DeleteCourse", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/courses/c1", nil)
		req.Header.Set("Authorization", token(t, middleware.RoleAdmin))
		assert.Equal(t, http.StatusOK, do(r, req).Code)

		// Already gone
		req = httptest.NewRequest(http.MethodDelete, "/api/courses/c1", nil)
		req.Header.Set("Authorization", token(t, middleware.RoleAdmin))
		assert.Equal(t, http.StatusNotFound, do(r, req).Code)
	})
}

func TestVideoCreate_Rejections(t *testing.T) {
	d := newTestDeps(t)
	r := NewRouter(d)

	require.NoError(t, d.DB.Create(&model.Course{ID: "c1", Title: "Go"}).Error)

	cases := []struct {
		name   string
		course string
		fields map[string]string
		file   []byte
		code   int
	}{
		{"NoFile", "c1", map[string]string{"title": "Intro"}, nil, http.StatusBadRequest},
		{"NotAVideo", "c1", map[string]string{"title": "Intro"}, []byte("just some text"), http.StatusBadRequest},
		{"NoTitle", "c1", nil, mp4Header, http.StatusBadRequest},
		{"BadVideoID", "c1", map[string]string{"title": "Intro", "videoID": "nope"}, mp4Header, http.StatusBadRequest},
		{"UnknownCourse", "c2", map[string]string{"title": "Intro"}, mp4Header, http.StatusNotFound},
		{"TooLarge", "c1", map[string]string{"title": "Intro"}, make([]byte, 3<<20), http.StatusRequestEntityTooLarge},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			body, ct := uploadForm(t, c.fields, c.file)

			req := httptest.NewRequest(http.MethodPost, "/api/courses/"+c.course+"/videos", body)
			req.Header.Set("Content-Type", ct)
			req.Header.Set("Authorization", token(t, "instructor"))

			w := do(r, req)
			assert.Equal(t, c.code, w.Code)

			var res map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.NotEmpty(t, res["requestID"])
			assert.NotEmpty(t, res["error"])
		})
	}

	var n int64
	require.NoError(t, d.DB.Model(&model.VideoAsset{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestVideoRoutes_NotFound(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/videos/9b2f7a52-0d1c-4a41-a0a5-6f1c1b1a4f00", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/videos/9b2f7a52-0d1c-4a41-a0a5-6f1c1b1a4f00", nil)
	req.Header.Set("Authorization", token(t, "instructor"))
	assert.Equal(t, http.StatusNotFound, do(r, req).Code)

	req = httptest.NewRequest(http.MethodPatch, "/api/videos/9b2f7a52-0d1c-4a41-a0a5-6f1c1b1a4f00", bytes.NewBufferString(`{"title":"x"}`))
	req.Header.Set("Authorization", token(t, "instructor"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusNotFound, do(r, req).Code)
}

func TestCourseVideos(t *testing.T) {
	d := newTestDeps(t)
	r := NewRouter(d)

	require.NoError(t, d.DB.Create(&model.Course{ID: "c1", Title: "Go"}).Error)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/courses/c1/videos", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		CourseID string             `json:"course_id"`
		Videos   []model.VideoAsset `json:"videos"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "c1", res.CourseID)
	assert.Empty(t, res.Videos)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/courses/c2/videos", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadProgress(t *testing.T) {
	d := newTestDeps(t)
	r := NewRouter(d)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/uploads/unknown/progress", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/start", nil)
	req.Header.Set("Authorization", token(t, "instructor"))

	w = do(r, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var start struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &start))
	require.NotEmpty(t, start.ID)

	t.Run("StopsWithClient", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		req := httptest.NewRequest(http.MethodGet, "/api/uploads/"+start.ID+"/progress", nil).WithContext(ctx)

		w := do(r, req)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), `"stage":"queued"`)
	})

	t.Run("EndsOnTerminalStage", func(t *testing.T) {
		d.Assets.Tracker().Finish(start.ID, service.StageReady)

		w := do(r, httptest.NewRequest(http.MethodGet, "/api/uploads/"+start.ID+"/progress", nil))
		assert.Contains(t, w.Body.String(), `"stage":"ready"`)
		assert.Contains(t, w.Body.String(), `"progress":100`)
	})
}

func TestVideoEdit_RejectsBadBody(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	for name, body := range map[string]string{
		"Malformed":    `{"title":`,
		"TitleTooLong": `{"title":"` + strings.Repeat("a", 201) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/api/videos/9b2f7a52-0d1c-4a41-a0a5-6f1c1b1a4f00", strings.NewReader(body))
			req.Header.Set("Authorization", token(t, "instructor"))
			req.Header.Set("Content-Type", "application/json")

			assert.Equal(t, http.StatusBadRequest, do(r, req).Code)
		})
	}
}

func TestVideoFetch_CacheFollowsWrites(t *testing.T) {
	d := newTestDeps(t)
	r := NewRouter(d)

	const id = "9b2f7a52-0d1c-4a41-a0a5-6f1c1b1a4f00"
	seedVideo(t, d, "c1", id)

	fetch := func() *httptest.ResponseRecorder {
		return do(r, httptest.NewRequest(http.MethodGet, "/api/videos/"+id, nil))
	}

	w := fetch()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Intro"`)

	req := httptest.NewRequest(http.MethodPatch, "/api/videos/"+id, strings.NewReader(`{"title":"Basics"}`))
	req.Header.Set("Authorization", token(t, "instructor"))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusOK, do(r, req).Code)

	w = fetch()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Basics"`)

	req = httptest.NewRequest(http.MethodDelete, "/api/videos/"+id, nil)
	req.Header.Set("Authorization", token(t, "instructor"))
	require.Equal(t, http.StatusNoContent, do(r, req).Code)

	assert.Equal(t, http.StatusNotFound, fetch().Code)
}

func TestVideoFetch_CacheClearedByCourseDelete(t *testing.T) {
	d := newTestDeps(t)
	r := NewRouter(d)

	const id = "4e0c2b8f-61a7-4d1e-9f3a-2b7c5d8e9a10"
	seedVideo(t, d, "c1", id)

	require.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodGet, "/api/videos/"+id, nil)).Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/courses/c1", nil)
	req.Header.Set("Authorization", token(t, middleware.RoleAdmin))
	require.Equal(t, http.StatusOK, do(r, req).Code)

	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/api/videos/"+id, nil)).Code)
}

func seedVideo(t *testing.T, d *internal.Deps, courseID, id string) {
	t.Helper()

	require.NoError(t, d.DB.Create(&model.Course{ID: courseID, Title: "Go"}).Error)
	require.NoError(t, d.DB.Create(&model.VideoAsset{
		ID:        id,
		CourseID:  courseID,
		Title:     "Intro",
		StreamKey: "videos/" + courseID + "/" + id + "/index.m3u8",
		StreamURL: "https://cdn.test/videos/" + courseID + "/" + id + "/index.m3u8",
		Status:    model.StatusReady,
	}).Error)
	require.NoError(t, d.DB.Create(&model.CourseVideo{CourseID: courseID, VideoID: id, Position: 1}).Error)
}
