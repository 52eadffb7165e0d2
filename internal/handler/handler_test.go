package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"facesense/internal/attendance"
	"facesense/internal/auth"
	"facesense/internal/facemodel"
	"facesense/internal/geo"
	"facesense/internal/identity"
	"facesense/internal/queue"
	"facesense/internal/recognition"
	"facesense/internal/samples"
	"facesense/internal/vision"
)

const (
	testKey    = "handler-test-key"
	testIssuer = "facesense-test"
	adminKey   = "let-me-in"
)

// fakeExtractor: 'x' is undecodable, 'n' has no face, any other byte is a
// uniform face of that brightness.
type fakeExtractor struct{}

func (fakeExtractor) ExtractFace(raw []byte) (*image.Gray, error) {
	if len(raw) == 0 || raw[0] == 'x' {
		return nil, vision.ErrDecode
	}
	if raw[0] == 'n' {
		return nil, vision.ErrNoFace
	}
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = raw[0]
	}
	return img, nil
}

// meanClassifier predicts the label whose mean brightness is closest.
type meanClassifier struct {
	Means map[int]float64 `json:"means"`
}

func mean(img *image.Gray) float64 {
	var sum float64
	for _, p := range img.Pix {
		sum += float64(p)
	}
	return sum / float64(len(img.Pix))
}

func (m *meanClassifier) Train(faces []*image.Gray, labels []int) error {
	sums, n := map[int]float64{}, map[int]float64{}
	for i, f := range faces {
		sums[labels[i]] += mean(f)
		n[labels[i]]++
	}
	m.Means = map[int]float64{}
	for l := range sums {
		m.Means[l] = sums[l] / n[l]
	}
	return nil
}

func (m *meanClassifier) Predict(face *image.Gray) (int, float64, error) {
	v := mean(face)
	best, dist := -1, 0.0
	for l, mv := range m.Means {
		d := v - mv
		if d < 0 {
			d = -d
		}
		if best == -1 || d < dist {
			best, dist = l, d
		}
	}
	return best, dist, nil
}

func (m *meanClassifier) Save(path string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

type meanBackend struct{}

func (meanBackend) New() facemodel.Classifier { return &meanClassifier{} }

func (meanBackend) Load(path string) (facemodel.Classifier, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &meanClassifier{}
	return m, json.Unmarshal(b, m)
}

type testServer struct {
	router *gin.Engine
	ids    *identity.Memory
	jobs   *queue.InMemory
	events *queue.MemoryBroadcaster
	device string
	admin  string
}

func newTestServer(t *testing.T, async bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ids := identity.NewMemory()
	if _, err := ids.CreateIdentity(context.Background(), identity.Identity{ID: 42, FirstName: "Asha", LastName: "Rao", Role: identity.RoleStudent}); err != nil {
		t.Fatal(err)
	}
	models := facemodel.NewRegistry(t.TempDir(), meanBackend{}, nil)
	rec := recognition.NewService(ids, samples.New(t.TempDir(), 16), fakeExtractor{}, models, nil,
		recognition.Thresholds{MaxDistance: 20, LocationMeters: 100})

	ts := &testServer{
		router: gin.New(),
		ids:    ids,
		jobs:   queue.NewInMemory(4),
		events: queue.NewMemoryBroadcaster(),
	}
	h := New(Config{
		JWTIssuer:     testIssuer,
		JWTSigningKey: testKey,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		AdminAPIKey:   adminKey,
		TrainAsync:    async,
	}, Deps{
		Identities:  ids,
		Devices:     auth.NewMemory(),
		Recognition: rec,
		Attendance:  attendance.NewService(attendance.NewMemory(), time.UTC),
		Jobs:        ts.jobs,
		Events:      ts.events,
	})
	h.Register(ts.router)

	device, _ := auth.Issue("kiosk-1", auth.RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	admin, _ := auth.Issue("admin", auth.RoleAdmin, testIssuer, testKey, time.Minute, time.Hour)
	ts.device, ts.admin = device.AccessToken, admin.AccessToken
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func image64(b byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{b})
}

func (ts *testServer) enrollAndTrain(t *testing.T) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/faces/enroll", ts.device, gin.H{"user_id": 42, "image": image64(100)})
	if w.Code != http.StatusCreated {
		t.Fatalf("enroll: %d %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodPost, "/v1/train", ts.admin, nil); w.Code != http.StatusOK {
		t.Fatalf("train: %d %s", w.Code, w.Body.String())
	}
}

func TestDeviceAndAdminTokens(t *testing.T) {
	ts := newTestServer(t, false)

	if w := ts.do(t, http.MethodPost, "/v1/devices/register", "", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing device_id: expected 400, got %d", w.Code)
	}
	w := ts.do(t, http.MethodPost, "/v1/devices/register", "", gin.H{"device_id": "kiosk-9"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	tok, _ := decode(t, w)["access_token"].(string)
	if claims, err := auth.Parse(tok, testKey, testIssuer); err != nil || claims.Subject != "kiosk-9" {
		t.Errorf("unexpected device token: %v %+v", err, claims)
	}

	if w := ts.do(t, http.MethodPost, "/v1/admin/token", "", gin.H{"api_key": "nope"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong admin key: expected 401, got %d", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/v1/admin/token", "", gin.H{"api_key": adminKey})
	if w.Code != http.StatusCreated {
		t.Fatalf("admin token: %d", w.Code)
	}
	tok, _ = decode(t, w)["access_token"].(string)
	if claims, err := auth.Parse(tok, testKey, testIssuer); err != nil || claims.Role != auth.RoleAdmin {
		t.Errorf("unexpected admin token: %v %+v", err, claims)
	}
}

func TestEnroll(t *testing.T) {
	ts := newTestServer(t, false)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing image", gin.H{"user_id": 42}, http.StatusBadRequest},
		{"bad base64", gin.H{"user_id": 42, "image": "!!!"}, http.StatusBadRequest},
		{"undecodable image", gin.H{"user_id": 42, "image": image64('x')}, http.StatusBadRequest},
		{"half a location", gin.H{"user_id": 42, "image": image64(100), "latitude": 12.9}, http.StatusBadRequest},
		{"unknown identity", gin.H{"user_id": 7, "image": image64(100)}, http.StatusNotFound},
		{"no face", gin.H{"user_id": 42, "image": image64('n')}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, http.MethodPost, "/v1/faces/enroll", ts.device, tt.body); w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	w := ts.do(t, http.MethodPost, "/v1/faces/enroll", ts.device, gin.H{
		"user_id": 42, "image": image64(100), "latitude": 12.9, "longitude": 77.5,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("enroll: %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["samples"] != float64(1) || out["location_saved"] != true {
		t.Errorf("unexpected enroll result %v", out)
	}

	// second sample via multipart
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("user_id", "42")
	part, _ := mw.CreateFormFile("image", "face.jpg")
	_, _ = part.Write([]byte{100})
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/faces/enroll", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ts.device)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("multipart enroll: %d %s", rec.Code, rec.Body.String())
	}
	if out := decode(t, rec); out["samples"] != float64(2) || out["location_saved"] != false {
		t.Errorf("unexpected multipart result %v", out)
	}

	w = ts.do(t, http.MethodGet, "/v1/face-registry", ts.device, nil)
	faces, _ := decode(t, w)["faces"].([]any)
	if len(faces) != 1 {
		t.Fatalf("expected one registry entry, got %v", faces)
	}
	if entry := faces[0].(map[string]any); entry["samples_count"] != float64(2) {
		t.Errorf("unexpected registry entry %v", entry)
	}
}

func TestRecognizeAndTrain(t *testing.T) {
	ts := newTestServer(t, false)

	if w := ts.do(t, http.MethodPost, "/v1/recognize", ts.device, gin.H{"image": image64(100)}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("before training: expected 503, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/v1/train", ts.admin, nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("train without samples: expected 422, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/v1/train", ts.device, nil); w.Code != http.StatusForbidden {
		t.Errorf("train as device: expected 403, got %d", w.Code)
	}

	events, _ := ts.events.Subscribe(context.Background())
	ts.enrollAndTrain(t)
	select {
	case ev := <-events:
		if ev.Type != queue.EventModelTrained || ev.Version == "" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("expected model.trained broadcast")
	}

	w := ts.do(t, http.MethodPost, "/v1/recognize", ts.device, gin.H{"image": image64(100), "latitude": 12.9, "longitude": 77.5})
	if w.Code != http.StatusOK {
		t.Fatalf("recognize: %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["recognized"] != true || out["user_id"] != float64(42) || out["name"] != "Asha Rao" || out["location_ok"] != true {
		t.Errorf("unexpected result %v", out)
	}

	w = ts.do(t, http.MethodPost, "/v1/recognize", ts.device, gin.H{"image": image64('n')})
	if out := decode(t, w); w.Code != http.StatusOK || out["recognized"] != false || out["reason"] != "no_face" {
		t.Errorf("no face: %d %v", w.Code, out)
	}
}

func TestTrainAsync(t *testing.T) {
	ts := newTestServer(t, true)
	w := ts.do(t, http.MethodPost, "/v1/train", ts.admin, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	id, _ := decode(t, w)["job_id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, _ := ts.jobs.Consume(ctx)
	select {
	case msg := <-msgs:
		if msg.ID != id || msg.Type != queue.TypeTrain {
			t.Errorf("unexpected job %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("no job enqueued")
	}
}

func TestRecognizeStream(t *testing.T) {
	ts := newTestServer(t, false)
	ts.enrollAndTrain(t)

	srv := httptest.NewServer(ts.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/recognize/stream?lat=12.9&lon=77.5"
	header := http.Header{"Authorization": []string{"Bearer " + ts.device}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, tc := range []struct {
		frame []byte
		check func(map[string]any) bool
	}{
		{[]byte{100}, func(m map[string]any) bool { return m["recognized"] == true && m["user_id"] == float64(42) }},
		{[]byte{'n'}, func(m map[string]any) bool { return m["recognized"] == false && m["reason"] == "no_face" }},
		{[]byte{'x'}, func(m map[string]any) bool { return m["error"] != nil }},
	} {
		if err := conn.WriteMessage(websocket.BinaryMessage, tc.frame); err != nil {
			t.Fatal(err)
		}
		var reply map[string]any
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatal(err)
		}
		if !tc.check(reply) {
			t.Errorf("frame %q: unexpected reply %v", tc.frame, reply)
		}
	}
}

func TestMarkAttendance(t *testing.T) {
	ts := newTestServer(t, false)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing user", gin.H{"type": "in"}, http.StatusBadRequest},
		{"bad intent", gin.H{"user_id": 42, "type": "sideways"}, http.StatusBadRequest},
		{"unknown identity without name", gin.H{"user_id": 7}, http.StatusNotFound},
		{"unknown identity with name", gin.H{"user_id": 7, "user_name": "Ghost", "type": "in"}, http.StatusNotFound},
		{"out before in", gin.H{"user_id": 42, "type": "out"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, http.MethodPost, "/v1/attendance/mark", ts.device, tt.body); w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	w := ts.do(t, http.MethodPost, "/v1/attendance/mark", ts.device, gin.H{"user_id": 42, "type": "in"})
	out := decode(t, w)
	if w.Code != http.StatusOK || out["marked"] != true || !strings.HasPrefix(out["message"].(string), "Asha Rao marked IN at ") {
		t.Errorf("mark in: %d %v", w.Code, out)
	}
	w = ts.do(t, http.MethodPost, "/v1/attendance/mark", ts.device, gin.H{"user_id": 42, "user_name": "Asha", "type": "in"})
	out = decode(t, w)
	if w.Code != http.StatusOK || out["marked"] != false || !strings.HasPrefix(out["message"].(string), "Already marked IN at ") {
		t.Errorf("repeat in: %d %v", w.Code, out)
	}

	w = ts.do(t, http.MethodGet, "/v1/attendance", ts.device, nil)
	list, _ := decode(t, w)["attendance"].([]any)
	if len(list) != 1 {
		t.Errorf("expected one record, got %v", list)
	}
	if w := ts.do(t, http.MethodGet, "/v1/attendance?date=yesterday", ts.device, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/v1/attendance/stats", ts.device, nil)
	stats, _ := decode(t, w)["stats"].([]any)
	if len(stats) != 1 || stats[0].(map[string]any)["partial"] != float64(1) {
		t.Errorf("unexpected stats %v", stats)
	}
}

func TestCampusAndIdentities(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodGet, "/v1/campus", ts.device, nil)
	if out := decode(t, w); out["campus"] != nil {
		t.Errorf("expected no campus, got %v", out)
	}
	if w := ts.do(t, http.MethodPost, "/v1/campus", ts.admin, gin.H{"name": "North"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing coordinates: expected 400, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/v1/campus", ts.device, gin.H{"latitude": 1, "longitude": 2}); w.Code != http.StatusForbidden {
		t.Errorf("device setting campus: expected 403, got %d", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/v1/campus", ts.admin, gin.H{"latitude": 12.9, "longitude": 77.5})
	if w.Code != http.StatusCreated {
		t.Fatalf("set campus: %d %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/v1/campus", ts.device, nil)
	campus, _ := decode(t, w)["campus"].(map[string]any)
	if campus["name"] != "Main Campus" || campus["radius_meters"] != float64(500) {
		t.Errorf("unexpected campus %v", campus)
	}

	if w := ts.do(t, http.MethodPost, "/v1/identities", ts.admin, gin.H{"first_name": "Ravi", "role": "janitor"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid role: expected 400, got %d", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/v1/identities", ts.admin, gin.H{"first_name": "Ravi", "last_name": "K", "role": "Staff"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create identity: %d %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/v1/identities", ts.device, nil)
	if ids, _ := decode(t, w)["identities"].([]any); len(ids) != 2 {
		t.Errorf("expected two identities, got %v", ids)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{invalid("x"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", vision.ErrDecode), http.StatusBadRequest},
		{fmt.Errorf("capture location: %w", geo.ErrInvalidPoint), http.StatusBadRequest},
		{recognition.ErrIdentityNotFound, http.StatusNotFound},
		{facemodel.ErrNotTrained, http.StatusServiceUnavailable},
		{facemodel.ErrTrainingInProgress, http.StatusConflict},
		{attendance.ErrMustMarkInFirst, http.StatusConflict},
		{facemodel.ErrNoTrainingData, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func (ts *testServer) postForm(t *testing.T, path string, fields map[string]string, img byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	part, _ := mw.CreateFormFile("image", "face.jpg")
	_, _ = part.Write([]byte{img})
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ts.device)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestParseLocation(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name     string
		lat, lon *float64
		accuracy *float64
		ok       bool
	}{
		{"absent", nil, nil, nil, true},
		{"valid", f(12.9), f(77.5), f(8), true},
		{"only latitude", f(12.9), nil, nil, false},
		{"NaN latitude", f(math.NaN()), f(77.5), nil, false},
		{"NaN longitude", f(12.9), f(math.NaN()), nil, false},
		{"infinite latitude", f(math.Inf(1)), f(77.5), nil, false},
		{"out of range", f(91), f(77.5), nil, false},
		{"NaN accuracy", f(12.9), f(77.5), f(math.NaN()), false},
		{"negative accuracy", f(12.9), f(77.5), f(-1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLocation(tt.lat, tt.lon, tt.accuracy)
			if tt.ok && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, errInvalidInput) {
				t.Errorf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestNonFiniteCoordinatesRejected(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.postForm(t, "/v1/faces/enroll", map[string]string{"user_id": "42", "latitude": "NaN", "longitude": "77.5"}, 100)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("enroll with NaN latitude: expected 400, got %d: %s", w.Code, w.Body.String())
	}
	ts.enrollAndTrain(t)

	w = ts.postForm(t, "/v1/recognize", map[string]string{"latitude": "12.9", "longitude": "+Inf"}, 100)
	if w.Code != http.StatusBadRequest {
		t.Errorf("recognize with infinite longitude: expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodGet, "/v1/recognize/stream?lat=NaN&lon=77.5", ts.device, nil); w.Code != http.StatusBadRequest {
		t.Errorf("stream with NaN lat: expected 400, got %d", w.Code)
	}
	if loc, _ := ts.ids.RegisteredLocation(context.Background(), 42); loc != nil {
		t.Fatalf("non-finite input must never become the registered location, got %+v", loc)
	}

	w = ts.postForm(t, "/v1/recognize", map[string]string{"latitude": "12.9", "longitude": "77.5"}, 100)
	out := decode(t, w)
	if w.Code != http.StatusOK || out["recognized"] != true || out["location_ok"] != true {
		t.Errorf("genuine capture after rejected ones: %d %v", w.Code, out)
	}
}

func TestIdentityRecord(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodGet, "/v1/identities/42", ts.device, nil)
	out := decode(t, w)
	if w.Code != http.StatusOK || out["name"] != "Asha Rao" || out["face_samples"] != float64(0) || out["location"] != nil {
		t.Fatalf("record before enrollment: %d %v", w.Code, out)
	}

	enroll := gin.H{"user_id": 42, "image": image64(100), "latitude": 12.9, "longitude": 77.5}
	if w := ts.do(t, http.MethodPost, "/v1/faces/enroll", ts.device, enroll); w.Code != http.StatusCreated {
		t.Fatalf("enroll: %d %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/v1/identities/42", ts.device, nil)
	out = decode(t, w)
	loc, _ := out["location"].(map[string]any)
	if out["face_samples"] != float64(1) || out["face_registered_at"] == nil || loc["latitude"] != 12.9 {
		t.Errorf("record after enrollment: %v", out)
	}

	if w := ts.do(t, http.MethodGet, "/v1/identities/7", ts.device, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown identity: expected 404, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/v1/identities/abc", ts.device, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", w.Code)
	}
}
