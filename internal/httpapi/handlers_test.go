package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"testing"

	"careloop.org/internal/access"
	"careloop.org/internal/child"
	"careloop.org/internal/events"
	"careloop.org/internal/mission"
	"careloop.org/internal/note"
	"careloop.org/internal/storage"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	ledger, err := access.NewLedger(access.NewInMemory())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	blobs, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("blobs: %v", err)
	}
	notes, err := note.NewService(note.NewInMemory(), ledger, note.WithAssetStorage(blobs))
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	mstore := mission.NewInMemory()
	catalog, err := mission.NewCatalog(mstore)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	stream := events.NewStream()
	engine, err := mission.NewEngine(mstore, catalog, ledger, note.SystemLog{Service: notes}, blobs, stream)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	children, err := child.NewService(child.NewInMemory(), ledger, notes, engine)
	if err != nil {
		t.Fatalf("children: %v", err)
	}

	api := New(Config{
		Version:    "test",
		AuthSecret: "test-secret",
		Children:   children,
		Ledger:     ledger,
		Notes:      notes,
		Missions:   engine,
		Catalog:    catalog,
		Stream:     stream,
	})
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(userID, role string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user_id": userID,
		"role":    role,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token: %v", err)
	}
	return payload.Token
}

func (c *apiClient) authed(userID, role string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.obtainToken(userID, role)}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

func TestHealthzPublic(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/healthz", nil, nil)
	requireStatus(t, resp, http.StatusOK)
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["service"] != "careloop-api" {
		t.Fatalf("unexpected service name: %v", body["service"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/v1/children", map[string]any{"name": "Alex", "birth_date": "2018-04-01"}, nil)
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestChildLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	parentHdr := c.authed("parent-1", "PARENT")

	resp := c.post("/v1/children", map[string]any{"name": "Alex", "birth_date": "2018-04-01"}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)
	if created.ID == "" {
		t.Fatal("expected child id")
	}

	// Creator can read; a stranger sees 404.
	resp = c.get("/v1/children/"+created.ID, nil, parentHdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	strangerHdr := c.authed("stranger-1", "PARENT")
	resp = c.get("/v1/children/"+created.ID, nil, strangerHdr)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestTherapistRequiresGrantToAssign(t *testing.T) {
	c := newTestAPI(t)
	parentHdr := c.authed("parent-1", "PARENT")
	therapistHdr := c.authed("ther-1", "THERAPIST")

	var c1 struct {
		ID string `json:"id"`
	}
	resp := c.post("/v1/children", map[string]any{"name": "Alex", "birth_date": "2018-04-01"}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &c1)

	var tpl struct {
		ID string `json:"id"`
	}
	resp = c.post("/v1/templates", map[string]any{
		"title":            "Mirror faces",
		"description":      "Imitate emotions in a mirror",
		"category":         "EMOTION_RECOGNITION",
		"difficulty":       "BEGINNER",
		"instructions":     "Imitate five emotions in front of a mirror.",
		"duration_minutes": 15,
	}, therapistHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &tpl)

	// No grant yet: the child is invisible to the therapist.
	resp = c.post("/v1/children/"+c1.ID+"/missions", map[string]any{"template_id": tpl.ID}, therapistHdr)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.post("/v1/children/"+c1.ID+"/grants", map[string]any{
		"user_id":      "ther-1",
		"role":         "THERAPIST",
		"capabilities": []string{"VIEW_REPORT", "WRITE_NOTE"},
	}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.post("/v1/children/"+c1.ID+"/missions", map[string]any{"template_id": tpl.ID}, therapistHdr)
	requireStatus(t, resp, http.StatusCreated)
	var m struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &m)
	if m.Status != "ASSIGNED" {
		t.Fatalf("expected ASSIGNED, got %s", m.Status)
	}

	// Parent drives the mission; the therapist verifies.
	resp = c.post("/v1/missions/"+m.ID+"/start", nil, parentHdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/missions/"+m.ID+"/complete", map[string]any{"parent_note": "went well"}, parentHdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/missions/"+m.ID+"/verify", map[string]any{"feedback": "good job"}, therapistHdr)
	requireStatus(t, resp, http.StatusOK)
	var verified struct {
		Status  string `json:"status"`
		Overdue bool   `json:"overdue"`
	}
	decodeBody(t, resp, &verified)
	if verified.Status != "VERIFIED" {
		t.Fatalf("expected VERIFIED, got %s", verified.Status)
	}

	// Verify out of order is a conflict.
	resp = c.post("/v1/missions/"+m.ID+"/start", nil, parentHdr)
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestNoteGatingOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	parentHdr := c.authed("parent-1", "PARENT")
	viewerHdr := c.authed("granny-1", "PARENT")

	var c1 struct {
		ID string `json:"id"`
	}
	resp := c.post("/v1/children", map[string]any{"name": "Alex", "birth_date": "2018-04-01"}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &c1)

	// View-only relative.
	resp = c.post("/v1/children/"+c1.ID+"/grants", map[string]any{
		"user_id":      "granny-1",
		"role":         "PARENT",
		"capabilities": []string{"VIEW_REPORT"},
	}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.post("/v1/children/"+c1.ID+"/notes", map[string]any{
		"kind":    "PARENT_NOTE",
		"title":   "Morning",
		"content": "Slept well.",
	}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	var n struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &n)

	// Granny can read but not write.
	resp = c.get("/v1/notes/"+n.ID, nil, viewerHdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/children/"+c1.ID+"/notes", map[string]any{
		"kind":    "PARENT_NOTE",
		"content": "not allowed",
	}, viewerHdr)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// SYSTEM notes cannot be authored over the API.
	resp = c.post("/v1/children/"+c1.ID+"/notes", map[string]any{
		"kind":    "SYSTEM",
		"content": "forged receipt",
	}, parentHdr)
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Commenting needs WRITE_NOTE; a view-only caller gets the not-found shape.
	resp = c.post("/v1/notes/"+n.ID+"/comments", map[string]any{"content": "thanks"}, viewerHdr)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/v1/children/"+c1.ID+"/grants/granny-1", map[string]any{
		"capabilities": []string{"VIEW_REPORT", "WRITE_NOTE"},
	}, parentHdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// One-level comment nesting.
	resp = c.post("/v1/notes/"+n.ID+"/comments", map[string]any{"content": "thanks"}, viewerHdr)
	requireStatus(t, resp, http.StatusCreated)
	var top struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &top)

	resp = c.post("/v1/notes/"+n.ID+"/comments", map[string]any{
		"parent_id": top.ID,
		"content":   "reply",
	}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	var reply struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &reply)

	resp = c.post("/v1/notes/"+n.ID+"/comments", map[string]any{
		"parent_id": reply.ID,
		"content":   "reply to reply",
	}, viewerHdr)
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestPhotoUploadOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	parentHdr := c.authed("parent-1", "PARENT")
	therapistHdr := c.authed("ther-1", "THERAPIST")

	var c1 struct {
		ID string `json:"id"`
	}
	resp := c.post("/v1/children", map[string]any{"name": "Alex", "birth_date": "2018-04-01"}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &c1)

	resp = c.post("/v1/children/"+c1.ID+"/grants", map[string]any{
		"user_id":      "ther-1",
		"role":         "THERAPIST",
		"capabilities": []string{"VIEW_REPORT", "WRITE_NOTE"},
	}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	var tpl struct {
		ID string `json:"id"`
	}
	resp = c.post("/v1/templates", map[string]any{
		"title":            "Mirror faces",
		"description":      "Imitate emotions in a mirror",
		"category":         "EMOTION_RECOGNITION",
		"difficulty":       "BEGINNER",
		"instructions":     "Imitate five emotions in front of a mirror.",
		"duration_minutes": 15,
	}, therapistHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &tpl)

	var m struct {
		ID string `json:"id"`
	}
	resp = c.post("/v1/children/"+c1.ID+"/missions", map[string]any{"template_id": tpl.ID}, therapistHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &m)

	resp = c.post("/v1/missions/"+m.ID+"/start", nil, parentHdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="photo"; filename="proof.jpg"`},
		"Content-Type":        {"image/jpeg"},
	})
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte("jpegbytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/missions/"+m.ID+"/photos", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range parentHdr {
		req.Header.Set(k, v)
	}
	resp, err = c.client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	requireStatus(t, resp, http.StatusCreated)
	var photo struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	decodeBody(t, resp, &photo)
	if photo.Key == "" {
		t.Fatal("expected storage key in response")
	}

	resp = c.do(http.MethodDelete, "/v1/missions/"+m.ID+"/photos/"+photo.ID, nil, parentHdr)
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestNoteAssetOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	parentHdr := c.authed("parent-1", "PARENT")

	var c1 struct {
		ID string `json:"id"`
	}
	resp := c.post("/v1/children", map[string]any{"name": "Mia", "birth_date": "2019-02-11"}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &c1)

	var n struct {
		ID string `json:"id"`
	}
	resp = c.post("/v1/children/"+c1.ID+"/notes", map[string]any{
		"kind":    "PARENT_NOTE",
		"content": "drew a picture of the whole family today",
	}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &n)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="asset"; filename="family.png"`},
		"Content-Type":        {"image/png"},
	})
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte("pngbytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/notes/"+n.ID+"/assets", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range parentHdr {
		req.Header.Set(k, v)
	}
	resp, err = c.client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	requireStatus(t, resp, http.StatusCreated)
	var asset struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	decodeBody(t, resp, &asset)
	if asset.Key == "" {
		t.Fatal("expected storage key in response")
	}

	resp = c.get("/v1/notes/"+n.ID+"/assets", nil, parentHdr)
	requireStatus(t, resp, http.StatusOK)
	var listing struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Items) != 1 || listing.Items[0].ID != asset.ID {
		t.Fatalf("expected the uploaded asset in the listing, got %+v", listing.Items)
	}

	resp = c.do(http.MethodDelete, "/v1/notes/"+n.ID+"/assets/"+asset.ID, nil, parentHdr)
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestGrantLedgerVisibleToPrimaryOnly(t *testing.T) {
	c := newTestAPI(t)
	parentHdr := c.authed("parent-1", "PARENT")
	otherHdr := c.authed("parent-2", "PARENT")

	var c1 struct {
		ID string `json:"id"`
	}
	resp := c.post("/v1/children", map[string]any{"name": "Alex", "birth_date": "2018-04-01"}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &c1)

	resp = c.get("/v1/children/"+c1.ID+"/grants", nil, parentHdr)
	requireStatus(t, resp, http.StatusOK)
	var listing struct {
		Items []json.RawMessage `json:"items"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Items) != 1 {
		t.Fatalf("expected the bootstrap grant, got %d", len(listing.Items))
	}

	resp = c.get("/v1/children/"+c1.ID+"/grants", nil, otherHdr)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSecondPrimaryConflictOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	parentHdr := c.authed("parent-1", "PARENT")

	var c1 struct {
		ID string `json:"id"`
	}
	resp := c.post("/v1/children", map[string]any{"name": "Alex", "birth_date": "2018-04-01"}, parentHdr)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &c1)

	resp = c.post("/v1/children/"+c1.ID+"/grants", map[string]any{
		"user_id":      "parent-2",
		"role":         "PARENT",
		"capabilities": []string{"VIEW_REPORT"},
		"is_primary":   true,
	}, parentHdr)
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}
