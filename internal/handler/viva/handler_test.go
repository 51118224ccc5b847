package viva

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/viva/backend/internal/service/questions"
	vivaservice "github.com/zhouzirui/viva/backend/internal/service/viva"
)

func newTestRouter(bank *questions.Bank) (http.Handler, *vivaservice.Store) {
	store := vivaservice.NewStore()
	h := New(store, bank, vivaservice.Collaborators{}, Options{})

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	r.Route("/api", h.RegisterAPIRoutes)
	return r, store
}

func TestRootAndHealth(t *testing.T) {
	router, store := newTestRouter(questions.NewBank(nil))
	store.Register(vivaservice.NewSession("live", "", 0, nil), nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("root status %d", rr.Code)
	}
	var root rootResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &root); err != nil {
		t.Fatalf("decode root: %v", err)
	}
	if root.Message != "Viva WebSocket Server" || root.WebsocketEndpoint != "/ws" {
		t.Fatalf("unexpected root body %+v", root)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status %d", rr.Code)
	}
	var health healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.ActiveSessions != 1 {
		t.Fatalf("unexpected health body %+v", health)
	}
}

func TestUploadQuestionsMultipart(t *testing.T) {
	bank := questions.NewBank(nil)
	router, _ := newTestRouter(bank)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "questions.txt")
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("What is Go?\n\n  Why channels?  \n")); err != nil {
		t.Fatalf("write part err: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload_questions/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if resp.Status != "ok" || resp.QuestionsCount != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := bank.Questions(); !reflect.DeepEqual(got, []string{"What is Go?", "Why channels?"}) {
		t.Fatalf("bank = %q", got)
	}
}

func TestUploadQuestionsRawBodyAndList(t *testing.T) {
	bank := questions.NewBank(nil)
	router, _ := newTestRouter(bank)

	req := httptest.NewRequest(http.MethodPost, "/api/questions", strings.NewReader("A?\nB?\nC?"))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/questions", nil))
	var list questionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 3 || !reflect.DeepEqual(list.Questions, []string{"A?", "B?", "C?"}) {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestUploadQuestionsRejectsEmpty(t *testing.T) {
	bank := questions.NewBank([]string{"keep"})
	router, _ := newTestRouter(bank)

	req := httptest.NewRequest(http.MethodPost, "/upload_questions/", strings.NewReader("\n   \n"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := bank.Questions(); !reflect.DeepEqual(got, []string{"keep"}) {
		t.Fatalf("bank changed to %q", got)
	}
}

func TestUploadQuestionsMissingFileField(t *testing.T) {
	router, _ := newTestRouter(questions.NewBank(nil))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("other", "value")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload_questions/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
