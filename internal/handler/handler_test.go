package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/installment-service/internal/config"
	"github.com/Dan9191/installment-service/internal/contract"
	"github.com/Dan9191/installment-service/internal/events"
	"github.com/Dan9191/installment-service/internal/models"
	"github.com/Dan9191/installment-service/internal/report"
	"github.com/Dan9191/installment-service/internal/repository"
	"github.com/Dan9191/installment-service/internal/service"
	"github.com/Dan9191/installment-service/internal/storage"
	"github.com/Dan9191/installment-service/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var testNow = time.Date(2025, time.May, 10, 12, 0, 0, 0, time.UTC)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testServer struct {
	router http.Handler
	token  string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := repository.Open(ctx, repository.DriverSQLite, filepath.Join(dir, "api.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cipher, err := utils.NewFieldCipher(bytes.Repeat([]byte{3}, 32), "handler-secret")
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}
	repo := repository.NewRepository(db, repository.DriverSQLite, cipher)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.Config{JWTSecret: "handler-jwt", JWTTTL: time.Hour, Timezone: "UTC"}
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	svc := service.NewService(repo, logger, cfg, bus,
		service.WithClock(func() time.Time { return testNow }),
		service.WithFingerprinter(cipher),
	)
	uploads, err := storage.NewLocal(filepath.Join(dir, "uploads"), "/uploads", 1024)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	h := NewHandler(svc, contract.NewGenerator(contract.Company{Name: "Mebel Market", City: "Tashkent"}, time.UTC),
		uploads, bus, logger, "http://localhost:3000")
	h.now = func() time.Time { return testNow }

	ts := &testServer{router: h.Router()}
	rr := ts.do(t, "POST", "/api/auth/register", map[string]string{
		"username": "admin", "email": "admin@example.com", "password": "correct-horse",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to register: %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, "POST", "/api/auth/login", map[string]string{
		"email": "admin@example.com", "password": "correct-horse",
	}, nil)
	var login struct {
		Token string `json:"token"`
	}
	decodeBody(t, rr, &login)
	if login.Token == "" {
		t.Fatalf("Expected a token, got %s", rr.Body.String())
	}
	ts.token = login.Token
	return ts
}

// do sends body as JSON with the test token unless headers sets Authorization.
func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rr.Body.String(), err)
	}
}

func customerBody(name, start string) map[string]any {
	return map[string]any{
		"fullName":       name,
		"phone":          "+998901112233",
		"passportSeries": "AA1234567",
		"region":         "Tashkent",
		"product": map[string]any{
			"name":              "Wardrobe",
			"originalPrice":     1000000,
			"profitPercentage":  20,
			"installmentMonths": 10,
		},
		"initialPayment": 200000,
		"startDate":      start,
	}
}

type customerResponse struct {
	Success  bool            `json:"success"`
	Customer models.Customer `json:"customer"`
}

func (ts *testServer) createCustomer(t *testing.T, name, start string) models.Customer {
	t.Helper()
	rr := ts.do(t, "POST", "/api/customers", customerBody(name, start), nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Failed to create customer: %d %s", rr.Code, rr.Body.String())
	}
	var resp customerResponse
	decodeBody(t, rr, &resp)
	return resp.Customer
}

func TestAPI_Auth(t *testing.T) {
	ts := setupTestServer(t)
	token := ts.token
	ts.token = ""

	rr := ts.do(t, "POST", "/api/auth/register", map[string]string{
		"username": "intruder", "email": "x@example.com", "password": "correct-horse",
	}, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected anonymous registration to be closed, got %d", rr.Code)
	}

	rr = ts.do(t, "POST", "/api/auth/login", map[string]string{"email": "admin@example.com", "password": "nope-nope"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong password, got %d", rr.Code)
	}

	rr = ts.do(t, "GET", "/api/customers", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rr.Code)
	}
	var errResp struct {
		Success   bool   `json:"success"`
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	}
	decodeBody(t, rr, &errResp)
	if errResp.Success || errResp.Code != "UNAUTHORIZED" || errResp.RequestID == "" {
		t.Errorf("Unexpected error envelope %s", rr.Body.String())
	}

	ts.token = token
	rr = ts.do(t, "POST", "/api/auth/register", map[string]string{
		"username": "cashier", "email": "cashier@example.com", "password": "correct-horse",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Errorf("Expected operator to add another, got %d %s", rr.Code, rr.Body.String())
	}
	rr = ts.do(t, "POST", "/api/auth/register", map[string]string{
		"username": "cashier", "email": "cashier@example.com", "password": "correct-horse",
	}, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected duplicate email to conflict, got %d", rr.Code)
	}
}

func TestAPI_Calculator(t *testing.T) {
	ts := setupTestServer(t)
	rr := ts.do(t, "POST", "/api/calculator", map[string]any{
		"originalPrice":     1000000,
		"profitPercentage":  20,
		"initialPayment":    200000,
		"installmentMonths": 12,
		"startDate":         "2025-01-31",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Plan struct {
			SellingPrice   decimal.Decimal `json:"sellingPrice"`
			MonthlyPayment decimal.Decimal `json:"monthlyPayment"`
		} `json:"plan"`
		Schedule []json.RawMessage `json:"schedule"`
	}
	decodeBody(t, rr, &resp)
	if !resp.Plan.SellingPrice.Equal(decimal.NewFromInt(1200000)) {
		t.Errorf("Expected selling price 1200000, got %s", resp.Plan.SellingPrice)
	}
	if !resp.Plan.MonthlyPayment.Equal(decimal.RequireFromString("83333.33")) {
		t.Errorf("Expected monthly 83333.33, got %s", resp.Plan.MonthlyPayment)
	}
	if len(resp.Schedule) != 12 {
		t.Errorf("Expected 12 installments, got %d", len(resp.Schedule))
	}

	rr = ts.do(t, "POST", "/api/calculator", map[string]any{"originalPrice": 0, "installmentMonths": 12}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero price, got %d", rr.Code)
	}
}

func TestAPI_CustomerLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.createCustomer(t, "Rustamov Alisher", "2025-04-10")
	if c.ID == 0 || c.PassportSeries != "AA1234567" {
		t.Fatalf("Unexpected customer %+v", c)
	}
	if !c.CreditInfo.RemainingAmount.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("Expected remaining 1000000, got %s", c.CreditInfo.RemainingAmount)
	}
	path := "/api/customers/" + itoa(c.ID)

	rr := ts.do(t, "GET", path, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}

	rr = ts.do(t, "GET", "/api/customers?q=Rustamov&limit=10", nil, nil)
	var list struct {
		Customers []models.Customer `json:"customers"`
		Total     int               `json:"total"`
	}
	decodeBody(t, rr, &list)
	if list.Total != 1 || len(list.Customers) != 1 {
		t.Errorf("Expected 1 match, got %d", list.Total)
	}
	if rr := ts.do(t, "GET", "/api/customers?limit=abc", nil, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", rr.Code)
	}

	update := customerBody("Rustamov Alisher", "2025-04-10")
	update["phone"] = "+998907776655"
	update["version"] = c.Version
	rr = ts.do(t, "PUT", path, update, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d %s", rr.Code, rr.Body.String())
	}
	var updated customerResponse
	decodeBody(t, rr, &updated)
	if updated.Customer.Phone != "+998907776655" {
		t.Errorf("Expected phone to change, got %s", updated.Customer.Phone)
	}

	rr = ts.do(t, "PUT", path, update, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected stale version to conflict, got %d", rr.Code)
	}

	rr = ts.do(t, "GET", path+"/payments", nil, nil)
	var payments struct {
		Payments []models.Payment `json:"payments"`
	}
	decodeBody(t, rr, &payments)
	if payments.Payments == nil || len(payments.Payments) != 0 {
		t.Errorf("Expected an empty payment list, got %s", rr.Body.String())
	}

	if rr := ts.do(t, "DELETE", path, nil, nil); rr.Code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", rr.Code)
	}
	if rr := ts.do(t, "GET", path, nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rr.Code)
	}
	if rr := ts.do(t, "POST", "/api/customers", map[string]any{"fullName": ""}, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid customer, got %d", rr.Code)
	}
}

func TestAPI_ApplyPayment(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.createCustomer(t, "Yusupova Dilnoza", "2025-04-10")
	path := "/api/customers/" + itoa(c.ID) + "/payment"
	body := map[string]any{"amount": 100000, "method": "cash"}
	key := map[string]string{"Idempotency-Key": "receipt-0001"}

	type paymentResponse struct {
		Customer models.Customer       `json:"customer"`
		Payment  models.PaymentOutcome `json:"payment"`
		Replayed bool                  `json:"replayed"`
	}

	rr := ts.do(t, "POST", path, body, key)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var first paymentResponse
	decodeBody(t, rr, &first)
	if !first.Payment.RemainingAmount.Equal(decimal.NewFromInt(900000)) || first.Replayed {
		t.Errorf("Unexpected first payment %+v", first.Payment)
	}
	if rr.Header().Get("Idempotency-Key") != "receipt-0001" {
		t.Errorf("Expected idempotency key to be echoed")
	}

	rr = ts.do(t, "POST", path, body, key)
	var second paymentResponse
	decodeBody(t, rr, &second)
	if rr.Code != http.StatusOK || !second.Replayed {
		t.Fatalf("Expected replay, got %d %s", rr.Code, rr.Body.String())
	}
	if !second.Customer.CreditInfo.RemainingAmount.Equal(decimal.NewFromInt(900000)) {
		t.Errorf("Expected the payment to be applied once, remaining %s", second.Customer.CreditInfo.RemainingAmount)
	}

	tests := []struct {
		name    string
		body    map[string]any
		headers map[string]string
		want    int
	}{
		{"key reused for another amount", map[string]any{"amount": 50000, "method": "cash"}, key, http.StatusConflict},
		{"header and body disagree", map[string]any{"amount": 1000, "method": "cash", "idempotencyKey": "other"}, key, http.StatusBadRequest},
		{"unknown method", map[string]any{"amount": 1000, "method": "barter"}, nil, http.StatusBadRequest},
		{"negative amount", map[string]any{"amount": -5, "method": "card"}, nil, http.StatusBadRequest},
		{"overpayment", map[string]any{"amount": 900001, "method": "card"}, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, "POST", path, tt.body, tt.headers)
			if rr.Code != tt.want {
				t.Errorf("Expected %d, got %d %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}

	rr = ts.do(t, "POST", path, map[string]any{"amount": 900000, "method": "card"}, nil)
	var last paymentResponse
	decodeBody(t, rr, &last)
	if last.Customer.Status != models.StatusClosed {
		t.Errorf("Expected credit to close, got %s", last.Customer.Status)
	}
	rr = ts.do(t, "POST", path, map[string]any{"amount": 1, "method": "card"}, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected 409 on a closed credit, got %d", rr.Code)
	}

	if rr := ts.do(t, "POST", "/api/customers/9999/payment", body, nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown customer, got %d", rr.Code)
	}
}

func TestAPI_Debtors(t *testing.T) {
	ts := setupTestServer(t)
	today := ts.createCustomer(t, "Due Today", "2025-04-10")
	late := ts.createCustomer(t, "Five Days Late", "2025-04-05")
	ts.createCustomer(t, "Not Yet", "2025-05-01")

	type listResponse struct {
		Customers []models.DebtorEntry `json:"customers"`
		Count     int                  `json:"count"`
	}
	tests := []struct {
		path string
		want []int64
	}{
		{"/api/customers/due-today", []int64{today.ID}},
		{"/api/customers/due-soon", nil},
		{"/api/customers/overdue-1-day", nil},
		{"/api/customers/overdue-3-days", []int64{late.ID}},
		{"/api/customers/debtors", []int64{late.ID, today.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := ts.do(t, "GET", tt.path, nil, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", rr.Code)
			}
			var resp listResponse
			decodeBody(t, rr, &resp)
			if resp.Count != len(tt.want) || len(resp.Customers) != len(tt.want) {
				t.Fatalf("Expected %d debtors, got %d", len(tt.want), resp.Count)
			}
			for i, id := range tt.want {
				if resp.Customers[i].ID != id {
					t.Errorf("Position %d: expected %d, got %d", i, id, resp.Customers[i].ID)
				}
			}
		})
	}

	if rr := ts.do(t, "GET", "/api/customers/debtors?bucket=someday", nil, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown bucket, got %d", rr.Code)
	}

	rr := ts.do(t, "GET", "/api/customers/debtors/export?bucket=overdue-3-days", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 on export, got %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != report.ContentType {
		t.Errorf("Unexpected content type %s", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "debtors-overdue-3-days-2025-05-10.xlsx") {
		t.Errorf("Unexpected disposition %s", rr.Header().Get("Content-Disposition"))
	}

	rr = ts.do(t, "PUT", "/api/customers/"+itoa(late.ID)+"/call-note", map[string]string{"callNote": "will pay Monday"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 on call note, got %d %s", rr.Code, rr.Body.String())
	}
	var noted customerResponse
	decodeBody(t, rr, &noted)
	if noted.Customer.CallNote != "will pay Monday" || noted.Customer.LastCallDate == nil {
		t.Errorf("Expected call note to be stored, got %+v", noted.Customer)
	}

	rr = ts.do(t, "GET", "/api/dashboard/stats", nil, nil)
	var stats struct {
		Stats models.PortfolioStats `json:"stats"`
	}
	decodeBody(t, rr, &stats)
	if stats.Stats.Customers != 3 || stats.Stats.ActiveCredits != 3 {
		t.Errorf("Unexpected stats %+v", stats.Stats)
	}
}

func TestAPI_Contracts(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.createCustomer(t, "Contract Holder", "2025-04-10")

	rr := ts.do(t, "POST", "/api/contracts/generate-customer/"+itoa(c.ID), nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != contract.ContentType {
		t.Errorf("Unexpected content type %s", rr.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")) {
		t.Error("Expected a zip archive")
	}

	rr = ts.do(t, "POST", "/api/contracts/generate-guarantor/"+itoa(c.ID), nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without guarantor, got %d", rr.Code)
	}
	if rr := ts.do(t, "POST", "/api/contracts/generate-customer/777", nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rr.Code)
	}
}

func multipartImage(t *testing.T, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write(content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestAPI_Upload(t *testing.T) {
	ts := setupTestServer(t)

	body, contentType := multipartImage(t, append(pngHeader, make([]byte, 200)...))
	req := httptest.NewRequest("POST", "/api/upload?type=profile", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		File struct {
			URL string `json:"url"`
		} `json:"file"`
	}
	decodeBody(t, rr, &resp)
	if !strings.HasPrefix(resp.File.URL, "/uploads/profile/") {
		t.Fatalf("Unexpected url %s", resp.File.URL)
	}

	rr = httptest.NewRecorder()
	ts.router.ServeHTTP(rr, httptest.NewRequest("GET", resp.File.URL, nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected uploaded file to be served, got %d", rr.Code)
	}

	body, contentType = multipartImage(t, append(pngHeader, make([]byte, 4096)...))
	req = httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rr = httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rr.Code)
	}

	body, contentType = multipartImage(t, []byte("plain text, not an image"))
	req = httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rr = httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-image, got %d", rr.Code)
	}
}

func TestAPI_Events(t *testing.T) {
	ts := setupTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events?access_token="+ts.token, nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("Unexpected stream response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	lines := bufio.NewReader(resp.Body)
	if line, _ := lines.ReadString('\n'); line != ": connected\n" {
		t.Fatalf("Expected connected comment, got %q", line)
	}

	ts.createCustomer(t, "Streamed", "2025-04-10")

	for {
		line, err := lines.ReadString('\n')
		if err != nil {
			t.Fatalf("Stream ended before the event: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			if line != "event: "+events.CustomerCreated+"\n" {
				t.Errorf("Unexpected event line %q", line)
			}
			break
		}
	}
}

func TestAPI_RoutingAndCORS(t *testing.T) {
	ts := setupTestServer(t)

	rr := ts.do(t, "GET", "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected health 200, got %d", rr.Code)
	}

	rr = ts.do(t, "GET", "/api/unknown", nil, nil)
	if rr.Code != http.StatusNotFound || !strings.Contains(rr.Body.String(), `"success":false`) {
		t.Errorf("Expected JSON 404, got %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, "OPTIONS", "/api/customers", nil, map[string]string{"Origin": "http://localhost:3000"})
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("Expected preflight to pass, got %d %v", rr.Code, rr.Header())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
