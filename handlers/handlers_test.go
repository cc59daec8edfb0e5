package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
	"flowmarket-backend/ipfs"
	"flowmarket-backend/services"
	marketstore "flowmarket-backend/storage/marketplace"
)

const (
	adminWallet  = "0xadmin0000000000000000000000000000000001"
	workerWallet = "0xworker000000000000000000000000000000002"
)

func newTestServer(t *testing.T) (*httptest.Server, *services.Services) {
	t.Helper()

	store := marketstore.NewMemoryStore()
	svc := services.New(store, nil, ipfs.NewClient("", "", 0))

	ctx := context.Background()
	if _, err := store.CreateUser(ctx, core.User{WalletAddress: adminWallet, Name: "Admin", IsAdmin: true}); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if _, err := store.CreateUser(ctx, core.User{WalletAddress: workerWallet, Name: "Worker"}); err != nil {
		t.Fatalf("create worker: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", NewHealthHandler().HandleHealth)
	taskHandler := NewTaskHandler(svc)
	mux.HandleFunc("/api/tasks", taskHandler.HandleCollection)
	mux.HandleFunc("/api/tasks/", taskHandler.HandleItem)
	subtaskHandler := NewSubtaskHandler(svc)
	mux.HandleFunc("/api/subtasks", subtaskHandler.HandleCollection)
	mux.HandleFunc("/api/subtasks/", subtaskHandler.HandleItem)
	disputeHandler := NewDisputeHandler(svc)
	mux.HandleFunc("/api/disputes", disputeHandler.HandleCollection)
	mux.HandleFunc("/api/disputes/", disputeHandler.HandleItem)
	userHandler := NewUserHandler(svc)
	mux.HandleFunc("/api/users", userHandler.HandleCollection)
	mux.HandleFunc("/api/users/wallet/", userHandler.HandleByWallet)
	mux.HandleFunc("/api/users/", userHandler.HandleItem)
	mux.HandleFunc("/api/qrcode", NewQRCodeHandler(svc.QRCode).HandleGenerateQRCode)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func doJSON(t *testing.T, method, url string, body interface{}) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	code, env := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("health returned %d, success=%v", code, env.Success)
	}
}

func TestUserRegistrationAndLookup(t *testing.T) {
	srv, _ := newTestServer(t)

	code, _ := doJSON(t, http.MethodPost, srv.URL+"/api/users", map[string]interface{}{
		"wallet_address": "0xNewUser",
		"name":           "newcomer",
		"skills":         []string{"statistics"},
	})
	if code != http.StatusCreated {
		t.Fatalf("register returned %d", code)
	}

	code, env := doJSON(t, http.MethodGet, srv.URL+"/api/users/wallet/0xnewuser", nil)
	if code != http.StatusOK {
		t.Fatalf("lookup returned %d", code)
	}
	var profile struct {
		Name           string `json:"name"`
		ReputationTier string `json:"reputation_tier"`
	}
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Name != "newcomer" {
		t.Errorf("name = %q", profile.Name)
	}
	if profile.ReputationTier == "" {
		t.Error("expected a reputation tier")
	}
}

func TestUnknownWalletRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	code, _ := doJSON(t, http.MethodPost, srv.URL+"/api/tasks", map[string]interface{}{
		"wallet_address": "0xghost",
		"title":          "Task",
		"total_budget":   "100",
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	// Create
	code, env := doJSON(t, http.MethodPost, srv.URL+"/api/tasks", map[string]interface{}{
		"wallet_address": adminWallet,
		"title":          "Survey meta-analysis",
		"total_budget":   "100",
	})
	if code != http.StatusCreated {
		t.Fatalf("create returned %d", code)
	}
	var task struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Status != "draft" {
		t.Fatalf("new task status = %q", task.Status)
	}

	// Fund
	code, env = doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+task.ID+"/fund", map[string]interface{}{
		"wallet_address": adminWallet,
		"tx_hash":        "0xfeed",
	})
	if code != http.StatusOK {
		t.Fatalf("fund returned %d", code)
	}
	if err := json.Unmarshal(env.Data, &task); err != nil {
		t.Fatalf("decode funded task: %v", err)
	}
	if task.Status != "funded" {
		t.Fatalf("funded task status = %q", task.Status)
	}

	// Decompose
	code, env = doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+task.ID+"/subtasks", map[string]interface{}{
		"wallet_address": adminWallet,
		"title":          "Collect papers",
		"budget":         "40",
	})
	if code != http.StatusCreated {
		t.Fatalf("add subtask returned %d", code)
	}
	var subtask struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &subtask); err != nil {
		t.Fatalf("decode subtask: %v", err)
	}

	// Claim
	code, env = doJSON(t, http.MethodPost, srv.URL+"/api/subtasks/"+subtask.ID+"/claim", map[string]interface{}{
		"wallet_address": workerWallet,
	})
	if code != http.StatusOK {
		t.Fatalf("claim returned %d", code)
	}

	// Second claim conflicts
	code, _ = doJSON(t, http.MethodPost, srv.URL+"/api/subtasks/"+subtask.ID+"/claim", map[string]interface{}{
		"wallet_address": adminWallet,
	})
	if code != http.StatusConflict {
		t.Fatalf("second claim returned %d, want 409", code)
	}

	// Submit with a JSON artifact
	artifact := base64.StdEncoding.EncodeToString([]byte(`{"papers": 12}`))
	code, env = doJSON(t, http.MethodPost, srv.URL+"/api/subtasks/"+subtask.ID+"/submit", map[string]interface{}{
		"wallet_address":    workerWallet,
		"content_summary":   "Collected 12 papers",
		"artifact_base64":   artifact,
		"artifact_filename": "papers.json",
	})
	if code != http.StatusCreated {
		t.Fatalf("submit returned %d", code)
	}
	var submission struct {
		ArtifactIPFSHash string `json:"artifact_ipfs_hash"`
	}
	if err := json.Unmarshal(env.Data, &submission); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if submission.ArtifactIPFSHash == "" {
		t.Error("expected an artifact hash on the submission")
	}

	// Approve
	code, env = doJSON(t, http.MethodPost, srv.URL+"/api/subtasks/"+subtask.ID+"/approve", map[string]interface{}{
		"wallet_address": adminWallet,
		"review_notes":   "solid work",
	})
	if code != http.StatusOK {
		t.Fatalf("approve returned %d", code)
	}
	var outcome struct {
		Release string `json:"release"`
		Subtask struct {
			Status string `json:"status"`
		} `json:"subtask"`
	}
	if err := json.Unmarshal(env.Data, &outcome); err != nil {
		t.Fatalf("decode approval outcome: %v", err)
	}
	if outcome.Subtask.Status != "approved" {
		t.Errorf("subtask status = %q", outcome.Subtask.Status)
	}

	// Complete
	code, env = doJSON(t, http.MethodPost, srv.URL+"/api/tasks/"+task.ID+"/complete", map[string]interface{}{
		"wallet_address": adminWallet,
	})
	if code != http.StatusOK {
		t.Fatalf("complete returned %d", code)
	}
	if err := json.Unmarshal(env.Data, &task); err != nil {
		t.Fatalf("decode completed task: %v", err)
	}
	if task.Status != "completed" {
		t.Errorf("completed task status = %q", task.Status)
	}
}

func TestRejectedArtifactTypeReturns400(t *testing.T) {
	srv, svc := newTestServer(t)

	subtaskID := seedClaimedSubtask(t, svc)

	artifact := base64.StdEncoding.EncodeToString([]byte("MZ"))
	code, _ := doJSON(t, http.MethodPost, srv.URL+"/api/subtasks/"+subtaskID+"/submit", map[string]interface{}{
		"wallet_address":    workerWallet,
		"content_summary":   "binary",
		"artifact_base64":   artifact,
		"artifact_filename": "payload.exe",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for executable artifact, got %d", code)
	}
}

func TestDisputeEndpoints(t *testing.T) {
	srv, svc := newTestServer(t)

	subtaskID := seedClaimedSubtask(t, svc)

	code, env := doJSON(t, http.MethodPost, srv.URL+"/api/subtasks/"+subtaskID+"/dispute", map[string]interface{}{
		"wallet_address": workerWallet,
		"reason":         "scope changed after claim",
	})
	if code != http.StatusCreated {
		t.Fatalf("dispute returned %d", code)
	}
	var dispute struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &dispute); err != nil {
		t.Fatalf("decode dispute: %v", err)
	}
	if dispute.Status != "open" {
		t.Fatalf("dispute status = %q", dispute.Status)
	}

	// Non-admin cannot resolve
	code, _ = doJSON(t, http.MethodPost, srv.URL+"/api/disputes/"+dispute.ID+"/resolve", map[string]interface{}{
		"wallet_address": workerWallet,
		"winner_wallet":  workerWallet,
		"resolution":     "self serve",
	})
	if code != http.StatusForbidden {
		t.Fatalf("non-admin resolve returned %d, want 403", code)
	}

	code, env = doJSON(t, http.MethodPost, srv.URL+"/api/disputes/"+dispute.ID+"/resolve", map[string]interface{}{
		"wallet_address": adminWallet,
		"winner_wallet":  workerWallet,
		"resolution":     "worker delivered as agreed",
	})
	if code != http.StatusOK {
		t.Fatalf("resolve returned %d", code)
	}
	var res struct {
		Dispute struct {
			Status string `json:"status"`
		} `json:"dispute"`
		Subtask struct {
			Status string `json:"status"`
		} `json:"subtask"`
	}
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode resolution: %v", err)
	}
	if res.Dispute.Status != "resolved" {
		t.Errorf("dispute status = %q", res.Dispute.Status)
	}
	if res.Subtask.Status != "approved" {
		t.Errorf("subtask status after worker win = %q", res.Subtask.Status)
	}
}

func TestQRCodeEndpointReturnsPNG(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/qrcode?address=0xescrow&amount=100")
	if err != nil {
		t.Fatalf("qrcode request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("qrcode returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if _, err := png.Decode(resp.Body); err != nil {
		t.Fatalf("response is not a PNG: %v", err)
	}
}

// seedClaimedSubtask creates a funded task with one subtask claimed by
// the worker, going through the services directly.
func seedClaimedSubtask(t *testing.T, svc *services.Services) string {
	t.Helper()
	ctx := context.Background()

	admin, err := svc.Users.GetByWallet(ctx, adminWallet)
	if err != nil {
		t.Fatalf("admin lookup: %v", err)
	}
	worker, err := svc.Users.GetByWallet(ctx, workerWallet)
	if err != nil {
		t.Fatalf("worker lookup: %v", err)
	}

	task, err := svc.Tasks.Create(ctx, core.Task{Title: "Seeded", TotalBudget: mustDecimal(t, "100")}, admin.User)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := svc.Tasks.Fund(ctx, task.ID, "0xseed", admin.User); err != nil {
		t.Fatalf("fund task: %v", err)
	}
	st, err := svc.Subtasks.Create(ctx, core.Subtask{TaskID: task.ID, Title: "Unit", Budget: mustDecimal(t, "40")}, admin.User)
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if _, err := svc.Subtasks.Claim(ctx, st.ID, worker.User, nil, nil); err != nil {
		t.Fatalf("claim subtask: %v", err)
	}
	return st.ID.String()
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}
