package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/database"
	"rafflesystem/internal/infrastructure/payment"
	"rafflesystem/internal/model"
	"rafflesystem/internal/service"
	"rafflesystem/pkg/crypto"
	"rafflesystem/pkg/response"
	"rafflesystem/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenSecret    = "token-secret"
	callbackSecret = "callback-secret"
)

type stubProvider struct{}

func (stubProvider) CreateIntent(_ context.Context, req *payment.IntentRequest) (*payment.Intent, error) {
	return &payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", AmountMinor: req.AmountMinor, Currency: req.Currency}, nil
}

func (stubProvider) ParseWebhook(_ []byte, signature string) (*payment.Event, error) {
	if signature != "t=1,v1=ok" {
		return nil, payment.ErrInvalidSignature
	}
	return &payment.Event{ID: "evt_1", Type: "charge.refunded"}, nil
}

type stubSweeper struct {
	report *service.SweepReport
}

func (s stubSweeper) RunOnce(context.Context) (*service.SweepReport, error) {
	return s.report, nil
}

type stubOutbox struct{}

func (stubOutbox) ListFailed(context.Context, int) ([]*model.OutboxMessage, error) {
	return []*model.OutboxMessage{{ID: 7, MessageKey: "r1", Status: model.OutboxStatusFailed}}, nil
}

func (stubOutbox) Requeue(context.Context, int64) error { return nil }

type testServer struct {
	t       *testing.T
	db      *gorm.DB
	handler http.Handler
	engine  token.Engine
}

func newTestServer(t *testing.T, sweeper Sweeper) *testServer {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := config.Default()
	cfg.Auth.TokenSecret = tokenSecret
	cfg.Auth.CallbackSecret = callbackSecret
	cfg.Business.RetryInitialInterval = time.Millisecond

	svc := service.NewServices(db, nil, cfg, zap.NewNop(), stubProvider{}, nil)
	engine := token.NewEngine(tokenSecret)
	h := NewHandler(svc, sweeper, stubOutbox{}, zap.NewNop())

	return &testServer{
		t:       t,
		db:      db,
		handler: SetupRouter(h, engine, cfg, zap.NewNop()),
		engine:  engine,
	}
}

func (s *testServer) token(userID string) string {
	tok, err := s.engine.Generate(time.Hour, token.Identity{UserID: userID, Email: userID + "@mail.com"})
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) as(userID string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token(userID)}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) (int, map[string]interface{}) {
	t.Helper()
	var resp struct {
		Code int                    `json:"code"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Code, resp.Data
}

func (s *testServer) seedAccount(userID, role string, balance int64) {
	require.NoError(s.t, s.db.Create(&model.UserAccount{
		UserID: userID, Email: userID + "@mail.com", Role: role, Balance: balance, ClaimedTiers: model.StringList{},
	}).Error)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, stubSweeper{})
	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUserCreatedCallback(t *testing.T) {
	s := newTestServer(t, stubSweeper{})
	body := []byte(`{"user_id":"u1","email":"u1@mail.com"}`)

	w := s.do(http.MethodPost, "/callbacks/identity/user-created", body, map[string]string{"X-Signature": "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	sig := crypto.HMACSHA256(body, []byte(callbackSecret))
	for i, wantCreated := range []bool{true, false} {
		w = s.do(http.MethodPost, "/callbacks/identity/user-created", body, map[string]string{"X-Signature": sig})
		require.Equal(t, http.StatusOK, w.Code, "attempt %d", i)
		code, data := decode(t, w)
		assert.Equal(t, response.CodeSuccess, code)
		assert.Equal(t, wantCreated, data["created"])
		assert.Equal(t, float64(5), data["balance"])
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, stubSweeper{})

	w := s.do(http.MethodGet, "/api/v1/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/me", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := token.NewEngine("other").Generate(time.Hour, token.Identity{UserID: "u1"})
	require.NoError(t, err)
	w = s.do(http.MethodGet, "/api/v1/me", nil, map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	s.seedAccount("u1", model.RoleUser, 5)
	w = s.do(http.MethodGet, "/api/v1/me", nil, s.as("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	code, data := decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, float64(5), data["balance"])
}

func TestPurchaseTicketEndpoint(t *testing.T) {
	s := newTestServer(t, stubSweeper{})
	s.seedAccount("u1", model.RoleUser, 3)
	require.NoError(t, s.db.Create(&model.Raffle{
		ID: "r1", Name: "r1", FundingTarget: 10, TicketPrice: 2, ChosenTicketPrice: 5, State: model.RaffleStateFunding,
	}).Error)

	w := s.do(http.MethodPost, "/api/v1/raffles/r1/tickets", map[string]interface{}{}, s.as("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	code, data := decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, float64(1), data["balance"])
	assert.Equal(t, float64(1), data["funding_progress"])

	w = s.do(http.MethodPost, "/api/v1/raffles/r1/tickets", map[string]interface{}{"mode": "chosen", "number": 9}, s.as("u1"))
	code, _ = decode(t, w)
	assert.Equal(t, response.CodeInsufficientBalance, code)

	w = s.do(http.MethodPost, "/api/v1/raffles/missing/tickets", map[string]interface{}{}, s.as("u1"))
	code, _ = decode(t, w)
	assert.Equal(t, response.CodeNotFound, code)

	w = s.do(http.MethodPost, "/api/v1/raffles/r1/tickets", map[string]interface{}{"mode": "chosen"}, s.as("u1"))
	code, _ = decode(t, w)
	assert.Equal(t, response.CodeParamError, code)
}

func TestDailyRewardEndpoint(t *testing.T) {
	s := newTestServer(t, stubSweeper{})
	s.seedAccount("u1", model.RoleUser, 0)

	w := s.do(http.MethodPost, "/api/v1/rewards/daily", nil, s.as("u1"))
	code, _ := decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)

	w = s.do(http.MethodPost, "/api/v1/rewards/daily", nil, s.as("u1"))
	code, _ = decode(t, w)
	assert.Equal(t, response.CodeRewardCooldown, code)
}

func TestAdminRequiresRole(t *testing.T) {
	s := newTestServer(t, stubSweeper{report: &service.SweepReport{ToCountdown: []string{"r1"}}})
	s.seedAccount("u1", model.RoleUser, 0)
	s.seedAccount("boss", model.RoleAdmin, 0)

	req := map[string]interface{}{"name": "PS5", "funding_target": 50, "ticket_price": 1}

	w := s.do(http.MethodPost, "/api/v1/admin/raffles", req, s.as("u1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/admin/raffles", req, s.as("boss"))
	require.Equal(t, http.StatusOK, w.Code)
	code, data := decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, model.RaffleStateFunding, data["state"])

	w = s.do(http.MethodPost, "/api/v1/admin/sweep", nil, s.as("boss"))
	code, data = decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, []interface{}{"r1"}, data["to_countdown"])

	w = s.do(http.MethodPost, "/api/v1/admin/outbox/7/requeue", nil, s.as("boss"))
	code, _ = decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)

	w = s.do(http.MethodPost, "/api/v1/admin/outbox/abc/requeue", nil, s.as("boss"))
	code, _ = decode(t, w)
	assert.Equal(t, response.CodeParamError, code)
}

func TestSweepBusy(t *testing.T) {
	s := newTestServer(t, stubSweeper{})
	s.seedAccount("boss", model.RoleAdmin, 0)

	w := s.do(http.MethodPost, "/api/v1/admin/sweep", nil, s.as("boss"))
	code, _ := decode(t, w)
	assert.Equal(t, response.CodeTryAgain, code)
}

func TestStripeWebhookEndpoint(t *testing.T) {
	s := newTestServer(t, stubSweeper{})

	w := s.do(http.MethodPost, "/webhooks/stripe", []byte(`{}`), map[string]string{"Stripe-Signature": "t=1,v1=bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/webhooks/stripe", []byte(`{}`), map[string]string{"Stripe-Signature": "t=1,v1=ok"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
}

func TestOversizedBodyRejected(t *testing.T) {
	s := newTestServer(t, stubSweeper{})
	oversized := bytes.Repeat([]byte("a"), maxWebhookBody+1)

	w := s.do(http.MethodPost, "/webhooks/stripe", oversized, map[string]string{"Stripe-Signature": "t=1,v1=ok"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// 签名按完整请求体计算，截断后也不能通过
	sig := crypto.HMACSHA256(oversized, []byte(callbackSecret))
	w = s.do(http.MethodPost, "/callbacks/identity/user-created", oversized, map[string]string{"X-Signature": sig})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	code, _ := decode(t, w)
	assert.Equal(t, response.CodeParamError, code)

	// 恰好等于上限的请求体正常处理
	exact := bytes.Repeat([]byte("a"), maxWebhookBody)
	w = s.do(http.MethodPost, "/webhooks/stripe", exact, map[string]string{"Stripe-Signature": "t=1,v1=ok"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPublicListing(t *testing.T) {
	s := newTestServer(t, stubSweeper{})
	require.NoError(t, s.db.Create(&model.Raffle{ID: "r1", Name: "r1", Category: "tech", FundingTarget: 1, TicketPrice: 1, State: model.RaffleStateFunding}).Error)
	require.NoError(t, s.db.Create(&model.Raffle{ID: "r2", Name: "r2", Category: "home", FundingTarget: 1, TicketPrice: 1, State: model.RaffleStateFunding}).Error)

	w := s.do(http.MethodGet, "/api/v1/raffles?category=tech", nil, nil)
	code, data := decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, float64(1), data["total"])

	w = s.do(http.MethodGet, "/api/v1/raffles/r2", nil, nil)
	code, data = decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, "home", data["category"])
}

func TestAdminRaffleEditAndDashboard(t *testing.T) {
	s := newTestServer(t, stubSweeper{})
	s.seedAccount("u1", model.RoleUser, 0)
	s.seedAccount("boss", model.RoleAdmin, 0)
	require.NoError(t, s.db.Create(&model.Raffle{
		ID: "r1", Name: "old", FundingTarget: 10, FundingProgress: 4, TicketPrice: 2, State: model.RaffleStateFunding,
	}).Error)

	edit := map[string]interface{}{"name": "new", "ticket_price": 3, "funding_progress": 0, "state": "finalized"}

	w := s.do(http.MethodPut, "/api/v1/admin/raffles/r1", edit, s.as("u1"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPut, "/api/v1/admin/raffles/r1", edit, s.as("boss"))
	require.Equal(t, http.StatusOK, w.Code)
	code, data := decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, "new", data["name"])
	assert.Equal(t, float64(3), data["ticket_price"])
	assert.Equal(t, float64(4), data["funding_progress"])
	assert.Equal(t, model.RaffleStateFunding, data["state"])

	w = s.do(http.MethodPut, "/api/v1/admin/raffles/r1", map[string]interface{}{"ticket_price": 0}, s.as("boss"))
	code, _ = decode(t, w)
	assert.Equal(t, response.CodeParamError, code)

	w = s.do(http.MethodGet, "/api/v1/admin/users?role=admin", nil, s.as("boss"))
	code, data = decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, float64(1), data["total"])

	w = s.do(http.MethodGet, "/api/v1/admin/dashboard", nil, s.as("boss"))
	code, data = decode(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, float64(2), data["total_users"])
	assert.Equal(t, float64(1), data["active_raffles"])
	assert.Equal(t, float64(0), data["revenue_minor"])
}
