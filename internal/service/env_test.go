package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rafflesystem/internal/config"
	"rafflesystem/internal/infrastructure/database"
	"rafflesystem/internal/infrastructure/payment"
	"rafflesystem/internal/infrastructure/storage"
	"rafflesystem/internal/model"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	svc      *Services
	provider *fakeProvider
	store    *fakeStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	return newTestEnvWithDB(t, db, 5)
}

// newConcurrentTestEnv 文件库 + 多连接，事务之间会发生真实的锁竞争
func newConcurrentTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenFile(filepath.Join(t.TempDir(), "raffle.db"), 8)
	require.NoError(t, err)
	return newTestEnvWithDB(t, db, 30)
}

func newTestEnvWithDB(t *testing.T, db *gorm.DB, maxRetries int) *testEnv {
	t.Helper()
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := config.Default()
	cfg.Business.MaxTxRetries = maxRetries
	cfg.Business.RetryInitialInterval = time.Millisecond

	provider := &fakeProvider{}
	store := &fakeStorage{}
	return &testEnv{
		db:       db,
		cfg:      cfg,
		svc:      NewServices(db, nil, cfg, zap.NewNop(), provider, store),
		provider: provider,
		store:    store,
	}
}

// eachDatabase 在单连接内存库和多连接文件库上各跑一遍
func eachDatabase(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	t.Run("memory", func(t *testing.T) { fn(t, newTestEnv(t)) })
	t.Run("file_wal", func(t *testing.T) { fn(t, newConcurrentTestEnv(t)) })
}

func (e *testEnv) seedAccount(t *testing.T, userID, email string, balance, xp int64) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.UserAccount{
		UserID:       userID,
		Email:        email,
		Role:         model.RoleUser,
		Balance:      balance,
		XP:           xp,
		ClaimedTiers: model.StringList{},
	}).Error)
}

func (e *testEnv) seedRaffle(t *testing.T, raffle *model.Raffle) *model.Raffle {
	t.Helper()
	if raffle.Name == "" {
		raffle.Name = "测试抽奖 " + raffle.ID
	}
	if raffle.TicketPrice == 0 {
		raffle.TicketPrice = 1
	}
	if raffle.State == "" {
		raffle.State = model.RaffleStateFunding
	}
	require.NoError(t, e.db.Create(raffle).Error)
	return raffle
}

func (e *testEnv) seedTicket(t *testing.T, raffleID, userID string, number int64, at time.Time) *model.Ticket {
	t.Helper()
	ticket := &model.Ticket{
		ID:          raffleID + "-" + userID + "-" + at.Format("150405.000"),
		RaffleID:    raffleID,
		UserID:      userID,
		Number:      number,
		Mode:        model.TicketModeChosen,
		CreditsPaid: 1,
		PurchasedAt: at,
	}
	require.NoError(t, e.db.Create(ticket).Error)
	return ticket
}

func (e *testEnv) account(t *testing.T, userID string) *model.UserAccount {
	t.Helper()
	var account model.UserAccount
	require.NoError(t, e.db.Where("user_id = ?", userID).First(&account).Error)
	return &account
}

func (e *testEnv) raffle(t *testing.T, id string) *model.Raffle {
	t.Helper()
	var raffle model.Raffle
	require.NoError(t, e.db.Where("id = ?", id).First(&raffle).Error)
	return &raffle
}

func (e *testEnv) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

func (e *testEnv) raffleEvents(t *testing.T, raffleID string) []*model.RaffleStateEvent {
	t.Helper()
	var msgs []*model.OutboxMessage
	require.NoError(t, e.db.Where("message_key = ?", raffleID).Order("id ASC").Find(&msgs).Error)

	events := make([]*model.RaffleStateEvent, 0, len(msgs))
	for _, msg := range msgs {
		var event model.RaffleStateEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		events = append(events, &event)
	}
	return events
}

const validSignature = "valid"

type fakeProvider struct {
	mu       sync.Mutex
	event    *payment.Event
	parseErr error
	intents  []*payment.IntentRequest
}

func (p *fakeProvider) CreateIntent(_ context.Context, req *payment.IntentRequest) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents = append(p.intents, req)
	return &payment.Intent{
		ID:           "pi_test",
		ClientSecret: "pi_test_secret",
		AmountMinor:  req.AmountMinor,
		Currency:     req.Currency,
	}, nil
}

func (p *fakeProvider) ParseWebhook(_ []byte, signature string) (*payment.Event, error) {
	if signature != validSignature {
		return nil, payment.ErrInvalidSignature
	}
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	event := *p.event
	return &event, nil
}

type fakeStorage struct {
	uploads []*storage.UploadObject
	err     error
}

func (s *fakeStorage) Upload(_ context.Context, object *storage.UploadObject) (*storage.UploadResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.uploads = append(s.uploads, object)
	key := object.Prefix + "/" + object.FileName
	return &storage.UploadResponse{URL: "https://cdn.example.com/" + key, Key: key}, nil
}
