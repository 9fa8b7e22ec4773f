package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRaffle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.FixedZone("BRT", -3*3600))

	raffle, err := env.svc.Raffle.CreateRaffle(ctx, &CreateRaffleRequest{
		Name:              " iPhone ",
		Category:          "tech",
		PrizeValue:        decimal.RequireFromString("999.90"),
		FundingTarget:     100,
		TicketPrice:       2,
		ChosenTicketPrice: 5,
		SaleCutoffAt:      &cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, "iPhone", raffle.Name)
	assert.Equal(t, model.RaffleStateFunding, raffle.State)
	assert.Equal(t, time.UTC, raffle.SaleCutoffAt.Location())

	stored := env.raffle(t, raffle.ID)
	assert.Equal(t, int64(0), stored.FundingProgress)
	assert.True(t, stored.PrizeValue.Equal(decimal.RequireFromString("999.9")))

	invalid := []*CreateRaffleRequest{
		{FundingTarget: 1, TicketPrice: 1},
		{Name: "x", FundingTarget: 0, TicketPrice: 1},
		{Name: "x", FundingTarget: 1, TicketPrice: 0},
		{Name: "x", FundingTarget: 1, TicketPrice: 1, ChosenTicketPrice: -1},
		{Name: "x", FundingTarget: 1, TicketPrice: 1, PrizeValue: decimal.NewFromInt(-1)},
		{Name: "x", FundingTarget: 10001, TicketPrice: 1},
	}
	for _, req := range invalid {
		_, err := env.svc.Raffle.CreateRaffle(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestUploadImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRaffle(t, &model.Raffle{ID: "r1", FundingTarget: 1})

	url, err := env.svc.Raffle.UploadImage(ctx, "r1", "prize.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/raffles/r1/prize.png", url)
	assert.Equal(t, url, env.raffle(t, "r1").ImageURL)

	_, err = env.svc.Raffle.UploadImage(ctx, "r1", "big.png", "image/png", bytes.Repeat([]byte{1}, maxImageSize+1))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = env.svc.Raffle.UploadImage(ctx, "r1", "doc.pdf", "application/pdf", []byte("pdf"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = env.svc.Raffle.UploadImage(ctx, "missing", "prize.png", "image/png", []byte("png"))
	assert.ErrorIs(t, err, repository.ErrRaffleNotFound)

	env.store.err = errors.New("connection refused")
	_, err = env.svc.Raffle.UploadImage(ctx, "r1", "prize.png", "image/png", []byte("png"))
	assert.ErrorIs(t, err, ErrExternal)
	assert.Len(t, env.store.uploads, 1)
}

func TestListWinners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	env.seedRaffle(t, &model.Raffle{ID: "old", FundingTarget: 1, State: model.RaffleStateFinalized, FinalizedAt: &older})
	env.seedRaffle(t, &model.Raffle{ID: "new", FundingTarget: 1, State: model.RaffleStateFinalized, FinalizedAt: &newer})
	env.seedRaffle(t, &model.Raffle{ID: "open", FundingTarget: 1})

	raffles, total, err := env.svc.Raffle.ListWinners(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, raffles, 2)
	assert.Equal(t, "new", raffles[0].ID)
	assert.Equal(t, "old", raffles[1].ID)
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pkg, err := env.svc.Raffle.CreatePackage(ctx, &CreatePackageRequest{
		ID: "pack-50", Name: "50 积分", Credits: 50, PriceUSD: decimal.RequireFromString("2.499"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(250), pkg.AmountMinor())

	_, err = env.svc.Raffle.CreatePackage(ctx, &CreatePackageRequest{ID: "p", Name: "p", Credits: 1, PriceUSD: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	packages, err := env.svc.Raffle.ListPackages(ctx)
	require.NoError(t, err)
	assert.Len(t, packages, 1)

	_, err = env.svc.Raffle.CreateTier(ctx, &CreateTierRequest{ID: "t1", Name: "青铜", Level: 1, RequiredXP: 100, RewardCredits: 5})
	require.NoError(t, err)
	_, err = env.svc.Raffle.CreateTier(ctx, &CreateTierRequest{ID: "t2", Name: "白银", Level: 2, RequiredXP: 100, RewardCredits: 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	tiers, err := env.svc.Reward.ListTiers(ctx)
	require.NoError(t, err)
	assert.Len(t, tiers, 1)
}

func TestSetUserRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "u1", "a@b.c", 0, 0)

	require.NoError(t, env.svc.Raffle.SetUserRole(ctx, "u1", model.RoleAdmin))
	assert.Equal(t, model.RoleAdmin, env.account(t, "u1").Role)

	assert.ErrorIs(t, env.svc.Raffle.SetUserRole(ctx, "u1", "root"), ErrInvalidArgument)
	assert.ErrorIs(t, env.svc.Raffle.SetUserRole(ctx, "ghost", model.RoleAdmin), repository.ErrUserNotFound)
}

func TestAuditRaffle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "u1", "a@b.c", 10, 0)
	env.seedRaffle(t, &model.Raffle{ID: "r1", FundingTarget: 5})

	for i := 0; i < 2; i++ {
		_, err := env.svc.Ticket.PurchaseTicket(ctx, &PurchaseRequest{UserID: "u1", RaffleID: "r1"})
		require.NoError(t, err)
	}

	audit, err := env.svc.Raffle.AuditRaffle(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, audit.Consistent)
	assert.Equal(t, int64(2), audit.TicketCount)

	_, err = env.svc.Raffle.AuditRaffle(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrRaffleNotFound)
}

func TestUpdateRaffle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRaffle(t, &model.Raffle{ID: "r1", Name: "old", FundingTarget: 10, FundingProgress: 4, TicketPrice: 2, State: model.RaffleStateFunding})
	before := env.raffle(t, "r1")

	name := " PS5 Pro "
	price := int64(3)
	chosen := int64(0)
	featured := true
	raffle, err := env.svc.Raffle.UpdateRaffle(ctx, "r1", &UpdateRaffleRequest{
		Name:              &name,
		TicketPrice:       &price,
		ChosenTicketPrice: &chosen,
		Featured:          &featured,
	})
	require.NoError(t, err)
	assert.Equal(t, "PS5 Pro", raffle.Name)
	assert.Equal(t, int64(3), raffle.TicketPrice)
	assert.Equal(t, int64(0), raffle.ChosenTicketPrice)
	assert.True(t, raffle.Featured)

	// 进度、目标、状态保持不变，版本号递增
	assert.Equal(t, int64(4), raffle.FundingProgress)
	assert.Equal(t, int64(10), raffle.FundingTarget)
	assert.Equal(t, model.RaffleStateFunding, raffle.State)
	assert.Equal(t, before.Version+1, raffle.Version)

	_, err = env.svc.Raffle.UpdateRaffle(ctx, "missing", &UpdateRaffleRequest{Name: &name})
	assert.ErrorIs(t, err, repository.ErrRaffleNotFound)

	blank := " "
	zero := int64(0)
	negative := decimal.NewFromInt(-1)
	invalid := []*UpdateRaffleRequest{
		{},
		{Name: &blank},
		{TicketPrice: &zero},
		{PrizeValue: &negative},
	}
	for _, req := range invalid {
		_, err := env.svc.Raffle.UpdateRaffle(ctx, "r1", req)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestUpdateMetadataDropsProtectedColumns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedRaffle(t, &model.Raffle{ID: "r1", FundingTarget: 10, FundingProgress: 4})

	repo := repository.NewRaffleRepository(env.db)
	require.NoError(t, repo.UpdateMetadata(ctx, "r1", map[string]interface{}{
		"category":         "tech",
		"funding_progress": 0,
		"funding_target":   1,
		"state":            model.RaffleStateFinalized,
		"winner_user_id":   "u1",
	}))

	raffle := env.raffle(t, "r1")
	assert.Equal(t, "tech", raffle.Category)
	assert.Equal(t, int64(4), raffle.FundingProgress)
	assert.Equal(t, int64(10), raffle.FundingTarget)
	assert.Equal(t, model.RaffleStateFunding, raffle.State)
	assert.Nil(t, raffle.WinnerUserID)
}

func TestUpdateRaffleRepricesPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "u1", "u1@mail.com", 10, 0)
	env.seedRaffle(t, &model.Raffle{ID: "r1", FundingTarget: 10, TicketPrice: 1})

	price := int64(4)
	_, err := env.svc.Raffle.UpdateRaffle(ctx, "r1", &UpdateRaffleRequest{TicketPrice: &price})
	require.NoError(t, err)

	result, err := env.svc.Ticket.PurchaseTicket(ctx, &PurchaseRequest{UserID: "u1", RaffleID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Cost)
	assert.Equal(t, int64(6), result.Balance)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "u1", "u1@mail.com", 5, 0)
	env.seedAccount(t, "u2", "u2@mail.com", 7, 0)
	require.NoError(t, env.svc.Raffle.SetUserRole(ctx, "u2", model.RoleAdmin))

	users, total, err := env.svc.Raffle.ListUsers(ctx, "", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, users, 2)

	admins, total, err := env.svc.Raffle.ListUsers(ctx, model.RoleAdmin, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, admins, 1)
	assert.Equal(t, "u2", admins[0].UserID)
	assert.Equal(t, int64(7), admins[0].Balance)
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dashboard, err := env.svc.Raffle.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dashboard.TotalUsers)
	assert.Equal(t, int64(0), dashboard.RevenueMinor)
	assert.Empty(t, dashboard.RecentSales)

	env.seedAccount(t, "u1", "u1@mail.com", 0, 0)
	env.seedAccount(t, "u2", "u2@mail.com", 0, 0)
	env.seedRaffle(t, &model.Raffle{ID: "funding", FundingTarget: 1})
	env.seedRaffle(t, &model.Raffle{ID: "countdown", FundingTarget: 1, State: model.RaffleStateCountdown})
	env.seedRaffle(t, &model.Raffle{ID: "done", FundingTarget: 1, State: model.RaffleStateFinalized})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		require.NoError(t, env.db.Create(&model.SaleRecord{
			ID:             fmt.Sprintf("pi_%d", i),
			BuyerID:        "u1",
			PackageID:      "pack-100",
			AmountMinor:    499,
			Currency:       "usd",
			CreditsGranted: 100,
			PaymentMethod:  "card",
			Status:         model.SaleStatusCompleted,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	dashboard, err = env.svc.Raffle.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dashboard.TotalUsers)
	assert.Equal(t, int64(2), dashboard.ActiveRaffles)
	assert.Equal(t, int64(7*499), dashboard.RevenueMinor)
	require.Len(t, dashboard.RecentSales, 5)
	assert.Equal(t, "pi_6", dashboard.RecentSales[0].ID)
}
