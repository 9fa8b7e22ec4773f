package service

import (
	"context"
	"testing"
	"time"

	"rafflesystem/internal/model"
	"rafflesystem/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyRewardCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "u1", "a@b.c", 0, 0)

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	env.svc.Reward.now = func() time.Time { return now }

	result, err := env.svc.Reward.ClaimDailyReward(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Balance)
	assert.Equal(t, int64(10), result.TotalXP)
	require.NotNil(t, result.NextClaim)
	assert.Equal(t, now.Add(24*time.Hour), *result.NextClaim)

	now = now.Add(time.Hour)
	_, err = env.svc.Reward.ClaimDailyReward(ctx, "u1")
	assert.ErrorIs(t, err, ErrRewardCooldown)
	assert.Equal(t, KindPrecondition, KindOf(err))

	account := env.account(t, "u1")
	assert.Equal(t, int64(2), account.Balance)
	assert.Equal(t, int64(10), account.XP)

	now = now.Add(23 * time.Hour)
	result, err = env.svc.Reward.ClaimDailyReward(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Balance)
	assert.Equal(t, int64(20), result.TotalXP)

	assert.Equal(t, int64(2), env.count(t, &model.CreditTransaction{}, "user_id = ? AND type = ?", "u1", model.CreditTxDailyReward))
}

func TestTierReward(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedAccount(t, "u1", "a@b.c", 0, 40)
	require.NoError(t, env.db.Create(&model.RewardTier{
		ID: "tier-1", Name: "青铜", Level: 1, RequiredXP: 50, RewardCredits: 10,
	}).Error)

	_, err := env.svc.Reward.ClaimTierReward(ctx, "u1", "tier-1")
	assert.ErrorIs(t, err, ErrXPThresholdNotMet)

	require.NoError(t, env.db.Model(&model.UserAccount{}).Where("user_id = ?", "u1").Update("xp", 50).Error)

	result, err := env.svc.Reward.ClaimTierReward(ctx, "u1", "tier-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Credits)
	assert.Equal(t, int64(10), result.Balance)

	account := env.account(t, "u1")
	assert.Equal(t, model.StringList{"tier-1"}, account.ClaimedTiers)

	_, err = env.svc.Reward.ClaimTierReward(ctx, "u1", "tier-1")
	assert.ErrorIs(t, err, ErrRewardAlreadyClaimed)
	assert.Equal(t, int64(10), env.account(t, "u1").Balance)

	_, err = env.svc.Reward.ClaimTierReward(ctx, "u1", "tier-missing")
	assert.ErrorIs(t, err, repository.ErrTierNotFound)
}
