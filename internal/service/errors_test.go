package service

import (
	"errors"
	"fmt"
	"testing"

	"rafflesystem/internal/infrastructure/payment"
	"rafflesystem/internal/repository"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{invalidArgument("x"), KindValidation},
		{ErrInsufficientBalance, KindPrecondition},
		{fmt.Errorf("wrap: %w", ErrNumberTaken), KindPrecondition},
		{ErrDuplicatePayment, KindPrecondition},
		{repository.ErrRaffleNotFound, KindNotFound},
		{repository.ErrTierNotFound, KindNotFound},
		{ErrTransactionConflict, KindConflict},
		{repository.ErrUserNotFound, KindIntegrity},
		{fmt.Errorf("%w: 缺少元数据", ErrIntegrity), KindIntegrity},
		{payment.ErrInvalidSignature, KindExternal},
		{ErrExternal, KindExternal},
		{errors.New("disk full"), KindInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, KindOf(c.err), c.err.Error())
	}
}
