package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestIsLockContention(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"mysql 死锁", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"mysql 锁等待超时", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, true},
		{"mysql 唯一键冲突", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite 约束", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"包装后的 busy", fmt.Errorf("扣减余额: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), true},
		{"包装后的死锁", fmt.Errorf("写入票据: %w", &mysql.MySQLError{Number: 1213}), true},
		{"普通错误", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLockContention(tt.err))
		})
	}
}
