package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var chain = []string{StatusPending, StatusPaid, StatusConfirmed, StatusShipped, StatusDelivered}

func TestCanTransition(t *testing.T) {
	t.Run("Only immediate successor", func(t *testing.T) {
		for i, from := range chain {
			for j, to := range chain {
				assert.Equal(t, j == i+1, CanTransition(from, to), "%s -> %s", from, to)
			}
		}
	})

	t.Run("Cancel from non-terminal states", func(t *testing.T) {
		for _, from := range chain[:len(chain)-1] {
			assert.True(t, CanTransition(from, StatusCancelled), from)
		}
		assert.False(t, CanTransition(StatusDelivered, StatusCancelled))
		assert.False(t, CanTransition(StatusCancelled, StatusCancelled))
	})

	t.Run("Nothing leaves cancelled", func(t *testing.T) {
		for _, to := range chain {
			assert.False(t, CanTransition(StatusCancelled, to))
		}
	})

	t.Run("Unknown states", func(t *testing.T) {
		assert.False(t, CanTransition("refunded", StatusCancelled))
		assert.False(t, CanTransition(StatusPending, "refunded"))
	})
}

// 任意转换序列，只应用合法转换后，状态历史必须是主链的前缀或以 cancelled 结尾
func TestTransitionHistoryShape(t *testing.T) {
	targets := append(append([]string{}, chain...), StatusCancelled)

	// 枚举长度为 4 的所有目标序列
	var walk func(history []string, depth int)
	walk = func(history []string, depth int) {
		assertHistoryShape(t, history)
		if depth == 0 {
			return
		}
		for _, to := range targets {
			cur := history[len(history)-1]
			next := history
			if CanTransition(cur, to) {
				next = append(append([]string{}, history...), to)
			}
			walk(next, depth-1)
		}
	}
	walk([]string{StatusPending}, 4)
}

func assertHistoryShape(t *testing.T, history []string) {
	t.Helper()
	for i, s := range history {
		if s == StatusCancelled {
			assert.Equal(t, len(history)-1, i, "cancelled must be last: %v", history)
			return
		}
		assert.Equal(t, chain[i], s, "history must follow the chain: %v", history)
	}
}
