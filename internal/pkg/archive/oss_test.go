package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Put(ctx context.Context, key string, body []byte) error {
	args := m.Called(ctx, key, body)
	return args.Error(0)
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 0, 0, 0, time.FixedZone("CST", 8*3600))
	key := ObjectKey("callbacks", "hosted", "R1", at)

	assert.True(t, strings.HasPrefix(key, "callbacks/hosted/20240309/R1-"))
	assert.True(t, strings.HasSuffix(key, ".json"))
}

func TestTask(t *testing.T) {
	m := new(MockArchiver)
	m.On("Put", mock.Anything, "k", []byte(`{"a":1}`)).Return(nil)

	task := &Task{Archiver: m, Key: "k", Body: []byte(`{"a":1}`)}
	assert.Equal(t, "archive", task.Kind())
	assert.NoError(t, task.Run(context.Background()))
	m.AssertExpectations(t)
}
