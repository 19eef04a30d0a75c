package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/logging"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bagqueue/internal/server/storage"
	"github.com/stretchr/testify/require"
)

const testMission = "mission-1"

type fakeConverter struct {
	mu       sync.Mutex
	channels []models.Channel
	err      error
	calls    int
	hook     func()
}

func (c *fakeConverter) Convert(_ context.Context, _ string) ([]models.Channel, error) {
	c.mu.Lock()
	c.calls++
	hook := c.hook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.channels, c.err
}

func (c *fakeConverter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type allowAll struct{}

func (allowAll) Admit(context.Context) error { return nil }

type testEnv struct {
	rm        *repomanager.MemoryRepositoryManager
	working   *storage.MemoryBackend
	durable   storage.Backend
	resolver  *storage.Resolver
	uploads   *UploadService
	processor *FileProcessor
	topics    *TopicIndexer
	conv      *fakeConverter
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil, allowAll{})
}

func newTestEnvWith(t *testing.T, durable storage.Backend, capacity CapacityChecker) *testEnv {
	t.Helper()
	rm := repomanager.NewMemoryRepositoryManager()
	rm.AddMission(testMission)
	working := storage.NewMemoryBackend("working", 1<<30, 1<<20)
	if durable == nil {
		durable = storage.NewMemoryBackend("durable", 1<<30, 1<<20)
	}
	resolver := storage.NewResolver(working, durable, rm.Files(), t.TempDir(), logging.Nop())

	uploads, err := NewUploadService(rm, resolver, capacity, time.Hour, logging.Nop())
	require.NoError(t, err)

	conv := &fakeConverter{channels: []models.Channel{
		{Name: "/camera", Type: "sensor_msgs/Image", MessageCount: 10, Frequency: 5},
		{Name: "/imu", Type: "sensor_msgs/Imu", MessageCount: 200, Frequency: 100},
	}}
	topics := NewTopicIndexer(rm)
	return &testEnv{
		rm:        rm,
		working:   working,
		durable:   durable,
		resolver:  resolver,
		uploads:   uploads,
		processor: NewFileProcessor(rm, resolver, conv, topics, t.TempDir(), logging.Nop()),
		topics:    topics,
		conv:      conv,
	}
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// uploadFile issues a target for name, stores content at the working backend
// and returns the file id.
func (e *testEnv) uploadFile(t *testing.T, name, content string) string {
	t.Helper()
	ctx := context.Background()
	targets, err := e.uploads.CreatePresignedURLs(ctx, testMission, "user-1", []string{name})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	id := targets[0].FileID
	require.NoError(t, e.working.Put(ctx, id, strings.NewReader(content), int64(len(content))))
	return id
}

// queueFile uploads and confirms content so it is AWAITING_PROCESSING.
func (e *testEnv) queueFile(t *testing.T, name, content string) string {
	t.Helper()
	id := e.uploadFile(t, name, content)
	out, err := e.uploads.ConfirmUpload(context.Background(), id, true, md5Hex(content))
	require.NoError(t, err)
	require.True(t, out.Applied)
	return id
}

func (e *testEnv) file(t *testing.T, id string) *models.File {
	t.Helper()
	f, err := e.rm.Files().Get(context.Background(), id)
	require.NoError(t, err)
	return f
}
