package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	queue := NewInMemoryQueue()

	payload := FinetuneTaskPayload{RunId: uuid.New(), DataPath: "questions.csv", Epochs: 3, BatchSize: 8}
	require.NoError(t, queue.PublishFinetuneTask(context.Background(), payload))

	task := <-queue.Tasks()
	assert.Equal(t, FinetuneQueue, task.Type())

	var received FinetuneTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &received))
	assert.Equal(t, payload, received)
	assert.NoError(t, task.Ack())

	queue.Close()
	queue.Close()

	_, open := <-queue.Tasks()
	assert.False(t, open)

	assert.Error(t, queue.PublishFinetuneTask(context.Background(), payload))
}

func TestInMemoryQueuePublishCancelled(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	for i := 0; i < cap(queue.tasks); i++ {
		require.NoError(t, queue.PublishFinetuneTask(context.Background(), FinetuneTaskPayload{}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, queue.PublishFinetuneTask(ctx, FinetuneTaskPayload{}), context.Canceled)
}
