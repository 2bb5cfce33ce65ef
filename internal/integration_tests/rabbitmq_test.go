package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"query-classifier/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRabbitMQPublishReceiveFinetuneTask(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)

	publisher, err := messaging.NewRabbitMQPublisher(url)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(url)
	require.NoError(t, err)
	defer receiver.Close()

	payload := messaging.FinetuneTaskPayload{
		RunId:         uuid.New(),
		DataPath:      "questions.csv",
		Epochs:        3,
		BatchSize:     16,
		ModelOutput:   "model",
		TrainFraction: 0.7,
		LearningRate:  1e-3,
	}
	require.NoError(t, publisher.PublishFinetuneTask(ctx, payload))

	select {
	case task := <-receiver.Tasks():
		assert.Equal(t, messaging.FinetuneQueue, task.Type())

		var received messaging.FinetuneTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &received))
		assert.Equal(t, payload, received)
		assert.NoError(t, task.Ack())
	case <-ctx.Done():
		t.Fatal("timed out waiting for finetune task")
	}
}
