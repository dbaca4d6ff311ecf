package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"embeddingjob/internal/config"
	"embeddingjob/internal/domain/valueobject"
	"embeddingjob/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNewNATSStagePublisher(t *testing.T) {
	t.Run("should derive the stage subject from the prefix", func(t *testing.T) {
		publisher, err := NewNATSStagePublisher(config.NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "embedjob.job.",
			MaxReconnects: 5,
			ReconnectWait: 2 * time.Second,
		})

		require.NoError(t, err)
		assert.Equal(t, "embedjob.job.stage", publisher.Subject())
	})

	tests := []struct {
		name        string
		config      config.NATSConfig
		expectedErr string
	}{
		{
			name:        "empty URL",
			config:      config.NATSConfig{SubjectPrefix: "x"},
			expectedErr: "NATS URL cannot be empty",
		},
		{
			name:        "invalid scheme",
			config:      config.NATSConfig{URL: "http://localhost:4222", SubjectPrefix: "x"},
			expectedErr: "invalid NATS URL scheme",
		},
		{
			name:        "negative reconnects",
			config:      config.NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "x", MaxReconnects: -1},
			expectedErr: "max reconnects cannot be negative",
		},
		{
			name:        "missing prefix",
			config:      config.NATSConfig{URL: "nats://localhost:4222"},
			expectedErr: "subject prefix cannot be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNATSStagePublisher(tt.config)

			require.Error(t, err)
			assert.Equal(t, tt.expectedErr, err.Error())
		})
	}
}

func TestNATSStagePublisher_NotConnected(t *testing.T) {
	publisher, err := NewNATSStagePublisher(config.NATSConfig{URL: "nats://localhost:4222", SubjectPrefix: "embedjob.job"})
	require.NoError(t, err)

	publishErr := publisher.PublishStageChanged(context.Background(), outbound.JobStageChangedEvent{JobID: uuid.New()})

	require.Error(t, publishErr)
	assert.Error(t, publisher.Probe(context.Background()))
	assert.NoError(t, publisher.Disconnect())
	assert.Equal(t, int64(1), publisher.Metrics().FailedCount)
}

func TestNATSStagePublisher_ConnectToUnreachableServer(t *testing.T) {
	// Arrange
	publisher, err := NewNATSStagePublisher(config.NATSConfig{
		URL:           "nats://127.0.0.1:1",
		SubjectPrefix: "embedjob.job",
		MaxReconnects: 1,
		ReconnectWait: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	// Act
	connectErr := publisher.Connect()

	// Assert
	require.NoError(t, connectErr)
	probeErr := publisher.Probe(context.Background())
	require.Error(t, probeErr)
	assert.Equal(t, "not connected to NATS", probeErr.Error())
	assert.NoError(t, publisher.Disconnect())
}

func TestNATSStagePublisher_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping NATS integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("NATS container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	// Arrange
	subscriber, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(subscriber.Close)
	received := make(chan *nats.Msg, 1)
	_, err = subscriber.ChanSubscribe("embedjob.job.stage", received)
	require.NoError(t, err)
	require.NoError(t, subscriber.Flush())

	publisher, err := NewNATSStagePublisher(config.NATSConfig{URL: url, SubjectPrefix: "embedjob.job"})
	require.NoError(t, err)
	require.NoError(t, publisher.Connect())
	t.Cleanup(func() { _ = publisher.Disconnect() })
	require.NoError(t, publisher.Probe(ctx))

	event := outbound.JobStageChangedEvent{
		JobID: uuid.New(),
		From:  valueobject.JobStageInitializing,
		To:    valueobject.JobStageFailed,
		At:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Error: "documents: connection refused",
	}

	// Act
	require.NoError(t, publisher.PublishStageChanged(ctx, event))

	// Assert
	select {
	case msg := <-received:
		var body map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &body))
		assert.Equal(t, event.JobID.String(), body["job_id"])
		assert.Equal(t, "initializing", body["from"])
		assert.Equal(t, "failed", body["to"])
		assert.Equal(t, "2024-01-02T03:04:05Z", body["at"])
		assert.Equal(t, "documents: connection refused", body["error"])
	case <-time.After(5 * time.Second):
		t.Fatal("stage event was not delivered")
	}
	assert.Equal(t, int64(1), publisher.Metrics().PublishedCount)
}
