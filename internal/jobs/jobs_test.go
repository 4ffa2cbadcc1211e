package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/callsync/internal/errors"
	"github.com/allisson/callsync/internal/httpclient"
	taskDomain "github.com/allisson/callsync/internal/taskqueue/domain"
	taskUseCase "github.com/allisson/callsync/internal/taskqueue/usecase"
)

// MockHTTPClient is a mock implementation of HTTPClient
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Get(ctx context.Context, rawURL string, opts httpclient.Options) (*httpclient.Response, error) {
	args := m.Called(ctx, rawURL, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*httpclient.Response), args.Error(1)
}

func (m *MockHTTPClient) Post(ctx context.Context, rawURL string, opts httpclient.Options) (*httpclient.Response, error) {
	args := m.Called(ctx, rawURL, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*httpclient.Response), args.Error(1)
}

// MockEnqueuer is a mock implementation of Enqueuer
type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(
	ctx context.Context,
	taskType string,
	data any,
	opts taskUseCase.EnqueueOptions,
) (*taskDomain.Task, error) {
	args := m.Called(ctx, taskType, data, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*taskDomain.Task), args.Error(1)
}

func testConfig() Config {
	return Config{
		RingoverBaseURL:    "https://api.ringover.test",
		RingoverAPIKey:     "ringover-key",
		OpenAIBaseURL:      "https://api.openai.test",
		OpenAIAPIKey:       "openai-key",
		PipedriveBaseURL:   "https://api.pipedrive.test",
		PipedriveAPIToken:  "pipedrive-token",
		TranscriptionModel: "whisper-1",
	}
}

func newTask(t *testing.T, taskType string, payload any) *taskDomain.Task {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	corrID := "corr-1"
	return &taskDomain.Task{
		ID:            uuid.Must(uuid.NewV7()),
		TaskType:      taskType,
		TaskData:      data,
		CorrelationID: &corrID,
	}
}

func TestCallSyncHandler(t *testing.T) {
	t.Run("fans out one download per recorded call", func(t *testing.T) {
		client := &MockHTTPClient{}
		queue := &MockEnqueuer{}
		handler := NewCallSyncHandler(client, queue, testConfig())

		listing := `{"call_list":[
			{"call_id":"c1","recording_url":"https://media.ringover.test/r1"},
			{"call_id":"c2","recording_url":""},
			{"call_id":"c3","recording_url":"https://media.ringover.test/r3"}
		]}`

		client.On("Get", mock.Anything, "https://api.ringover.test/v2/calls",
			mock.MatchedBy(func(opts httpclient.Options) bool {
				return opts.Service == "ringover" &&
					opts.CorrelationID == "corr-1" &&
					opts.Query.Get("start_date") == "2025-06-01"
			})).Return(&httpclient.Response{StatusCode: 200, Body: []byte(listing)}, nil)

		queue.On("Enqueue", mock.Anything, TaskTypeRecordingDownload,
			mock.MatchedBy(func(data any) bool {
				payload, ok := data.(RecordingDownloadPayload)
				return ok && payload.CallID != "" && payload.RecordingURL != ""
			}), mock.Anything).Return(&taskDomain.Task{}, nil).Twice()

		task := newTask(t, TaskTypeCallSync, CallSyncPayload{StartDate: "2025-06-01"})
		require.NoError(t, handler.Handle(context.Background(), task))

		queue.AssertNumberOfCalls(t, "Enqueue", 2)
	})

	t.Run("invalid payload is non-retryable", func(t *testing.T) {
		handler := NewCallSyncHandler(&MockHTTPClient{}, &MockEnqueuer{}, testConfig())

		task := newTask(t, TaskTypeCallSync, CallSyncPayload{StartDate: "not-a-date"})
		err := handler.Handle(context.Background(), task)
		assert.ErrorIs(t, err, apperrors.ErrNonRetryable)
	})

	t.Run("upstream failure propagates for retry", func(t *testing.T) {
		client := &MockHTTPClient{}
		handler := NewCallSyncHandler(client, &MockEnqueuer{}, testConfig())

		client.On("Get", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, apperrors.NewHTTPError(503, "503 Service Unavailable", ""))

		task := newTask(t, TaskTypeCallSync, CallSyncPayload{StartDate: "2025-06-01"})
		err := handler.Handle(context.Background(), task)

		var httpErr *apperrors.HTTPError
		assert.ErrorAs(t, err, &httpErr)
		assert.NotErrorIs(t, err, apperrors.ErrNonRetryable)
	})
}

func TestRecordingDownloadHandler(t *testing.T) {
	t.Run("downloads and enqueues transcription", func(t *testing.T) {
		client := &MockHTTPClient{}
		queue := &MockEnqueuer{}
		handler := NewRecordingDownloadHandler(client, queue, testConfig())

		audio := []byte("fake-mp3-bytes")
		client.On("Get", mock.Anything, "https://media.ringover.test/r1",
			mock.MatchedBy(func(opts httpclient.Options) bool {
				return opts.Service == "ringover" && opts.Operation == "download"
			})).Return(&httpclient.Response{StatusCode: 200, Body: audio}, nil)

		queue.On("Enqueue", mock.Anything, TaskTypeTranscription,
			mock.MatchedBy(func(data any) bool {
				payload, ok := data.(TranscriptionPayload)
				return ok && payload.CallID == "c1" &&
					payload.Audio == base64.StdEncoding.EncodeToString(audio)
			}), mock.Anything).Return(&taskDomain.Task{}, nil)

		task := newTask(t, TaskTypeRecordingDownload, RecordingDownloadPayload{
			CallID:       "c1",
			RecordingURL: "https://media.ringover.test/r1",
		})
		require.NoError(t, handler.Handle(context.Background(), task))
		queue.AssertExpectations(t)
	})

	t.Run("empty recording is non-retryable", func(t *testing.T) {
		client := &MockHTTPClient{}
		handler := NewRecordingDownloadHandler(client, &MockEnqueuer{}, testConfig())

		client.On("Get", mock.Anything, mock.Anything, mock.Anything).
			Return(&httpclient.Response{StatusCode: 200, Body: nil}, nil)

		task := newTask(t, TaskTypeRecordingDownload, RecordingDownloadPayload{
			CallID:       "c1",
			RecordingURL: "https://media.ringover.test/r1",
		})
		assert.ErrorIs(t, handler.Handle(context.Background(), task), apperrors.ErrNonRetryable)
	})

	t.Run("missing recording url is non-retryable", func(t *testing.T) {
		handler := NewRecordingDownloadHandler(&MockHTTPClient{}, &MockEnqueuer{}, testConfig())

		task := newTask(t, TaskTypeRecordingDownload, RecordingDownloadPayload{CallID: "c1"})
		assert.ErrorIs(t, handler.Handle(context.Background(), task), apperrors.ErrNonRetryable)
	})
}

func TestTranscriptionHandler(t *testing.T) {
	t.Run("posts multipart form and enqueues crm sync", func(t *testing.T) {
		client := &MockHTTPClient{}
		queue := &MockEnqueuer{}
		handler := NewTranscriptionHandler(client, queue, testConfig())

		client.On("Post", mock.Anything, "https://api.openai.test/v1/audio/transcriptions",
			mock.MatchedBy(func(opts httpclient.Options) bool {
				contentType := opts.Headers.Get("Content-Type")
				body := string(opts.Body)
				return opts.Service == "openai" &&
					strings.HasPrefix(contentType, "multipart/form-data") &&
					strings.Contains(body, "whisper-1") &&
					strings.Contains(body, `filename="c1.mp3"`)
			})).Return(&httpclient.Response{StatusCode: 200, Body: []byte(`{"text":"hello world"}`)}, nil)

		queue.On("Enqueue", mock.Anything, TaskTypeCRMSync,
			mock.MatchedBy(func(data any) bool {
				payload, ok := data.(CRMSyncPayload)
				return ok && payload.CallID == "c1" && payload.Transcript == "hello world"
			}), mock.Anything).Return(&taskDomain.Task{}, nil)

		task := newTask(t, TaskTypeTranscription, TranscriptionPayload{
			CallID: "c1",
			Audio:  base64.StdEncoding.EncodeToString([]byte("fake-mp3-bytes")),
		})
		require.NoError(t, handler.Handle(context.Background(), task))
		queue.AssertExpectations(t)
	})

	t.Run("invalid base64 audio is non-retryable", func(t *testing.T) {
		handler := NewTranscriptionHandler(&MockHTTPClient{}, &MockEnqueuer{}, testConfig())

		task := newTask(t, TaskTypeTranscription, TranscriptionPayload{CallID: "c1", Audio: "%%%"})
		assert.ErrorIs(t, handler.Handle(context.Background(), task), apperrors.ErrNonRetryable)
	})
}

func TestCRMSyncHandler(t *testing.T) {
	t.Run("transcript becomes a note", func(t *testing.T) {
		client := &MockHTTPClient{}
		handler := NewCRMSyncHandler(client, testConfig())

		client.On("Post", mock.Anything, "https://api.pipedrive.test/v1/notes",
			mock.MatchedBy(func(opts httpclient.Options) bool {
				note, ok := opts.JSON.(map[string]any)
				return ok && opts.Query.Get("api_token") == "pipedrive-token" &&
					note["content"] == "hello world" &&
					note["deal_id"] == int64(42)
			})).Return(&httpclient.Response{StatusCode: 201}, nil)

		task := newTask(t, TaskTypeCRMSync, CRMSyncPayload{
			CallID:     "c1",
			Transcript: "hello world",
			DealID:     42,
		})
		require.NoError(t, handler.Handle(context.Background(), task))
		client.AssertExpectations(t)
	})

	t.Run("webhook deal body passes through to deals endpoint", func(t *testing.T) {
		client := &MockHTTPClient{}
		handler := NewCRMSyncHandler(client, testConfig())

		client.On("Post", mock.Anything, "https://api.pipedrive.test/v1/deals", mock.Anything).
			Return(&httpclient.Response{StatusCode: 200}, nil)

		body := []byte(`{"deal_id":42,"event":"deal_updated","timestamp":"t1"}`)
		corrID := "corr-1"
		task := &taskDomain.Task{
			ID:            uuid.Must(uuid.NewV7()),
			TaskType:      "pipedrive.deal_updated",
			TaskData:      body,
			CorrelationID: &corrID,
		}

		require.NoError(t, handler.Handle(context.Background(), task))
		client.AssertExpectations(t)
	})

	t.Run("payload with neither transcript nor deal is non-retryable", func(t *testing.T) {
		handler := NewCRMSyncHandler(&MockHTTPClient{}, testConfig())

		task := newTask(t, TaskTypeCRMSync, map[string]any{"other": true})
		assert.ErrorIs(t, handler.Handle(context.Background(), task), apperrors.ErrNonRetryable)
	})
}

func TestRegisterAll(t *testing.T) {
	registry := taskUseCase.NewRegistry()
	RegisterAll(registry, &MockHTTPClient{}, &MockEnqueuer{}, testConfig())

	for _, taskType := range []string{
		TaskTypeCallSync,
		TaskTypeRecordingDownload,
		TaskTypeTranscription,
		TaskTypeCRMSync,
		"ringover.recording.available",
		"pipedrive.deal_updated",
	} {
		_, ok := registry.Resolve(taskType)
		assert.True(t, ok, taskType)
	}
}
