package modeladapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/message"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
	"github.com/Chanpoe/ModelHub/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultClient(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)
	assert.Nil(t, a.Client)
}

func TestNew_ModelFields(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)
	a.Name = "gpt-4"
	temp := 0.7
	a.Temperature = &temp
	a.MaxTokens = 1024

	assert.Equal(t, "gpt-4", a.Name)
	require.NotNil(t, a.Temperature)
	assert.InDelta(t, 0.7, *a.Temperature, 1e-9)
	assert.Nil(t, a.TopP)
	assert.Equal(t, 1024, a.MaxTokens)
	assert.Equal(t, "gpt-4", a.ModelName())
}

func TestNewRequest_BearerAuth(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{Key: "sk-test"}, nil)

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/chat", req.URL.String())
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
}

func TestNewRequest_CustomHeader(t *testing.T) {
	auth := modeladapter.Auth{Key: "sk-test", Header: "x-api-key"}
	a := modeladapter.New("https://api.example.com", auth, nil)

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", req.Header.Get("x-api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestNewRequest_CustomHeaderWithScheme(t *testing.T) {
	auth := modeladapter.Auth{Key: "sk-test", Header: "x-api-key", Scheme: "Token"}
	a := modeladapter.New("https://api.example.com", auth, nil)

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "Token sk-test", req.Header.Get("x-api-key"))
}

func TestNewRequest_NoAuth(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestNewRequest_ExtraHeaders(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)
	a.Headers = map[string]string{
		"anthropic-version": "2024-01-01",
		"x-custom":          "value",
	}

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/v1/chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", req.Header.Get("anthropic-version"))
	assert.Equal(t, "value", req.Header.Get("x-custom"))
}

func TestDo_Passthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	req, err := a.NewRequest(context.Background(), http.MethodGet, "/ping", nil)
	require.NoError(t, err)

	resp, err := a.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestPostJSON_Success(t *testing.T) {
	type reqBody struct {
		Model string `json:"model"`
	}
	type respBody struct {
		ID string `json:"id"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got reqBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "gpt-4", got.Model)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(respBody{ID: "chatcmpl-123"})
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{Key: "sk-test"}, srv.Client())

	var dest respBody
	err := a.PostJSON(context.Background(), "/v1/chat", reqBody{Model: "gpt-4"}, &dest)
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-123", dest.ID)
}

func TestPostJSON_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	var dest map[string]string
	err := a.PostJSON(context.Background(), "/v1/chat", map[string]string{"model": "gpt-4"}, &dest)
	assert.ErrorIs(t, err, modeladapter.ErrBackendUnavailable)
	assert.ErrorContains(t, err, "status 401")

	var aerr *modeladapter.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusUnauthorized, aerr.Status)
}

func TestPostJSON_MarshalError(t *testing.T) {
	a := modeladapter.New("https://api.example.com", modeladapter.Auth{}, nil)

	err := a.PostJSON(context.Background(), "/v1/chat", make(chan int), nil)
	assert.ErrorIs(t, err, modeladapter.ErrMalformedResponse)
	assert.ErrorContains(t, err, "marshal payload")
}

func TestPostJSON_NilDest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/v1/chat", map[string]string{"model": "gpt-4"}, nil)
	assert.NoError(t, err)
}

func TestPostJSON_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	err := a.PostJSON(context.Background(), "/v1/chat", map[string]string{}, nil)
	require.ErrorIs(t, err, modeladapter.ErrBackendUnavailable)

	var rle *modeladapter.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
	assert.Equal(t, "slow down", rle.Body)
}

func TestPostJSON_UndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	var dest map[string]any
	err := a.PostJSON(context.Background(), "/v1/chat", map[string]string{}, &dest)
	assert.ErrorIs(t, err, modeladapter.ErrMalformedResponse)
	assert.NotErrorIs(t, err, modeladapter.ErrBackendUnavailable)
}

func TestPostJSON_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := modeladapter.New(url, modeladapter.Auth{}, nil)

	err := a.PostJSON(context.Background(), "/v1/chat", map[string]string{}, nil)
	assert.ErrorIs(t, err, modeladapter.ErrBackendUnavailable)
}

func TestPostJSON_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.PostJSON(ctx, "/v1/chat", map[string]string{}, nil)
	assert.ErrorIs(t, err, modeladapter.ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostJSON_StoresRateLimitInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-ratelimit-remaining-requests", "9")
		w.Header().Set("x-ratelimit-remaining-tokens", "900")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := modeladapter.New(srv.URL, modeladapter.Auth{}, srv.Client())
	a.HeaderParser = modeladapter.ParseOpenAIRateLimitHeaders

	assert.Nil(t, a.LastRateLimitInfo())
	require.NoError(t, a.PostJSON(context.Background(), "/v1/chat", map[string]string{}, nil))

	info := a.LastRateLimitInfo()
	require.NotNil(t, info)
	assert.Equal(t, 9, info.RemainingRequests)
	assert.Equal(t, 900, info.RemainingTokens)
}

// --- Turn / capabilities ---

func TestTurn_AppendsPendingUserMessage(t *testing.T) {
	var a modeladapter.ModelAdapter

	c := chat.New()
	require.NoError(t, c.Append(
		message.NewText(role.System, "sys"),
		message.NewText(role.User, "one"),
		message.NewText(role.Assistant, "two"),
	))

	msgs, err := a.Turn(c, []content.Part{content.Text{Text: "three"}})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, role.User, msgs[3].Role)
	assert.Equal(t, "three", msgs[3].TextContent())
	assert.Equal(t, 3, c.Len(), "history must not change")
}

func TestTurn_NilHistory(t *testing.T) {
	var a modeladapter.ModelAdapter

	msgs, err := a.Turn(nil, []content.Part{content.Text{Text: "hi"}})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestTurn_EmptyInput(t *testing.T) {
	var a modeladapter.ModelAdapter

	_, err := a.Turn(chat.New(), nil)
	assert.ErrorIs(t, err, modeladapter.ErrEmptyInput)
}

func TestTurn_ImagesRequireCapability(t *testing.T) {
	img := content.Image{URL: "https://example.com/a.png"}
	input := []content.Part{content.Text{Text: "look"}, img}

	var textOnly modeladapter.ModelAdapter
	_, err := textOnly.Turn(chat.New(), input)
	assert.ErrorIs(t, err, modeladapter.ErrUnsupportedContent)

	vision := modeladapter.ModelAdapter{Capabilities: modeladapter.Capabilities{Images: true}}
	msgs, err := vision.Turn(chat.New(), input)
	require.NoError(t, err)
	assert.True(t, msgs[0].HasImages())
}

func TestTurn_RejectsImagesInHistory(t *testing.T) {
	c := chat.New()
	require.NoError(t, c.Append(
		message.New(role.User, content.Image{URL: "https://example.com/a.png"}),
		message.NewText(role.Assistant, "a cat"),
	))

	var textOnly modeladapter.ModelAdapter
	_, err := textOnly.Turn(c, []content.Part{content.Text{Text: "and now?"}})
	assert.ErrorIs(t, err, modeladapter.ErrUnsupportedContent)
}

type audioPart struct{}

func (audioPart) PartKind() string { return "audio" }

func TestCapabilities_Check(t *testing.T) {
	caps := modeladapter.Capabilities{Images: true}

	assert.NoError(t, caps.Check([]content.Part{content.Text{Text: "x"}, content.Image{Data: []byte("x")}}))
	assert.ErrorIs(t, caps.Check([]content.Part{audioPart{}}), modeladapter.ErrUnsupportedContent)
	assert.ErrorIs(t, caps.Check([]content.Part{content.Image{}}), modeladapter.ErrUnsupportedContent)
	assert.ErrorIs(t, caps.Check([]content.Part{nil}), modeladapter.ErrUnsupportedContent)
}

// --- errors ---

func TestError_Kinds(t *testing.T) {
	cause := errors.New("boom")

	err := modeladapter.Unavailable(cause)
	assert.ErrorIs(t, err, modeladapter.ErrBackendUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, modeladapter.ErrMalformedResponse)
	assert.EqualError(t, err, "backend unavailable: boom")

	err = modeladapter.Malformed("missing %s", "choices")
	assert.ErrorIs(t, err, modeladapter.ErrMalformedResponse)
	assert.EqualError(t, err, "malformed backend response: missing choices")

	err = modeladapter.Unsupported("images")
	assert.ErrorIs(t, err, modeladapter.ErrUnsupportedContent)
}

func TestError_WithStatus(t *testing.T) {
	err := &modeladapter.Error{Kind: modeladapter.ErrBackendUnavailable, Status: 503, Err: errors.New("down")}
	assert.EqualError(t, err, "backend unavailable (status 503): down")
}

func TestRateLimitError_IsBackendUnavailable(t *testing.T) {
	err := &modeladapter.RateLimitError{Body: "x"}
	assert.ErrorIs(t, err, modeladapter.ErrBackendUnavailable)
}

// --- usage estimation ---

func TestEstimateUsage(t *testing.T) {
	var a modeladapter.ModelAdapter

	prompt := []message.Message{message.NewText(role.User, "Hello")}
	reply := message.NewText(role.Assistant, "Hi there")

	tc := a.EstimateUsage(prompt, reply)
	assert.True(t, tc.Estimated)
	assert.Positive(t, tc.InputTokens)
	assert.Positive(t, tc.OutputTokens)
}
