package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetlight-api/internal/notify"
	"streetlight-api/internal/reconcile"
)

func TestWebhook_PostsSignedEvent(t *testing.T) {
	var gotBody []byte
	var gotSig, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		gotID = r.Header.Get("X-Event-Id")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(srv.URL, "s3cret")
	ev := reconcile.MutationEvent{EventID: "ev-1", Action: "new", LightID: "01001", At: time.Unix(0, 0).UTC()}
	require.NoError(t, wh.Publish(context.Background(), ev))

	var decoded reconcile.MutationEvent
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "01001", decoded.LightID)
	assert.Equal(t, "ev-1", gotID)
	assert.Equal(t, notify.Sign([]byte("s3cret"), gotBody), gotSig)
	require.NoError(t, wh.Ping(context.Background()))
}

func TestWebhook_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	err := notify.NewWebhook(srv.URL, "").Publish(context.Background(), reconcile.MutationEvent{Action: "update"})
	assert.Error(t, err)
}

type stubSink struct {
	name string
	err  error
	got  []reconcile.MutationEvent
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Publish(_ context.Context, ev reconcile.MutationEvent) error {
	s.got = append(s.got, ev)
	return s.err
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	bad := &stubSink{name: "bad", err: errors.New("down")}
	good := &stubSink{name: "good"}
	f := notify.NewFanout(time.Second, bad, good)
	assert.Equal(t, 2, f.Len())

	err := f.Publish(context.Background(), reconcile.MutationEvent{Action: "deleteLight"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, bad.got, 1)
	assert.Len(t, good.got, 1)

	assert.NoError(t, notify.NewFanout(0).Publish(context.Background(), reconcile.MutationEvent{}))
}

func TestNATS_SubjectAndDisconnected(t *testing.T) {
	n := notify.NewNATS(nil, "")
	assert.Equal(t, "streetlight.mutations.batchDelete", n.Subject("batchDelete"))
	assert.Error(t, n.Publish(context.Background(), reconcile.MutationEvent{Action: "new"}))
	assert.Error(t, n.Ping(context.Background()))
}
