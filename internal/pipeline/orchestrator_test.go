package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookguard/internal/dedup"
	"github.com/mattjoyce/hookguard/internal/event"
	"github.com/mattjoyce/hookguard/internal/metrics"
	"github.com/mattjoyce/hookguard/internal/pipeline/mocks"
	"github.com/mattjoyce/hookguard/internal/verify"
)

const (
	testKey   = "kl9t9Mq0ZLT5nkCaS8pVXX7ZdLy6EbpT"
	testToken = "v-token"
)

var testNow = time.Unix(1_700_000_000, 0)

func eventPlaintext(eventID, token string) []byte {
	b, _ := json.Marshal(map[string]any{
		"schema": "2.0",
		"header": map[string]any{
			"event_id":    eventID,
			"event_type":  "im.message.receive_v1",
			"create_time": "1700000000000",
			"token":       token,
			"app_id":      "cli_a",
		},
		"event": map[string]any{"text": "hi"},
	})
	return b
}

// signedRequest encrypts plaintext and signs the resulting body as the
// platform would.
func signedRequest(t *testing.T, ts time.Time, nonce string, plaintext []byte) Request {
	t.Helper()
	c, err := verify.NewCipher(testKey)
	require.NoError(t, err)
	enc, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	body := `{"encrypt":"` + enc + `"}`
	tsStr := strconv.FormatInt(ts.Unix(), 10)
	return Request{
		Timestamp: tsStr,
		Nonce:     nonce,
		Body:      body,
		Encrypt:   enc,
		Signature: verify.Sign(tsStr, nonce, testKey, body),
	}
}

type fixture struct {
	orch   *Orchestrator
	sink   *metrics.Sink
	events *dedup.EventDeduplicator
}

func newFixture(t *testing.T, policy FailurePolicy, store dedup.Store) fixture {
	t.Helper()
	if store == nil {
		store = dedup.NewMemoryStore()
	}
	ks := dedup.DefaultKeyspace()
	events := dedup.NewEventDeduplicator(store, ks, time.Hour, time.Second)
	sink := metrics.NewSink("test")
	orch, err := New(Config{
		VerificationToken: testToken,
		EncryptKey:        testKey,
		Tolerance:         300,
		FailurePolicy:     policy,
		Now:               func() time.Time { return testNow },
	}, Deps{
		Nonces:  dedup.NewNonceGuard(store, ks, 5*time.Minute, time.Second),
		Events:  events,
		Metrics: sink,
	})
	require.NoError(t, err)
	return fixture{orch: orch, sink: sink, events: events}
}

func requireRejection(t *testing.T, err error, kind error) *Rejection {
	t.Helper()
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	require.ErrorIs(t, err, kind)
	return rej
}

func TestVerifyAdmitsValidEvent(t *testing.T) {
	f := newFixture(t, FailClosed, nil)
	req := signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken))

	res, err := f.orch.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ResultEvent, res.Kind)
	assert.Equal(t, "E1", res.Envelope.EventID)
	assert.Equal(t, "im.message.receive_v1", res.Envelope.EventType)
	assert.JSONEq(t, `{"text":"hi"}`, string(res.Envelope.Payload))
	assert.False(t, res.StoreDegraded)

	snap := f.sink.Snapshot()
	assert.Equal(t, uint64(1), snap.RequestsSeen)
	assert.Equal(t, uint64(1), snap.EventsSucceeded)
	assert.Zero(t, snap.EventsFailed)
}

func TestVerifyHandshakeEncrypted(t *testing.T) {
	f := newFixture(t, FailClosed, nil)
	plain := []byte(`{"challenge":"abc123","token":"` + testToken + `","type":"url_verification"}`)
	req := signedRequest(t, testNow, "n1", plain)

	res, err := f.orch.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ResultChallenge, res.Kind)
	assert.Equal(t, "abc123", res.Challenge)
	assert.Empty(t, res.Envelope.EventID)
	assert.Equal(t, uint64(1), f.sink.Get(metrics.Handshakes))

	// Handshakes never consume the nonce.
	res, err = f.orch.Verify(context.Background(), signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken)))
	require.NoError(t, err)
	assert.Equal(t, ResultEvent, res.Kind)
}

func TestVerifyHandshakePlaintext(t *testing.T) {
	f := newFixture(t, FailClosed, nil)

	res, err := f.orch.Verify(context.Background(), Request{Type: "url_verification", Token: testToken, Challenge: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", res.Challenge)

	_, err = f.orch.Verify(context.Background(), Request{Type: "url_verification", Token: "wrong", Challenge: "c-1"})
	requireRejection(t, err, ErrTokenMismatch)

	_, err = f.orch.Verify(context.Background(), Request{Type: "event_callback"})
	requireRejection(t, err, ErrMalformedRequest)
}

func TestVerifyReplayedRequest(t *testing.T) {
	f := newFixture(t, FailClosed, nil)
	req := signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken))

	_, err := f.orch.Verify(context.Background(), req)
	require.NoError(t, err)

	res, err := f.orch.Verify(context.Background(), req)
	rej := requireRejection(t, err, ErrReplayedNonce)
	assert.Equal(t, StageDecrypted, rej.Stage)
	assert.True(t, rej.Acknowledged())
	assert.Equal(t, Result{}, res)

	snap := f.sink.Snapshot()
	assert.Equal(t, uint64(1), snap.EventsSucceeded)
	assert.Equal(t, uint64(1), snap.ReplayedNonces)
	assert.Zero(t, snap.EventsFailed)
}

func TestVerifyDuplicateEventWithFreshNonce(t *testing.T) {
	f := newFixture(t, FailClosed, nil)

	_, err := f.orch.Verify(context.Background(), signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken)))
	require.NoError(t, err)

	_, err = f.orch.Verify(context.Background(), signedRequest(t, testNow, "n2", eventPlaintext("E1", testToken)))
	rej := requireRejection(t, err, ErrDuplicateEvent)
	assert.Equal(t, StageNonceChecked, rej.Stage)
	assert.Equal(t, uint64(1), f.sink.Get(metrics.DuplicateEvents))
}

func TestVerifyTokenMismatch(t *testing.T) {
	f := newFixture(t, FailClosed, nil)
	_, err := f.orch.Verify(context.Background(), signedRequest(t, testNow, "n1", eventPlaintext("E1", "other")))
	requireRejection(t, err, ErrTokenMismatch)

	admitted, err := f.events.IsAdmitted(context.Background(), "E1")
	require.NoError(t, err)
	assert.False(t, admitted)
}

func TestVerifyEmptyNonce(t *testing.T) {
	f := newFixture(t, FailClosed, nil)
	_, err := f.orch.Verify(context.Background(), signedRequest(t, testNow, "", eventPlaintext("E1", testToken)))
	requireRejection(t, err, ErrMalformedRequest)
}

func TestVerifyConcurrentDuplicatesAdmitOnce(t *testing.T) {
	f := newFixture(t, FailClosed, nil)

	var mu sync.Mutex
	admitted := 0
	var wg sync.WaitGroup
	for i := range 20 {
		req := signedRequest(t, testNow, "n"+strconv.Itoa(i), eventPlaintext("E1", testToken))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.Verify(context.Background(), req); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
	assert.Equal(t, uint64(19), f.sink.Get(metrics.DuplicateEvents))
}

// failingStore always reports the backend as down.
type failingStore struct{}

func (failingStore) TryMarkAsProcessed(context.Context, string, time.Duration) (bool, error) {
	return false, errors.Join(dedup.ErrStoreUnavailable, errors.New("connection refused"))
}
func (failingStore) Exists(context.Context, string) (bool, error) { return false, dedup.ErrStoreUnavailable }
func (failingStore) Release(context.Context, string) error        { return dedup.ErrStoreUnavailable }
func (failingStore) CleanupExpired(context.Context) (int, error) { return 0, nil }
func (failingStore) Close() error                                { return nil }

func TestVerifyStoreUnavailableFailClosed(t *testing.T) {
	f := newFixture(t, FailClosed, failingStore{})

	_, err := f.orch.Verify(context.Background(), signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken)))
	rej := requireRejection(t, err, ErrStoreUnavailable)
	assert.False(t, rej.Acknowledged())

	snap := f.sink.Snapshot()
	assert.Equal(t, uint64(1), snap.StoreUnavailable)
	assert.Equal(t, uint64(1), snap.EventsFailed)
}

// flakyEventStore fails the first event mark and behaves normally after.
type flakyEventStore struct {
	dedup.Store
	mu     sync.Mutex
	failed bool
}

func (s *flakyEventStore) TryMarkAsProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	fail := !s.failed && strings.Contains(key, ":event:")
	if fail {
		s.failed = true
	}
	s.mu.Unlock()
	if fail {
		return false, fmt.Errorf("%w: connection reset", dedup.ErrStoreUnavailable)
	}
	return s.Store.TryMarkAsProcessed(ctx, key, ttl)
}

func TestVerifyRetryAfterEventStoreFailure(t *testing.T) {
	f := newFixture(t, FailClosed, &flakyEventStore{Store: dedup.NewMemoryStore()})
	req := signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken))

	_, err := f.orch.Verify(context.Background(), req)
	rej := requireRejection(t, err, ErrStoreUnavailable)
	assert.Equal(t, StageNonceChecked, rej.Stage)
	assert.False(t, rej.Acknowledged())

	// The sender retries the identical request; it must not be a replay.
	res, err := f.orch.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "E1", res.Envelope.EventID)

	_, err = f.orch.Verify(context.Background(), req)
	requireRejection(t, err, ErrReplayedNonce)
}

func TestScenarioEventStoreFailureReleasesNonce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	orch, v, d, n, e := newMockedOrchestrator(t, ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	msg := event.Message{Token: testToken, Envelope: event.Envelope{EventID: "E1"}}
	v.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true)
	d.EXPECT().Open("ct").Return(msg, nil)
	n.EXPECT().TryConsume(gomock.Any(), "n1").Return(true, nil)
	e.EXPECT().TryAdmit(gomock.Any(), "E1").DoAndReturn(func(context.Context, string) (bool, error) {
		cancel()
		return false, dedup.ErrStoreUnavailable
	})
	n.EXPECT().Release(gomock.Any(), "n1").DoAndReturn(func(ctx context.Context, _ string) error {
		assert.NoError(t, ctx.Err(), "release must outlive the request context")
		return nil
	})

	_, err := orch.Verify(ctx, mockRequest(testNow))
	requireRejection(t, err, ErrCancelled)
}

func TestVerifyStoreUnavailableFailOpen(t *testing.T) {
	f := newFixture(t, FailOpen, failingStore{})

	res, err := f.orch.Verify(context.Background(), signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken)))
	require.NoError(t, err)
	assert.True(t, res.StoreDegraded)
	assert.Equal(t, "E1", res.Envelope.EventID)

	// Both guards failed.
	assert.Equal(t, uint64(2), f.sink.Get(metrics.StoreUnavailable))
}

func TestVerifyCancelledContext(t *testing.T) {
	f := newFixture(t, FailOpen, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Verify(ctx, signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken)))
	requireRejection(t, err, ErrCancelled)
	assert.Equal(t, uint64(1), f.sink.Get(metrics.EventsCancelled))
}

func TestVerifyRotate(t *testing.T) {
	f := newFixture(t, FailClosed, nil)
	require.NoError(t, f.orch.Rotate("new-token", "new-key"))

	// Old key no longer verifies.
	_, err := f.orch.Verify(context.Background(), signedRequest(t, testNow, "n1", eventPlaintext("E1", testToken)))
	requireRejection(t, err, ErrSignatureMismatch)

	c, err := verify.NewCipher("new-key")
	require.NoError(t, err)
	enc, err := c.Encrypt(eventPlaintext("E2", "new-token"))
	require.NoError(t, err)
	ts := strconv.FormatInt(testNow.Unix(), 10)
	res, err := f.orch.Verify(context.Background(), Request{
		Timestamp: ts,
		Nonce:     "n2",
		Encrypt:   enc,
		Signature: verify.Sign(ts, "n2", "new-key", enc),
	})
	require.NoError(t, err)
	assert.Equal(t, "E2", res.Envelope.EventID)

	assert.Error(t, f.orch.Rotate("t", ""))
}

func TestNewValidation(t *testing.T) {
	store := dedup.NewMemoryStore()
	deps := Deps{
		Nonces: dedup.NewNonceGuard(store, dedup.DefaultKeyspace(), 0, 0),
		Events: dedup.NewEventDeduplicator(store, dedup.DefaultKeyspace(), 0, 0),
	}

	_, err := New(Config{EncryptKey: testKey, Tolerance: -1}, deps)
	assert.Error(t, err)

	_, err = New(Config{EncryptKey: testKey, FailurePolicy: "sometimes"}, deps)
	assert.Error(t, err)

	_, err = New(Config{}, deps)
	assert.Error(t, err, "encrypt key required when no verifier is injected")

	_, err = New(Config{EncryptKey: testKey}, Deps{})
	assert.Error(t, err)
}

// Call-count scenarios: each rejection must stop the pipeline before the
// next collaborator runs.
func newMockedOrchestrator(t *testing.T, ctrl *gomock.Controller) (*Orchestrator, *mocks.MockSignatureVerifier, *mocks.MockDecryptor, *mocks.MockNonceChecker, *mocks.MockEventAdmitter) {
	t.Helper()
	v := mocks.NewMockSignatureVerifier(ctrl)
	d := mocks.NewMockDecryptor(ctrl)
	n := mocks.NewMockNonceChecker(ctrl)
	e := mocks.NewMockEventAdmitter(ctrl)
	orch, err := New(Config{
		VerificationToken: testToken,
		Tolerance:         300,
		Now:               func() time.Time { return testNow },
	}, Deps{Verifier: v, Decryptor: d, Nonces: n, Events: e})
	require.NoError(t, err)
	return orch, v, d, n, e
}

func mockRequest(ts time.Time) Request {
	return Request{
		Timestamp: strconv.FormatInt(ts.Unix(), 10),
		Nonce:     "n1",
		Body:      `{"encrypt":"ct"}`,
		Encrypt:   "ct",
		Signature: "sig",
	}
}

func TestScenarioStaleTimestampShortCircuits(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	orch, v, d, n, e := newMockedOrchestrator(t, ctrl)

	v.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	d.EXPECT().Open(gomock.Any()).Times(0)
	n.EXPECT().TryConsume(gomock.Any(), gomock.Any()).Times(0)
	e.EXPECT().TryAdmit(gomock.Any(), gomock.Any()).Times(0)

	_, err := orch.Verify(context.Background(), mockRequest(testNow.Add(-301*time.Second)))
	rej := requireRejection(t, err, ErrTimestampOutOfRange)
	assert.Equal(t, StageReceived, rej.Stage)
}

func TestScenarioTamperedSignatureSkipsDecryption(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	orch, v, d, n, e := newMockedOrchestrator(t, ctrl)

	req := mockRequest(testNow)
	v.EXPECT().Verify(req.Timestamp, "n1", req.Body, "sig").Return(false).Times(1)
	d.EXPECT().Open(gomock.Any()).Times(0)
	n.EXPECT().TryConsume(gomock.Any(), gomock.Any()).Times(0)
	e.EXPECT().TryAdmit(gomock.Any(), gomock.Any()).Times(0)

	_, err := orch.Verify(context.Background(), req)
	rej := requireRejection(t, err, ErrSignatureMismatch)
	assert.Equal(t, StageTimestampChecked, rej.Stage)
}

func TestScenarioDecryptionFailureSkipsGuards(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	orch, v, d, n, e := newMockedOrchestrator(t, ctrl)

	v.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true)
	d.EXPECT().Open("ct").Return(event.Message{}, verify.ErrDecryption)
	n.EXPECT().TryConsume(gomock.Any(), gomock.Any()).Times(0)
	e.EXPECT().TryAdmit(gomock.Any(), gomock.Any()).Times(0)

	_, err := orch.Verify(context.Background(), mockRequest(testNow))
	requireRejection(t, err, ErrDecryption)
}

func TestScenarioHandshakeBypassesGuards(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	orch, v, d, n, e := newMockedOrchestrator(t, ctrl)

	v.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true)
	d.EXPECT().Open("ct").Return(event.Message{Type: event.TypeURLVerification, Challenge: "abc123", Token: testToken}, nil)
	n.EXPECT().TryConsume(gomock.Any(), gomock.Any()).Times(0)
	e.EXPECT().TryAdmit(gomock.Any(), gomock.Any()).Times(0)

	res, err := orch.Verify(context.Background(), mockRequest(testNow))
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.Challenge)
}

func TestScenarioReplayDispatchesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	orch, v, d, n, e := newMockedOrchestrator(t, ctrl)

	msg := event.Message{Type: "im.message.receive_v1", Token: testToken, Envelope: event.Envelope{EventID: "E1", EventType: "im.message.receive_v1"}}
	v.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true).Times(2)
	d.EXPECT().Open("ct").Return(msg, nil).Times(2)
	gomock.InOrder(
		n.EXPECT().TryConsume(gomock.Any(), "n1").Return(true, nil),
		n.EXPECT().TryConsume(gomock.Any(), "n1").Return(false, nil),
	)
	e.EXPECT().TryAdmit(gomock.Any(), "E1").Return(true, nil).Times(1)

	res, err := orch.Verify(context.Background(), mockRequest(testNow))
	require.NoError(t, err)
	assert.Equal(t, "E1", res.Envelope.EventID)

	_, err = orch.Verify(context.Background(), mockRequest(testNow))
	requireRejection(t, err, ErrReplayedNonce)
}

func TestScenarioCancelledDuringStoreCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	orch, v, d, n, e := newMockedOrchestrator(t, ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	msg := event.Message{Token: testToken, Envelope: event.Envelope{EventID: "E1"}}
	v.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true)
	d.EXPECT().Open("ct").Return(msg, nil)
	n.EXPECT().TryConsume(gomock.Any(), "n1").DoAndReturn(func(context.Context, string) (bool, error) {
		cancel()
		return false, dedup.ErrStoreUnavailable
	})
	e.EXPECT().TryAdmit(gomock.Any(), gomock.Any()).Times(0)

	_, err := orch.Verify(ctx, mockRequest(testNow))
	requireRejection(t, err, ErrCancelled)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "received", StageReceived.String())
	assert.Equal(t, "admitted", StageAdmitted.String())
	assert.Equal(t, "stage(42)", Stage(42).String())
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailClosed, p)

	p, err = ParseFailurePolicy("open")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)

	_, err = ParseFailurePolicy("OPEN")
	assert.Error(t, err)
}
