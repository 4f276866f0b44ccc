package decay

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/natsclient"
	"github.com/c360/polestream/processor/base"
)

func expanded(temp, hum float64) float64 {
	du := 0.0
	if hum >= 25 {
		du = 6.75e-10*math.Pow(hum, 5) - 3.5e-7*math.Pow(hum, 4) + 7.18e-5*math.Pow(hum, 3) -
			7.22e-3*hum*hum + 0.34*hum - 4.98
	}
	dt := 0.0
	if temp >= 0 && temp <= 40 {
		dt = -1.8e-6*math.Pow(temp, 4) + 9.57e-5*math.Pow(temp, 3) - 1.55e-3*temp*temp + 4.17e-2*temp
	}
	return (3.2*dt + du) / 4.2
}

func TestCompute(t *testing.T) {
	for _, c := range []struct{ temp, hum float64 }{
		{22.5, 55}, {0, 25}, {40, 100}, {15, 80}, {-5, 60}, {45, 60}, {20, 24.9}, {30, 0},
	} {
		assert.InDelta(t, expanded(c.temp, c.hum), Compute(c.temp, c.hum), 1e-12, "%v", c)
	}
	assert.Zero(t, Compute(-1, 10), "out of range on both terms")
	assert.Zero(t, TemperatureTerm(40.01))
	assert.Zero(t, HumidityTerm(24.99))
	assert.Greater(t, TemperatureTerm(25), 0.0)
}

func TestParseReading(t *testing.T) {
	s, ok := parseReading([]byte(`{"id":"P1","temperature":22.5,"humidity":55,"tilt":1,"timestamp":1000.9}`))
	require.True(t, ok)
	assert.Equal(t, "P1", s.PoleID)
	assert.Equal(t, int64(1000), s.Timestamp)
	assert.InDelta(t, Compute(22.5, 55), s.Decay, 1e-12)

	s, ok = parseReading([]byte(`{"pole_id":3,"temperature":10,"humidity":30,"timestamp":5}`))
	require.True(t, ok)
	assert.Equal(t, "3", s.PoleID)

	for _, bad := range []string{
		`{"id":"P1","message":"config","temperature":1,"humidity":1,"timestamp":1}`,
		`{"id":"P1","humidity":55,"timestamp":1}`,
		`{"id":"P1","temperature":20,"timestamp":1}`,
		`{"id":"P1","temperature":20,"humidity":55}`,
		`{"temperature":20,"humidity":55,"timestamp":1}`,
		`nope`,
	} {
		_, ok := parseReading([]byte(bad))
		assert.False(t, ok, bad)
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	subs []Submission
	err  error
}

func (f *fakeWriter) SubmitDecay(ctx context.Context, poleID string, ts int64, decay float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return "", fmt.Errorf("submission without a deadline")
	}
	if f.err != nil {
		return "", f.err
	}
	f.subs = append(f.subs, Submission{PoleID: poleID, Timestamp: ts, Decay: decay})
	return "cached_waiting_telemetry", nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func newTestWorker(t *testing.T, fw *fakeWriter) *Worker {
	t.Helper()
	proc := base.New(Info)
	proc.SetTopics("poleData")
	w, err := New(proc, fw, 2*time.Second, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWorker_SubmitsDecay(t *testing.T) {
	fw := &fakeWriter{}
	w := newTestWorker(t, fw)
	assert.Equal(t, []string{"poleData/#"}, w.SubscriptionPatterns())

	w.OnMessage(context.Background(), natsclient.Message{
		Topic: "poleData/Piemonte/P1/gw",
		Data:  []byte(`{"id":"P1","temperature":22.5,"humidity":55,"timestamp":1000}`),
	})
	w.OnMessage(context.Background(), natsclient.Message{
		Topic: "poleData/Piemonte/P1/gw",
		Data:  []byte(`{"id":"P1","message":"config"}`),
	})

	require.Eventually(t, func() bool { return fw.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	fw.mu.Lock()
	assert.Equal(t, "P1", fw.subs[0].PoleID)
	assert.Equal(t, int64(1000), fw.subs[0].Timestamp)
	fw.mu.Unlock()
	assert.Eventually(t, func() bool { return w.Processed() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWorker_WriterErrorsAreCounted(t *testing.T) {
	fw := &fakeWriter{err: fmt.Errorf("writer down")}
	w := newTestWorker(t, fw)

	w.OnMessage(context.Background(), natsclient.Message{
		Topic: "poleData/Z/P1/gw",
		Data:  []byte(`{"id":"P1","temperature":22.5,"humidity":55,"timestamp":1000}`),
	})
	require.Eventually(t, func() bool { return w.Errors() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, fw.count())
}
