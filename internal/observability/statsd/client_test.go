package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePrefix(t *testing.T) {
	for input, want := range map[string]string{
		"  regtech.engine  ": "regtech.engine",
		"..foo..":            "foo",
		".":                  "",
		"":                   "",
	} {
		assert.Equal(t, want, sanitizePrefix(input), input)
	}
}

func TestNormalizeMetricName(t *testing.T) {
	for input, want := range map[string]string{
		" job/metric ":  "job_metric",
		"foo..bar":      "foo.bar",
		"multi  space":  "multi__space",
		"slash/name/id": "slash_name_id",
	} {
		assert.Equal(t, want, normalizeMetricName(input), input)
	}
}

func TestFormatTags(t *testing.T) {
	global := map[string]string{"env": "prod", " service ": " dispatcher "}
	local := map[string]string{"result": " success ", "": "ignored", "env": "stage"}
	assert.Equal(t, "|#env:stage,result:success,service:dispatcher", formatTags(global, local))
	assert.Empty(t, formatTags(nil, nil))
}

func TestCloneTagsReturnsCopy(t *testing.T) {
	original := map[string]string{"env": "prod", "": "ignored"}
	cloned := cloneTags(original)
	cloned["env"] = "stage"
	assert.Equal(t, "prod", original["env"])
	assert.NotContains(t, cloned, "")
}

func TestClientWritesDatagrams(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "regtech",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Enabled())

	client.Count("job.transition", 2, map[string]string{"result": "success"})

	buf := make([]byte, 512)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "regtech.job.transition:2|c|#env:test,result:success", string(buf[:n]))
}

func TestClientCloseAndNil(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{conn: clientConn}
	assert.True(t, client.Enabled())
	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())
	require.NoError(t, client.Close())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	assert.NoError(t, nilClient.Close())
	assert.NotPanics(t, func() { nilClient.Count("x", 1, nil) })
}

func TestNewClientDisabled(t *testing.T) {
	client, err := NewClient(Config{Enabled: true, Address: "   "})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NotPanics(t, func() { client.Timing("x", time.Second, nil) })
}

func TestNewClientDialError(t *testing.T) {
	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd dial")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Count("reaper.jobs_deleted", 3, map[string]string{"status": "COMPLETED"})
	r.Count("reaper.jobs_deleted", 2, nil)
	r.Timing("job.duration", 1500*time.Millisecond, nil)

	assert.InDelta(t, 5.0, r.Sum("reaper.jobs_deleted"), 0.0001)
	points := r.Points()
	require.Len(t, points, 3)
	assert.Equal(t, "timing", points[2].Kind)
	assert.InDelta(t, 1500.0, points[2].Value, 0.0001)
}
