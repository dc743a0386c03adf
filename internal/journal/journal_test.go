package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "outcomes.log")

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	require.NoError(t, j.Append(Entry{IssueType: "DDoS", Status: "success"}))

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestChainIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.log")
	j, err := Open(path)
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, kind := range []string{"DDoS", "Port Scan", "DNS Tunneling"} {
		require.NoError(t, j.Append(Entry{
			Timestamp:  now.Add(time.Duration(i) * time.Second),
			DeliveryID: fmt.Sprintf("d%d", i),
			IssueType:  kind,
			Status:     "success",
			Actions:    []string{"scale_to(shop/checkout)"},
		}))
	}
	require.NoError(t, j.Close())

	n, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestChainContinuesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.log")

	j1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j1.Append(Entry{IssueType: "DDoS", Status: "success"}))
	require.NoError(t, j1.Append(Entry{IssueType: "ICMP Flood", Status: "failed: boom"}))
	require.NoError(t, j1.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j2.Append(Entry{IssueType: "Port Scan", Status: "success"}))
	require.NoError(t, j2.Close())

	n, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.log")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(Entry{IssueType: "DDoS", Status: "failed: quota"}))
	require.NoError(t, j.Append(Entry{IssueType: "DDoS", Status: "success"}))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "failed: quota", "success", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	n, err := Verify(path)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Contains(t, err.Error(), "line 1")
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.log")
	j, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := range n {
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, j.Append(Entry{DeliveryID: fmt.Sprintf("d%d", i), IssueType: "DDoS", Status: "success"}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, j.Close())

	count, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}
