package logging_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covbench/covbench/internal/logging"
)

func TestForReturnsSameLog(t *testing.T) {
	dir, err := logging.NewDir(t.TempDir())
	require.NoError(t, err)
	defer dir.Close()

	l1, err := dir.For("pygments")
	require.NoError(t, err)
	l2, err := dir.For("pygments")
	require.NoError(t, err)
	assert.Same(t, l1, l2)
}

func TestStepWritesBeforeAndAfterLines(t *testing.T) {
	root := t.TempDir()
	dir, err := logging.NewDir(root)
	require.NoError(t, err)

	l, err := dir.For("demo")
	require.NoError(t, err)
	done := l.Step("install coverage %s", "753")
	done(nil)
	done = l.Step("run tests")
	done(fmt.Errorf("exit 1"))
	require.NoError(t, dir.Close())

	data, err := os.ReadFile(filepath.Join(root, "demo.log"))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "start: install coverage 753")
	assert.Contains(t, out, "done: install coverage 753")
	assert.Contains(t, out, "start: run tests")
	assert.Contains(t, out, "fail: run tests")
	assert.Contains(t, out, "exit 1")
}

func TestAppendAcrossSessions(t *testing.T) {
	root := t.TempDir()

	for i := 0; i < 2; i++ {
		dir, err := logging.NewDir(root)
		require.NoError(t, err)
		l, err := dir.For("demo")
		require.NoError(t, err)
		l.Printf("session %d", i)
		require.NoError(t, dir.Close())
	}

	data, err := os.ReadFile(filepath.Join(root, "demo.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "session 0")
	assert.Contains(t, string(data), "session 1")
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	root := t.TempDir()
	dir, err := logging.NewDir(root)
	require.NoError(t, err)

	l, err := dir.For("demo")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Printf("worker=%d line=%d %s", w, i, strings.Repeat("x", 80))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, dir.Close())

	data, err := os.ReadFile(filepath.Join(root, "demo.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 8*50)
	for _, line := range lines {
		assert.Contains(t, line, "worker=")
		assert.True(t, strings.HasSuffix(line, strings.Repeat("x", 80)), "torn line: %q", line)
	}
}
