package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

const paidPage = `<html lang="en"><body>
<div><span class="price">$10.00</span></div>
<div class="delivery-price">%s</div>
</body></html>`

func writePage(t *testing.T, path, delivery string) {
	t.Helper()
	page := bytes.ReplaceAll([]byte(paidPage), []byte("%s"), []byte(delivery))
	require.NoError(t, os.WriteFile(path, page, 0644))
}

func TestFileMutationsNotifiesOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	writePage(t, path, "$1.00")

	var notified atomic.Int64
	stop, err := NewFileMutations(path, zap.NewNop()).Subscribe(context.Background(), func() { notified.Add(1) }, nil)
	require.NoError(t, err)

	writePage(t, path, "$2.00")
	assert.Eventually(t, func() bool { return notified.Load() > 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, stop())
}

func TestFileMutationsIgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	writePage(t, path, "$1.00")

	var notified atomic.Int64
	stop, err := NewFileMutations(path, nil).Subscribe(context.Background(), func() { notified.Add(1) }, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.html"), []byte("x"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, notified.Load())

	require.NoError(t, stop())
}

func TestFileMutationsMissingDirectory(t *testing.T) {
	_, err := NewFileMutations(filepath.Join(t.TempDir(), "nope", "page.html"), nil).
		Subscribe(context.Background(), func() {}, nil)
	assert.Error(t, err)
}

func TestFollowFileReannotates(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	in := filepath.Join(dir, "page.html")
	out := filepath.Join(dir, "annotated.out")
	writePage(t, in, "$5.00")

	p := newTestPipeline()
	run := func(ctx context.Context) {
		doc, err := parseHTMLFile(in)
		if err != nil {
			return
		}
		if _, err := p.Run(ctx, doc); err != nil {
			return
		}
		_ = writeDocument(nil, out, doc)
	}

	w := NewChangeWatcher(run,
		WithQuietPeriod(20*time.Millisecond),
		WithMutationSource(NewFileMutations(in, nil)))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total with shipping: $15.00")

	writePage(t, in, "$7.00")
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(out)
		return err == nil && bytes.Contains(data, []byte("Total with shipping: $17.00"))
	}, 2*time.Second, 10*time.Millisecond)
}
