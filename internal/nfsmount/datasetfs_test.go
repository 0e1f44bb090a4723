package nfsmount

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/param"
)

const runDir = "/sub-01/ses-01/T1w/run-01"

func newTestFS(t *testing.T) *DatasetFS {
	t.Helper()
	ds := dataset.New("study", "bids", "/bids")
	r := dataset.NewRun("run-01", param.Params{"RepetitionTime": param.Float(2300, "ms")})
	r.AddFile("/bids/sub-01/ses-01/anat/sub-01_ses-01_T1w.json")
	_, c := ds.AddRun("sub-01", "ses-01", "T1w", r)
	require.Nil(t, c)
	_, c = ds.AddRun("sub-02", "ses-01", "T1w", dataset.NewRun("run-01", nil))
	require.Nil(t, c)

	fs, err := NewDatasetFS(ds)
	require.NoError(t, err)
	return fs
}

func names(infos []os.FileInfo) []string {
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.Name()
	}
	return out
}

func TestStat(t *testing.T) {
	fs := newTestFS(t)

	info, err := fs.Stat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	info, err = fs.Stat("sub-01/ses-01")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "ses-01", info.Name())

	info, err = fs.Stat(runDir + "/params.json")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o444), info.Mode())
	assert.Positive(t, info.Size())

	info, err = fs.Stat(SummaryFile)
	require.NoError(t, err)
	assert.Equal(t, "_dataset.json", info.Name())

	_, err = fs.Stat("/sub-03")
	assert.True(t, os.IsNotExist(err))
}

func TestReadDir(t *testing.T) {
	fs := newTestFS(t)

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"_dataset.json", "sub-01", "sub-02"}, names(entries))

	entries, err = fs.ReadDir("/sub-01/ses-01/T1w")
	require.NoError(t, err)
	assert.Equal(t, []string{"_sequence.json", "run-01"}, names(entries))

	entries, err = fs.ReadDir(runDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"params.json", "files"}, names(entries))

	_, err = fs.ReadDir(runDir + "/params.json")
	assert.Error(t, err)
	_, err = fs.ReadDir("/missing")
	assert.True(t, os.IsNotExist(err))
}

func TestOpenAndRead(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Open(runDir + "/files")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "/bids/sub-01/ses-01/anat/sub-01_ses-01_T1w.json\n", string(data))

	pos, err := f.Seek(6, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)
	buf := make([]byte, 6)
	n, _ := f.Read(buf)
	assert.Equal(t, "sub-01", string(buf[:n]))

	n, err = f.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "bids/s", string(buf[:n]))

	_, err = fs.Open(runDir)
	assert.Error(t, err, "directories cannot be opened as files")
	_, err = fs.Open("/nonexistent")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Open(SummaryFile)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)

	var summary dataset.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "study", summary.Name)
	assert.Equal(t, 2, summary.Subjects)
	assert.Equal(t, 2, summary.Runs)
}

func TestReadOnly(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.Create("newfile.txt")
	assert.Equal(t, errReadOnly, err)
	_, err = fs.OpenFile(runDir+"/params.json", os.O_RDWR, 0)
	assert.Equal(t, errReadOnly, err)
	assert.Equal(t, errReadOnly, fs.MkdirAll("/newdir", 0o755))
	assert.Equal(t, errReadOnly, fs.Remove(runDir+"/params.json"))
	assert.Equal(t, errReadOnly, fs.Rename("/sub-01", "/renamed"))

	f, err := fs.Open(runDir + "/params.json")
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	assert.Equal(t, errReadOnly, err)

	caps := fs.Capabilities()
	assert.NotZero(t, caps&2) // ReadCapability (1 << 1)
	assert.NotZero(t, caps&8) // SeekCapability (1 << 3)
	assert.Zero(t, caps&1)    // WriteCapability (1 << 0) should NOT be set
}

func TestChroot(t *testing.T) {
	fs := newTestFS(t)
	sub, err := fs.Chroot("/sub-01")
	require.NoError(t, err)

	entries, err := sub.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ses-01"}, names(entries))
	assert.Equal(t, "/", fs.Root())
	assert.Equal(t, "a/b/c", fs.Join("a", "b", "c"))
}

func TestNFSServerStarts(t *testing.T) {
	srv, err := NewServer(newTestFS(t), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	assert.True(t, srv.Port() > 0, "server should be on a valid port")

	conn, err := net.Dial("tcp", fmt.Sprintf("localhost:%d", srv.Port()))
	require.NoError(t, err)
	_ = conn.Close()
}
