package store

import (
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/param"
)

func sampleDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds := dataset.New("study", "dicom", "/data/b", "/data/a")
	ds.MetadataRoot = "/tmp/mrds"
	ds.IsComplete = true

	cet := time.FixedZone("CET", 3600)
	add := func(sub, ses, seq, run string, params param.Params, at time.Time, files ...string) *dataset.Run {
		r := dataset.NewRun(run, params)
		r.AcquiredAt = at
		for _, f := range files {
			r.AddFile(f)
		}
		stored, c := ds.AddRun(sub, ses, seq, r)
		require.Nil(t, c)
		return stored
	}

	t1 := param.Params{
		"RepetitionTime": param.Float(2300, "ms"),
		"EchoTime":       param.Float(0.1+0.2, "ms"),
		"Matrix":         param.Int(256, "px"),
		"Fat":            param.Bool(true),
		"ScanOptions":    param.List("IR", "PFP"),
		"Coil":           param.String(""),
		"Broken":         param.Invalid(param.KindFloat),
	}
	add("sub-01", "ses-01", "T1w", "1.2.3", t1, time.Date(2023, 1, 2, 3, 4, 5, 123456789, cet), "/data/a/1.dcm", "/data/a/2.dcm")
	r := add("sub-01", "ses-01", "bold", "4.5.6_en_2", param.Params{"EchoTime": param.Float(30, "ms")}, time.Time{})
	r.EchoTime, r.EchoNumber = 30, 2
	add("sub-02", dataset.DefaultSession, "T1w", "7.8.9", t1.Clone(), time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), "/data/b/1.dcm")

	ds.Add(dataset.NewSubject("sub-03"))
	empty := dataset.NewSession("ses-empty")
	empty.Add(dataset.NewSequence("unused"))
	sub, _ := ds.Subject("sub-02")
	sub.Add(empty)

	first, _ := ds.Subject("sub-01")
	sess, _ := first.Session("ses-01")
	seq, _ := sess.Sequence("T1w")
	seq.MarkCompliant("sub-01")
	seq.MarkNonCompliant("sub-02", "TR differs")
	seq.MarkNonCompliant("sub-02", "TE differs")
	seq.MarkNonCompliant("sub-04", "")
	return ds
}

func TestRoundTrip(t *testing.T) {
	for _, ext := range []string{ExtSQLite, ExtBSON} {
		t.Run(ext, func(t *testing.T) {
			want := sampleDataset(t)
			path := filepath.Join(t.TempDir(), "nested", "study"+ext)

			require.NoError(t, SaveDataset(want, path))
			got, err := LoadDataset(path)
			require.NoError(t, err)

			assert.Empty(t, dataset.Diff(want, got))
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.Format, got.Format)
			assert.Equal(t, []string{"/data/a", "/data/b"}, got.DataSource)
			assert.Equal(t, want.MetadataRoot, got.MetadataRoot)
			assert.True(t, got.IsComplete)

			run, ok := got.Lookup(dataset.Key{Subject: "sub-01", Session: "ses-01", Sequence: "bold", Run: "4.5.6_en_2"})
			require.True(t, ok)
			assert.Equal(t, 2, run.EchoNumber)
			assert.True(t, run.AcquiredAt.IsZero())
			assert.Equal(t, "sub-01/ses-01/bold/4.5.6_en_2", run.Key.String())

			sub, _ := got.Subject("sub-01")
			sess, _ := sub.Session("ses-01")
			seq, _ := sess.Sequence("T1w")
			assert.Equal(t, []string{"TE differs", "TR differs"}, seq.Reasons("sub-02"))
			assert.Equal(t, []string{"sub-02", "sub-04"}, seq.NonCompliantSubjects())
			assert.False(t, seq.Params()["Broken"].Valid)

			// Saving again replaces the file.
			got.IsComplete = false
			require.NoError(t, SaveDataset(got, path))
			again, err := LoadDataset(path)
			require.NoError(t, err)
			assert.False(t, again.IsComplete)
			_, err = os.Stat(path + ".tmp")
			assert.True(t, errors.Is(err, fs.ErrNotExist))
		})
	}
}

func TestExtension(t *testing.T) {
	dir := t.TempDir()
	err := SaveDataset(sampleDataset(t), filepath.Join(dir, "study.db"))
	assert.True(t, errors.Is(err, ErrExtension))
	_, err = LoadDataset(filepath.Join(dir, "study.json"))
	assert.True(t, errors.Is(err, ErrExtension))

	_, err = LoadDataset(filepath.Join(dir, "missing"+ExtBSON))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestCorrupt(t *testing.T) {
	for _, ext := range []string{ExtSQLite, ExtBSON} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "junk"+ext)
			require.NoError(t, os.WriteFile(path, []byte("definitely not a dataset file, just some text"), 0o644))
			ds, err := LoadDataset(path)
			require.Error(t, err)
			assert.Nil(t, ds)
			assert.True(t, ErrCorrupt.Has(err), "got %v", err)
		})
	}

	t.Run("duplicate subject", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dup"+ExtBSON)
		doc := &document{Version: SchemaVersion, Subjects: []subjectDoc{{Name: "sub-01"}, {Name: "sub-01"}}}
		require.NoError(t, bsonCodec{}.save(doc, path))
		_, err := LoadDataset(path)
		assert.True(t, ErrCorrupt.Has(err))
	})

	t.Run("bad time", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "time"+ExtSQLite)
		doc := snapshot(sampleDataset(t))
		doc.Subjects[0].Sessions[0].AcquiredAt = "last tuesday"
		require.NoError(t, sqliteCodec{}.save(doc, path))
		_, err := LoadDataset(path)
		assert.True(t, ErrCorrupt.Has(err))
	})
}

func TestVersion(t *testing.T) {
	t.Run("bson", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "old"+ExtBSON)
		require.NoError(t, bsonCodec{}.save(&document{Version: SchemaVersion + 1}, path))
		_, err := LoadDataset(path)
		assert.True(t, ErrVersion.Has(err))
		assert.False(t, ErrCorrupt.Has(err))
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "old"+ExtSQLite)
		require.NoError(t, SaveDataset(sampleDataset(t), path))

		db, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		_, err = db.Exec(`UPDATE meta SET value = '0' WHERE key = 'schema_version'`)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		_, err = LoadDataset(path)
		assert.True(t, ErrVersion.Has(err))
	})
}

func TestConcurrentSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared"+ExtSQLite)
	inputs := []*dataset.Dataset{sampleDataset(t), sampleDataset(t), sampleDataset(t), sampleDataset(t)}
	results := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i, ds := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = SaveDataset(ds, path)
		}()
	}
	wg.Wait()
	for _, err := range results {
		require.NoError(t, err)
	}
	got, err := LoadDataset(path)
	require.NoError(t, err)
	assert.Empty(t, dataset.Diff(sampleDataset(t), got))
}
