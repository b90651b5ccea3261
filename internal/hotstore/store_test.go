package hotstore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory stand-in for the S3 client
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	data     []byte
	meta     map[string]string
	modified time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, meta: in.Metadata, modified: time.Now().Truncate(time.Second)}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:         io.NopCloser(bytes.NewReader(obj.data)),
		Metadata:     obj.meta,
		LastModified: aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		Metadata:      obj.meta,
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func backends(t *testing.T) map[string]Store {
	t.Helper()

	fsStore, err := NewFS(filepath.Join(t.TempDir(), "hot"))
	require.NoError(t, err)

	boltStore, err := OpenBolt(filepath.Join(t.TempDir(), "hot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = boltStore.Close() })

	return map[string]Store{
		BackendFS:   fsStore,
		BackendBolt: boltStore,
		BackendS3:   newS3WithClient(newFakeS3(), "cache", "banks/ui"),
	}
}

func TestStore_Conformance(t *testing.T) {
	ctx := context.Background()

	for name, store := range backends(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			t.Run("put_then_get", func(t *testing.T) {
				before := time.Now().Add(-time.Second)
				require.NoError(t, store.Put(ctx, []string{"ui", "icons", "arrow"}, []byte("payload")))

				data, info, err := store.Get(ctx, []string{"ui", "icons", "arrow"})
				require.NoError(t, err)
				assert.Equal(t, []byte("payload"), data)
				assert.Equal(t, int64(7), info.Size)
				assert.True(t, info.WrittenAt.After(before))

				stat, err := store.Stat(ctx, []string{"ui", "icons", "arrow"})
				require.NoError(t, err)
				assert.Equal(t, int64(7), stat.Size)
			})

			t.Run("overwrite_replaces", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, []string{"maps", "e1m1"}, []byte("v1")))
				require.NoError(t, store.Put(ctx, []string{"maps", "e1m1"}, []byte("version2")))

				data, _, err := store.Get(ctx, []string{"maps", "e1m1"})
				require.NoError(t, err)
				assert.Equal(t, []byte("version2"), data)
			})

			t.Run("missing_key", func(t *testing.T) {
				_, _, err := store.Get(ctx, []string{"nope"})
				assert.ErrorIs(t, err, ErrNotExist)

				_, err = store.Stat(ctx, []string{"ui", "nope"})
				assert.ErrorIs(t, err, ErrNotExist)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, []string{"fonts", "mono"}, []byte("x")))
				require.NoError(t, store.Delete(ctx, []string{"fonts", "mono"}))

				_, err := store.Stat(ctx, []string{"fonts", "mono"})
				assert.ErrorIs(t, err, ErrNotExist)
				assert.NoError(t, store.Delete(ctx, []string{"fonts", "mono"}), "deleting twice is fine")
			})

			t.Run("clear", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, []string{"a", "b"}, []byte("1")))
				require.NoError(t, store.Put(ctx, []string{"c"}, []byte("2")))

				require.NoError(t, store.Clear(ctx))

				_, err := store.Stat(ctx, []string{"a", "b"})
				assert.ErrorIs(t, err, ErrNotExist)
				_, err = store.Stat(ctx, []string{"c"})
				assert.ErrorIs(t, err, ErrNotExist)
			})

			t.Run("rejects_bad_keys", func(t *testing.T) {
				assert.Error(t, store.Put(ctx, nil, []byte("x")))
				assert.Error(t, store.Put(ctx, []string{"a", ".."}, []byte("x")))
			})
		})
	}
}

func TestFS_Layout(t *testing.T) {
	root := t.TempDir()
	store, err := NewFS(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, []string{"ui", "a/b"}, []byte("x")))

	assert.FileExists(t, filepath.Join(root, "ui", "a%2Fb.hot"))

	require.NoError(t, store.Delete(ctx, []string{"ui", "a/b"}))
	assert.NoDirExists(t, filepath.Join(root, "ui"), "empty folders are pruned")
	assert.DirExists(t, root)
}

func TestS3_ObjectKey(t *testing.T) {
	store := newS3WithClient(newFakeS3(), "bucket", "/cache/")
	assert.Equal(t, "cache/ui/icon.hot", store.ObjectKey([]string{"ui", "icon"}))
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), Options{Backend: BackendFS, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FS{}, store)

	_, err = Open(context.Background(), Options{Backend: "tape"})
	assert.Error(t, err)
}
