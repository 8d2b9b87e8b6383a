package preview

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// fakeS3 keeps objects in a map keyed by bucket and key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errors.New("access denied")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// TestS3Blobs verifies key prefixes and the not-found mapping.
func TestS3Blobs(t *testing.T) {
	fake := newFakeS3()
	blobs := NewS3Blobs(fake, "pictures", "previews/")
	ctx := context.Background()

	if err := blobs.Put(ctx, "a/snaps/0", []byte("data")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := fake.objects["pictures/previews/a/snaps/0"]; !ok {
		t.Errorf("objects = %v, want prefixed key", fake.objects)
	}

	got, err := blobs.Get(ctx, "a/snaps/0")
	if err != nil || string(got) != "data" {
		t.Errorf("Get() = %q, %v", got, err)
	}

	if err := blobs.Delete(ctx, "a/snaps/0"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := blobs.Get(ctx, "a/snaps/0"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrBlobNotFound", err)
	}
}

// TestStoreCreateFailureCleansUp verifies that a failed upload leaves no
// preview behind.
func TestStoreCreateFailureCleansUp(t *testing.T) {
	fake := newFakeS3()
	fake.failPut = true
	store := NewStore(NewS3Blobs(fake, "b", ""), 0, zerolog.Nop())

	if _, err := store.Create(context.Background(), [][]byte{[]byte("s")}, nil); err == nil {
		t.Fatal("Create() succeeded with a failing blob store")
	}
	if store.Len() != 0 || len(fake.objects) != 0 {
		t.Errorf("store holds %d previews and %d objects after failure", store.Len(), len(fake.objects))
	}
}

// TestNewS3Client verifies that client options are applied.
func TestNewS3Client(t *testing.T) {
	client := NewS3Client(S3Options{Region: "eu-west-1", Endpoint: "http://127.0.0.1:9000", PathStyle: true})
	opts := client.Options()
	if opts.Region != "eu-west-1" || !opts.UsePathStyle || aws.ToString(opts.BaseEndpoint) != "http://127.0.0.1:9000" {
		t.Errorf("options = region %q path style %v endpoint %q", opts.Region, opts.UsePathStyle, aws.ToString(opts.BaseEndpoint))
	}
}
