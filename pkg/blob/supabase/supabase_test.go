package supabase

import (
	"context"
	"errors"
	"io"
	"testing"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/MrWong99/lectern/pkg/blob"
)

type fakeStorage struct {
	uploadErr error
	bucketErr error

	gotBucket string
	gotPath   string
	gotData   []byte
	gotOpts   storage_go.FileOptions
}

func (f *fakeStorage) UploadFile(bucketID, relativePath string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error) {
	f.gotBucket, f.gotPath = bucketID, relativePath
	f.gotData, _ = io.ReadAll(data)
	if len(opts) > 0 {
		f.gotOpts = opts[0]
	}
	return storage_go.FileUploadResponse{}, f.uploadErr
}

func (f *fakeStorage) GetPublicUrl(bucketID, filePath string, _ ...storage_go.UrlOptions) storage_go.SignedUrlResponse {
	return storage_go.SignedUrlResponse{SignedURL: "https://proj.supabase.co/storage/v1/object/public/" + bucketID + "/" + filePath}
}

func (f *fakeStorage) GetBucket(string) (storage_go.Bucket, error) {
	return storage_go.Bucket{}, f.bucketErr
}

func TestUpload(t *testing.T) {
	t.Parallel()

	fs := &fakeStorage{}
	s := newStore(fs, "audio", WithFolder("explanations"))
	obj, err := s.Upload(context.Background(), []byte("RIFF"), "explanation_k.wav", "audio/wav")
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if fs.gotBucket != "audio" || fs.gotPath != "explanations/explanation_k.wav" {
		t.Errorf("uploaded to %s/%s", fs.gotBucket, fs.gotPath)
	}
	if string(fs.gotData) != "RIFF" {
		t.Errorf("data = %q", fs.gotData)
	}
	if fs.gotOpts.ContentType == nil || *fs.gotOpts.ContentType != "audio/wav" {
		t.Errorf("content type not forwarded")
	}
	if fs.gotOpts.Upsert == nil || !*fs.gotOpts.Upsert {
		t.Errorf("upsert not set")
	}
	if obj.URL != "https://proj.supabase.co/storage/v1/object/public/audio/explanations/explanation_k.wav" || obj.Size != 4 {
		t.Errorf("object = %+v", obj)
	}
}

func TestUpload_Errors(t *testing.T) {
	t.Parallel()

	s := newStore(&fakeStorage{uploadErr: errors.New("403")}, "audio")
	if _, err := s.Upload(context.Background(), []byte("x"), "k.mp3", ""); err == nil {
		t.Error("expected upload error")
	}
	if _, err := s.Upload(context.Background(), nil, "k.mp3", ""); !errors.Is(err, blob.ErrEmptyObject) {
		t.Errorf("err = %v, want ErrEmptyObject", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	if err := newStore(&fakeStorage{}, "audio").Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
	if err := newStore(&fakeStorage{bucketErr: errors.New("no bucket")}, "audio").Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	for _, args := range [][3]string{{"", "k", "b"}, {"u", "", "b"}, {"u", "k", ""}} {
		if _, err := New(args[0], args[1], args[2]); err == nil {
			t.Errorf("New(%q, %q, %q) expected error", args[0], args[1], args[2])
		}
	}
}
