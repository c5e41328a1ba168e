package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/resilience"
	"github.com/MrWong99/lectern/pkg/blob"
	blobmock "github.com/MrWong99/lectern/pkg/blob/mock"
	ttsmock "github.com/MrWong99/lectern/pkg/provider/tts/mock"
	"github.com/MrWong99/lectern/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newSynth(t *testing.T, bs *blobmock.Store, entries ...Entry) *Synthesizer {
	t.Helper()
	var store blob.Store
	if bs != nil {
		store = bs
	}
	return New(entries, store, WithChunkSize(4), WithMetrics(testMetrics(t)))
}

func TestSynthesize_NoProviders(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	if _, err := s.Synthesize(context.Background(), "hello"); !errors.Is(err, ErrSynthesisUnavailable) {
		t.Errorf("Synthesize err = %v, want ErrSynthesisUnavailable", err)
	}
	if _, err := s.Buffer(context.Background(), "hello"); !errors.Is(err, ErrSynthesisUnavailable) {
		t.Errorf("Buffer err = %v, want ErrSynthesisUnavailable", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	s := newSynth(t, nil, Entry{Name: "a", Provider: &ttsmock.Provider{Chunks: [][]byte{[]byte("x")}}})
	if _, err := s.Synthesize(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestStream_RechunksAndMatchesBuffer(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{Chunks: [][]byte{[]byte("abc"), []byte("defgh"), []byte("ij")}}
	s := newSynth(t, nil, Entry{Name: "primary", Provider: p})

	st, err := s.Synthesize(context.Background(), "The cell is the basic unit of life.")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	defer st.Close()

	var (
		got   []byte
		sizes []int
	)
	for {
		b, err := st.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		got = append(got, b...)
		sizes = append(sizes, len(b))
	}
	if string(got) != "abcdefghij" {
		t.Errorf("stream = %q", got)
	}
	if want := []int{4, 4, 2}; len(sizes) != 3 || sizes[0] != want[0] || sizes[1] != want[1] || sizes[2] != want[2] {
		t.Errorf("chunk sizes = %v, want %v", sizes, want)
	}
	if st.Provider() != "primary" || st.Format() != types.AudioFormatMP3 {
		t.Errorf("stream provider/format = %s/%s", st.Provider(), st.Format())
	}

	audio, err := s.Buffer(context.Background(), "The cell is the basic unit of life.")
	if err != nil {
		t.Fatalf("Buffer() error: %v", err)
	}
	if !bytes.Equal(audio.Data, got) {
		t.Errorf("buffer %q != stream %q", audio.Data, got)
	}
}

func TestSynthesize_FallbackBeforeFirstChunk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		primary *ttsmock.Provider
	}{
		{"start error", &ttsmock.Provider{StartErr: errors.New("quota")}},
		{"first chunk error", &ttsmock.Provider{Chunks: [][]byte{[]byte("x")}, StreamErr: errors.New("boom"), FailAfter: 0}},
		{"empty stream", &ttsmock.Provider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("RIFFdata")}, AudioFormat: types.AudioFormatWAV}
			s := newSynth(t, nil,
				Entry{Name: "minimax", Provider: tt.primary},
				Entry{Name: "gemini", Provider: secondary},
			)
			st, err := s.Synthesize(context.Background(), "Hello")
			if err != nil {
				t.Fatalf("Synthesize() error: %v", err)
			}
			defer st.Close()
			data, err := st.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll() error: %v", err)
			}
			if string(data) != "RIFFdata" {
				t.Errorf("data = %q, want secondary output only", data)
			}
			if st.Provider() != "gemini" || st.Format() != types.AudioFormatWAV {
				t.Errorf("provider/format = %s/%s", st.Provider(), st.Format())
			}
		})
	}
}

func TestSynthesize_MidStreamErrorAborts(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{
		Chunks:    [][]byte{[]byte("abcd"), []byte("efgh"), []byte("ijkl")},
		StreamErr: errors.New("connection reset"),
		FailAfter: 2,
	}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("zzzz")}}
	s := newSynth(t, nil, Entry{Name: "a", Provider: primary}, Entry{Name: "b", Provider: secondary})

	st, err := s.Synthesize(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	defer st.Close()
	data, err := st.ReadAll()
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v, want mid-stream error", err)
	}
	if string(data) != "abcdefgh" {
		t.Errorf("delivered = %q", data)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestBuffer_FallsBackOnLateError(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{
		Chunks:    [][]byte{[]byte("aa"), []byte("bb")},
		StreamErr: errors.New("late failure"),
		FailAfter: 2,
	}
	secondary := &ttsmock.Provider{Chunks: [][]byte{[]byte("cc")}, AudioFormat: types.AudioFormatWAV}
	s := newSynth(t, nil, Entry{Name: "a", Provider: primary}, Entry{Name: "b", Provider: secondary})

	audio, err := s.Buffer(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Buffer() error: %v", err)
	}
	if string(audio.Data) != "cc" || audio.Provider != "b" || audio.Format != types.AudioFormatWAV {
		t.Errorf("audio = %+v", audio)
	}
}

func TestBuffer_AllFail(t *testing.T) {
	t.Parallel()

	s := newSynth(t, nil,
		Entry{Name: "a", Provider: &ttsmock.Provider{StartErr: errors.New("a down")}},
		Entry{Name: "b", Provider: &ttsmock.Provider{StartErr: errors.New("b down")}},
	)
	_, err := s.Buffer(context.Background(), "Hello")
	if !errors.Is(err, ErrSynthesisFailed) || !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed wrapping ErrAllFailed", err)
	}
	if !strings.Contains(err.Error(), "b down") {
		t.Errorf("err = %v, want last provider error", err)
	}
}

func TestSynthesizeAndStore_ExtensionFromProviderUsed(t *testing.T) {
	t.Parallel()

	store := &blobmock.Store{}
	s := newSynth(t, store,
		Entry{Name: "minimax", Provider: &ttsmock.Provider{StartErr: errors.New("always fails")}},
		Entry{Name: "gemini", Provider: &ttsmock.Provider{Chunks: [][]byte{[]byte("RIFF")}, AudioFormat: types.AudioFormatWAV}},
	)
	stored, err := s.SynthesizeAndStore(context.Background(), "Hello", "explanation_doc_Cell_Biology_1_1")
	if err != nil {
		t.Fatalf("SynthesizeAndStore() error: %v", err)
	}
	if store.UploadCount() != 1 {
		t.Fatalf("uploads = %d, want 1", store.UploadCount())
	}
	call := store.UploadCalls[0]
	if call.Key != "explanation_doc_Cell_Biology_1_1.wav" || call.ContentType != "audio/wav" {
		t.Errorf("upload key/type = %s/%s", call.Key, call.ContentType)
	}
	if stored.Format != types.AudioFormatWAV || stored.ByteSize != 4 || stored.Provider != "gemini" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestSynthesizeAndStore_NoBlobStore(t *testing.T) {
	t.Parallel()

	s := newSynth(t, nil, Entry{Name: "a", Provider: &ttsmock.Provider{Chunks: [][]byte{[]byte("x")}}})
	if _, err := s.SynthesizeAndStore(context.Background(), "Hello", "k"); !errors.Is(err, ErrNoBlobStore) {
		t.Fatalf("err = %v, want ErrNoBlobStore", err)
	}
}

func TestStream_CancelStops(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{}, 1)
	gate <- struct{}{}
	p := &ttsmock.Provider{Chunks: [][]byte{[]byte("abcd"), []byte("efgh")}, Gate: gate}
	s := newSynth(t, nil, Entry{Name: "a", Provider: p})

	ctx, cancel := context.WithCancel(context.Background())
	st, err := s.Synthesize(ctx, "Hello")
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	defer st.Close()
	if b, err := st.Next(); err != nil || string(b) != "abcd" {
		t.Fatalf("first Next() = %q, %v", b, err)
	}
	cancel()
	if _, err := st.Next(); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next() after cancel err = %v, want context.Canceled", err)
	}
}

func TestProviders_Order(t *testing.T) {
	t.Parallel()

	s := New([]Entry{
		{Name: "minimax", Provider: &ttsmock.Provider{}},
		{Name: "skipped"},
		{Name: "gemini", Provider: &ttsmock.Provider{}},
	}, nil)
	names := s.Providers()
	if len(names) != 2 || names[0] != "minimax" || names[1] != "gemini" {
		t.Errorf("Providers() = %v", names)
	}
}
