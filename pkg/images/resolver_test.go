package images

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LucasCLuk/pandascore/internal/testutil"
	"github.com/LucasCLuk/pandascore/pkg/download"
	"github.com/LucasCLuk/pandascore/pkg/record"
)

type fakeDownloader struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeDownloader) Download(ctx context.Context, url string) (*download.Resource, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &download.Resource{Data: []byte("png:" + url), Ext: download.Extension(url), ContentType: "image/png"}, nil
}

type linkLog struct {
	mu    sync.Mutex
	links []string
}

func (l *linkLog) Add(group, url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links = append(l.links, group+"|"+url)
}

const imageURL = "https://cdn.pandascore.co/images/league/image/4197/lec.png"

func TestResolve_UploadsOnceAndIsIdempotent(t *testing.T) {
	dest := testutil.NewMemoryDestination("https://storage.test")
	dl := &fakeDownloader{}
	links := &linkLog{}
	r, err := New(dest, dl, links, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rec := record.Record{"id": 4197, "slug": "lec"}

	first, err := r.Resolve(context.Background(), "leagues", rec, imageURL)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := r.Resolve(context.Background(), "leagues", rec, imageURL)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}

	if first != "https://storage.test/leagues/4197.png" || second != first {
		t.Errorf("urls = %q, %q", first, second)
	}
	if n := dl.calls.Load(); n != 1 {
		t.Errorf("downloaded %d times, want 1", n)
	}
	if len(links.links) != 2 {
		t.Errorf("manifest got %d adds, want 2 (dedup happens at flush)", len(links.links))
	}

	blob, ok := dest.Blob("leagues/4197.png")
	if !ok {
		t.Fatal("blob not uploaded")
	}
	if blob.Metadata["leagues"] != "lec" {
		t.Errorf("metadata = %v, want {leagues: lec}", blob.Metadata)
	}
	if blob.ContentType != "image/png" {
		t.Errorf("content type = %q", blob.ContentType)
	}
}

func TestResolve_ExistingBlobSkipsDownload(t *testing.T) {
	dest := testutil.NewMemoryDestination("https://storage.test")
	dest.SeedBlob("teams/1.png", []byte("already there"))
	dl := &fakeDownloader{}
	r, _ := New(dest, dl, nil, 0)

	u, err := r.ProcessImage(context.Background(), "teams", record.Record{"id": 1}, "https://cdn/team/1/logo.png")
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}
	if u != "https://storage.test/teams/1.png" {
		t.Errorf("url = %q", u)
	}
	if dl.calls.Load() != 0 || dest.Uploads() != 0 {
		t.Errorf("existing blob must not be downloaded or re-uploaded")
	}
}

func TestResolve_EmptyBlobIsReplaced(t *testing.T) {
	dest := testutil.NewMemoryDestination("https://storage.test")
	dest.SeedBlob("teams/2.png", nil)
	dl := &fakeDownloader{}
	r, _ := New(dest, dl, nil, 0)

	if _, err := r.ProcessImage(context.Background(), "teams", record.Record{"id": 2}, "https://cdn/2.png"); err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}
	if dl.calls.Load() != 1 || dest.Uploads() != 1 {
		t.Errorf("a blob without content should be re-downloaded")
	}
}

func TestResolve_FreshResolverReusesStore(t *testing.T) {
	dest := testutil.NewMemoryDestination("https://storage.test")
	dl := &fakeDownloader{}
	rec := record.Record{"id": 7}

	for i := 0; i < 2; i++ {
		r, _ := New(dest, dl, nil, 0)
		if _, err := r.Resolve(context.Background(), "players", rec, "https://cdn/p/7.jpg"); err != nil {
			t.Fatalf("Resolve #%d failed: %v", i, err)
		}
	}
	if n := dl.calls.Load(); n != 1 {
		t.Errorf("downloaded %d times across runs, want 1", n)
	}
}

func TestResolve_DownloadFailure(t *testing.T) {
	dest := testutil.NewMemoryDestination("https://storage.test")
	r, _ := New(dest, &fakeDownloader{err: download.ErrRetryExhausted}, nil, 0)

	u, err := r.Resolve(context.Background(), "series", record.Record{"id": 3}, "https://cdn/s/3.png")
	if !errors.Is(err, download.ErrRetryExhausted) {
		t.Errorf("err = %v, want ErrRetryExhausted", err)
	}
	if u != "" {
		t.Errorf("url = %q, want empty", u)
	}
}

func TestResolve_UploadFailure(t *testing.T) {
	dest := testutil.NewMemoryDestination("https://storage.test")
	dest.FailUploads()
	r, _ := New(dest, &fakeDownloader{}, nil, 0)

	if _, err := r.Resolve(context.Background(), "series", record.Record{"id": 3}, "https://cdn/s/3.png"); !errors.Is(err, testutil.ErrInjected) {
		t.Errorf("err = %v, want injected upload failure", err)
	}
}

func TestResolve_MissingID(t *testing.T) {
	links := &linkLog{}
	r, _ := New(testutil.NewMemoryDestination("https://s"), &fakeDownloader{}, links, 0)

	if _, err := r.Resolve(context.Background(), "leagues", record.Record{"slug": "x"}, "https://cdn/x.png"); !errors.Is(err, ErrMissingID) {
		t.Errorf("err = %v, want ErrMissingID", err)
	}
	if len(links.links) != 1 {
		t.Error("the link should still be recorded in the manifest")
	}
}

func TestResolve_ConcurrentSamePathDownloadsOnce(t *testing.T) {
	dest := testutil.NewMemoryDestination("https://storage.test")
	dl := &fakeDownloader{delay: 20 * time.Millisecond}
	r, _ := New(dest, dl, nil, 0)
	rec := record.Record{"id": 99}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background(), "teams", rec, "https://cdn/t/99.png"); err != nil {
				t.Errorf("Resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := dl.calls.Load(); n != 1 {
		t.Errorf("downloaded %d times, want 1", n)
	}
}

func TestObjectLabel(t *testing.T) {
	label, err := ObjectLabel(record.Record{"id": "12"}, "https://cdn/a/b/logo.JPEG")
	if err != nil || label != "12.jpeg" {
		t.Errorf("ObjectLabel = %q, %v", label, err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, &fakeDownloader{}, nil, 0); err == nil {
		t.Error("expected error without store")
	}
}
