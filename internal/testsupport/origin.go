package testsupport

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Origin is a stub downloader application that counts requests per path.
type Origin struct {
	*httptest.Server

	mu      sync.Mutex
	bodies  map[string]string
	status  map[string]int
	calls   map[string]int
	total   int
	gate    chan struct{}
	entered chan string
}

// NewOrigin serves the default precache assets and registers cleanup.
func NewOrigin(t testing.TB) *Origin {
	t.Helper()

	o := &Origin{
		bodies: map[string]string{
			"/":                     "<html>insta downloader</html>",
			"/static/style.css":     "body{}",
			"/static/script.js":     "console.log('ready')",
			"/static/manifest.json": `{"name":"Insta Downloader"}`,
		},
		status: map[string]int{},
		calls:  map[string]int{},
	}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Close)
	return o
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.calls[r.URL.Path]++
	o.total++
	body, ok := o.bodies[r.URL.Path]
	status := o.status[r.URL.Path]
	gate := o.gate
	entered := o.entered
	o.mu.Unlock()

	if entered != nil {
		select {
		case entered <- r.URL.Path:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	if status == 0 {
		status = http.StatusOK
		if !ok {
			status = http.StatusNotFound
		}
	}
	w.Header().Set("X-Origin-Path", r.URL.Path)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// SetBody changes what path returns.
func (o *Origin) SetBody(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bodies[path] = body
}

// SetStatus forces a status code for path.
func (o *Origin) SetStatus(path string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[path] = status
}

// Calls returns how often path was requested.
func (o *Origin) Calls(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[path]
}

// Total returns the number of requests served.
func (o *Origin) Total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// Reset clears the request counters.
func (o *Origin) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = map[string]int{}
	o.total = 0
}

// Hold makes requests block until the returned release func is called. Each
// blocked request path is sent on the returned channel when it arrives.
func (o *Origin) Hold() (<-chan string, func()) {
	gate := make(chan struct{})
	entered := make(chan string, 64)
	o.mu.Lock()
	o.gate = gate
	o.entered = entered
	o.mu.Unlock()

	var once sync.Once
	return entered, func() {
		once.Do(func() {
			o.mu.Lock()
			o.gate = nil
			o.entered = nil
			o.mu.Unlock()
			close(gate)
		})
	}
}
