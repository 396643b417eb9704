package precache

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"text/template"
)

//go:embed sw.js.tmpl
var serviceWorkerSource string

var serviceWorkerTemplate = template.Must(template.New("sw.js").Parse(serviceWorkerSource))

// WorkerOptions controls the fetch and activate behaviour baked into the
// rendered browser worker.
type WorkerOptions struct {
	Strategy    string
	DeleteStale bool
}

type workerData struct {
	Digest      string
	Prefix      string
	Name        string
	Assets      string
	Strategy    string
	DeleteStale bool
}

// RenderServiceWorker writes the browser-side service worker for this
// manifest. The literals are JSON encoded so asset paths cannot break out of
// the script.
func (m *Manifest) RenderServiceWorker(w io.Writer, opts WorkerOptions) error {
	data := workerData{
		Digest:      m.Digest().String(),
		Prefix:      mustJSON(m.Prefix),
		Name:        mustJSON(m.CacheName()),
		Assets:      mustJSON(m.Assets),
		Strategy:    mustJSON(opts.Strategy),
		DeleteStale: opts.DeleteStale,
	}
	if err := serviceWorkerTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render service worker: %w", err)
	}
	return nil
}

func mustJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		// Strings and string slices always marshal.
		panic(err)
	}
	return string(encoded)
}
