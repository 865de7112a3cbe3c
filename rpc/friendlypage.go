package rpc

import (
	"net/http"

	"github.com/jpillora/requestlog"
	"github.com/tomasen/realip"

	"github.com/hohhen/Halibut/rpclog"
)

const defaultFriendlyPageBody = `<html><body><p>Hello!</p></body></html>`

// FriendlyPageConfig configures the responder a Listener serves when
// a client speaks plaintext HTTP to a TLS port (spec §6). Body reverts
// to defaultFriendlyPageBody when set to the empty string.
type FriendlyPageConfig struct {
	Body    string
	Headers http.Header
}

func (c FriendlyPageConfig) body() string {
	if c.Body == "" {
		return defaultFriendlyPageBody
	}
	return c.Body
}

// friendlyPageHandler serves the configured body on GET / and 404s
// everything else, wrapped in the teacher's request-logging pattern
// (jpillora/requestlog) so misdirected plaintext traffic still shows
// up in the logs at debug level, with the client's real address
// resolved via tomasen/realip in case the listener sits behind a
// proxy.
func friendlyPageHandler(cfg FriendlyPageConfig, logger rpclog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		for k, vs := range cfg.Headers {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		logger.Debugf("friendly page hit from %s", realip.FromRequest(r))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(cfg.body()))
	})

	return requestlog.Wrap(mux)
}
