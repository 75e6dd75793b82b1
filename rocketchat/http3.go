package rocketchat

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

type withCloseIdleConnections struct {
	*http3.RoundTripper
}

func (transport *withCloseIdleConnections) CloseIdleConnections() {
	transport.Close()
}

func newHTTP3Client() *http.Client {
	transport := &withCloseIdleConnections{
		RoundTripper: &http3.RoundTripper{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS13,
			},
			QUICConfig: &quic.Config{},
		},
	}
	return &http.Client{
		Transport: transport,
		Timeout:   120 * time.Second,
	}
}
