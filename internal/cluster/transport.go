package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// minCompressSize is the body size below which zstd is not worth the CPU.
const minCompressSize = 4 << 10

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodyBytes))
)

// Transport performs typed request/response calls over HTTP.
type Transport struct {
	client   *http.Client
	codec    Codec
	compress bool
}

// NewTransport creates a transport. A zero timeout means calls never time
// out on their own; callers bound them through the context instead.
// With compress set, large request bodies are zstd encoded and zstd
// responses are requested.
func NewTransport(codec Codec, timeout time.Duration, compress bool) *Transport {
	if codec == nil {
		codec = MsgpackCodec{}
	}
	return &Transport{
		client:   &http.Client{Timeout: timeout},
		codec:    codec,
		compress: compress,
	}
}

// Codec returns the codec used for request bodies.
func (t *Transport) Codec() Codec { return t.codec }

// Do sends in (if non-nil) to url and decodes the response into out (if
// non-nil). Non-2xx responses are returned as *StatusError.
func (t *Transport) Do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	var encoded bool
	if in != nil {
		raw, err := t.codec.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", url, err)
		}
		if t.compress && len(raw) >= minCompressSize {
			raw = zstdEncoder.EncodeAll(raw, nil)
			encoded = true
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", t.codec.ContentType())
	}
	if encoded {
		req.Header.Set("Content-Encoding", "zstd")
	}
	req.Header.Set("Accept", t.codec.ContentType())
	if t.compress {
		req.Header.Set("Accept-Encoding", "zstd")
	}
	if id := RequestID(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}
	codec := codecFor(resp.Header.Get("Content-Type"))

	if resp.StatusCode >= 300 {
		serr := &StatusError{URL: url, Status: resp.StatusCode}
		var er ErrorResponse
		if len(raw) > 0 && codec.Unmarshal(raw, &er) == nil {
			serr.Code, serr.Message = er.Code, er.Message
		}
		return serr
	}
	if out == nil {
		return nil
	}
	if err := codec.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func readBody(r io.Reader, encoding string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(encoding, "zstd") {
		return zstdDecoder.DecodeAll(raw, nil)
	}
	return raw, nil
}

var jsonTransport = NewTransport(JSONCodec{}, 5*time.Second, false)

// PostJSON posts body as JSON and decodes a JSON reply into out.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return jsonTransport.Do(ctx, http.MethodPost, url, body, out)
}

// GetJSON fetches url and decodes a JSON reply into out.
func GetJSON(ctx context.Context, url string, out any) error {
	return jsonTransport.Do(ctx, http.MethodGet, url, nil, out)
}
