package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/leslieo2/prononciation-gateway/internal/config"
	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

// excerptLimit caps the text kept from a response that is not JSON.
const excerptLimit = 400

// client performs single calls against the base URL with one timeout budget.
type client struct {
	baseURL         string
	http            *http.Client
	budget          config.TimeoutConfig
	maxResponseSize int64
}

// response is a fully read upstream answer.
type response struct {
	status    int
	body      []byte
	truncated bool
}

func newClient(cfg config.UpstreamConfig, budget config.TimeoutConfig, httpClient *http.Client) *client {
	if httpClient == nil {
		httpClient = NewHTTPClient(budget)
	}
	return &client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		http:            httpClient,
		budget:          budget,
		maxResponseSize: cfg.MaxResponseSize,
	}
}

// do sends req and reads the whole body. Any error means no usable response
// arrived, including failures while reading the body.
func (c *client) do(ctx context.Context, req Request) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline(c.budget))
	defer cancel()

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	copyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Set(constants.HeaderAccept, constants.ContentTypeJSON)
	if contentType != "" {
		httpReq.Header.Set(constants.HeaderContentType, contentType)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, c.maxResponseSize)
	truncated := errors.Is(err, errResponseTooLarge)
	if err != nil && !truncated {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &response{status: resp.StatusCode, body: data, truncated: truncated}, nil
}

// encodeBody picks the body encoding: multipart when files are present,
// urlencoded for fields only, nothing otherwise.
func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case len(req.Files) > 0:
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)

		for _, f := range req.Form {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				return nil, "", err
			}
		}
		for _, file := range req.Files {
			part, err := mw.CreatePart(filePartHeader(file))
			if err != nil {
				return nil, "", err
			}
			if _, err := part.Write(file.Data); err != nil {
				return nil, "", err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil

	case len(req.Form) > 0:
		values := url.Values{}
		for _, f := range req.Form {
			values.Add(f.Name, f.Value)
		}
		return strings.NewReader(values.Encode()), constants.ContentTypeForm, nil

	default:
		return nil, "", nil
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// filePartHeader is multipart.Writer.CreateFormFile with a caller-chosen
// content type.
func filePartHeader(file File) textproto.MIMEHeader {
	filename := file.Filename
	if filename == "" {
		filename = constants.DefaultUploadFilename
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = constants.ContentTypeOctetStream
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(file.Field), quoteEscaper.Replace(filename)))
	h.Set(constants.HeaderContentType, contentType)
	return h
}

// hopHeaders are never forwarded (RFC 7230).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Host")
}

var errResponseTooLarge = errors.New("response exceeds size limit")

// readLimited reads at most limit bytes. A longer body is truncated and
// reported through errResponseTooLarge alongside the data read so far.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return data[:limit], errResponseTooLarge
	}
	return data, nil
}

// decodeJSON decodes a single JSON value. Numbers stay json.Number so they
// are re-encoded exactly as received.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// excerpt returns at most excerptLimit characters of data with invalid UTF-8
// dropped.
func excerpt(data []byte) string {
	s := strings.ToValidUTF8(string(data), "")
	if utf8.RuneCountInString(s) <= excerptLimit {
		return s
	}
	n := 0
	for i := range s {
		if n == excerptLimit {
			return s[:i]
		}
		n++
	}
	return s
}

// decoded returns the structured body, or ok=false when it is not JSON.
// A truncated body is never treated as JSON.
func (r *response) decoded() (any, bool) {
	if r.truncated {
		return nil, false
	}
	v, err := decodeJSON(r.body)
	if err != nil {
		return nil, false
	}
	return v, true
}

// nonJSONPlaceholder wraps an undecodable body.
func nonJSONPlaceholder(data []byte) map[string]any {
	return map[string]any{
		"non_json": true,
		"text":     excerpt(data),
	}
}
