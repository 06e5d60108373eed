package widget

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
)

const maxResponseBody = 1 << 20

// send posts f as a multipart form: the file's own params first, the bytes
// last, which is the order direct-to-storage POST policies require.
func (u *Uploader) send(ctx context.Context, f *File, h Handler) (*Response, *Error) {
	if f.open == nil {
		return nil, &Error{Code: CodeIO, Message: "file has no content", File: f}
	}

	var head bytes.Buffer
	mw := multipart.NewWriter(&head)
	params := f.Params()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, params[k]); err != nil {
			return nil, &Error{Code: CodeGeneric, Message: fmt.Sprintf("encode field %s: %v", k, err), File: f}
		}
	}
	if _, err := mw.CreateFormFile(u.settings.FileDataName, f.Name); err != nil {
		return nil, &Error{Code: CodeGeneric, Message: fmt.Sprintf("encode file part: %v", err), File: f}
	}
	tail := "\r\n--" + mw.Boundary() + "--\r\n"

	content, err := f.open()
	if err != nil {
		return nil, &Error{Code: CodeIO, Message: fmt.Sprintf("open file: %v", err), File: f}
	}
	defer content.Close()

	progress := &progressReader{r: content, onRead: func(n int64) {
		if f.SetLoaded(n) {
			u.emit(h, func() { h.UploadProgress(f) })
		}
	}}
	body := io.MultiReader(&head, progress, strings.NewReader(tail))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.settings.URL, body)
	if err != nil {
		return nil, &Error{Code: CodeGeneric, Message: fmt.Sprintf("build request: %v", err), File: f}
	}
	req.ContentLength = int64(head.Len()) + f.Size + int64(len(tail))
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.settings.Client.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeIO, Message: err.Error(), File: f}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &Error{Code: CodeIO, Message: fmt.Sprintf("read response: %v", err), File: f}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Code: resp.StatusCode, Message: fmt.Sprintf("upload rejected: %s", resp.Status), File: f}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

type progressReader struct {
	r      io.Reader
	n      int64
	onRead func(total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.n += int64(n)
		p.onRead(p.n)
	}
	return n, err
}
