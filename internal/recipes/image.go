package recipes

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
)

// progressReader reports the running byte count of everything read.
type progressReader struct {
	r    io.Reader
	sent int64
	fn   func(sent int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent)
	}
	return n, err
}

// UploadImage streams an image to the API as the multipart field "image"
// and returns the file name the API stored it under. progress, when not
// nil, is called with the number of image bytes sent so far.
func (c *Client) UploadImage(ctx context.Context, filename string, image io.Reader, progress func(sent int64)) (string, error) {
	if progress != nil {
		image = &progressReader{r: image, fn: progress}
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("image", path.Base(filename))
		if err == nil {
			_, err = io.Copy(part, image)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/images", nil), pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer drain(resp)
	if !successful(resp.StatusCode) {
		return "", &StatusError{Op: "upload image", Code: resp.StatusCode}
	}

	var stored struct {
		Name string `json:"name"`
	}
	if err := decode(resp, &stored); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	c.refresh()
	return stored.Name, nil
}

// DeleteImage removes a stored image by file name.
func (c *Client) DeleteImage(ctx context.Context, name string) error {
	return c.mutate(ctx, "delete image", http.MethodDelete, "/api/images/"+path.Base(name), nil, nil)
}
