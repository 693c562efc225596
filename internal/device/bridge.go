package device

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gdorsi/BangleApps/internal/catalog"
)

// BridgeTransport talks to a device bridge: a small HTTP service that owns the
// Bluetooth/serial link to the watch and exposes the app loader operations.
//
//	GET    /apps              list installed apps
//	POST   /apps              upload an app (body: descriptor)
//	POST   /apps/{id}/remove  remove an app (body: installed record)
//	DELETE /apps              remove every app
//	PUT    /clock             set the clock (body: {"time": <unix ms>})
//	GET    /storage/{name}    read a storage file
//	POST   /disconnect        drop the link
type BridgeTransport struct {
	client *resty.Client
}

// BridgeError is a non-2xx answer from the bridge
type BridgeError struct {
	Op      string
	Status  int
	Message string
}

// Is matches ErrFileNotFound for a storage read the bridge answered with 404
func (e *BridgeError) Is(target error) bool {
	return target == ErrFileNotFound && e.Op == "read file" && e.Status == http.StatusNotFound
}

func (e *BridgeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bridge %s: %d %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("bridge %s: %d", e.Op, e.Status)
}

// NewBridgeTransport creates a bridge client. Calls are not retried: an upload
// that reached the device must not be repeated blindly.
func NewBridgeTransport(baseURL string, timeout time.Duration) *BridgeTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "apploader/1.0")

	return &BridgeTransport{client: client}
}

type bridgeErrorBody struct {
	Error string `json:"error"`
}

func (b *BridgeTransport) request(ctx context.Context) *resty.Request {
	return b.client.R().SetContext(ctx).SetError(&bridgeErrorBody{})
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("bridge %s: %w", op, err)
	}
	if resp.IsError() {
		be := &BridgeError{Op: op, Status: resp.StatusCode()}
		if body, ok := resp.Error().(*bridgeErrorBody); ok && body != nil {
			be.Message = body.Error
		}
		return be
	}
	return nil
}

func (b *BridgeTransport) GetInstalledApps(ctx context.Context) ([]InstalledApp, error) {
	var apps []InstalledApp
	resp, err := b.request(ctx).SetResult(&apps).Get("/apps")
	if err := checkResponse("list", resp, err); err != nil {
		return nil, err
	}
	if apps == nil {
		apps = []InstalledApp{}
	}
	return apps, nil
}

func (b *BridgeTransport) UploadApp(ctx context.Context, app *catalog.App, opts UploadOptions) (*InstalledApp, error) {
	var installed InstalledApp
	resp, err := b.request(ctx).
		SetQueryParams(map[string]string{
			"skipReset":   strconv.FormatBool(opts.SkipReset),
			"pretokenise": strconv.FormatBool(opts.Pretokenise),
		}).
		SetBody(app).
		SetResult(&installed).
		Post("/apps")
	if err := checkResponse("upload", resp, err); err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNoContent || installed.ID == "" {
		return nil, nil
	}
	return &installed, nil
}

func (b *BridgeTransport) RemoveApp(ctx context.Context, app InstalledApp) error {
	resp, err := b.request(ctx).
		SetBody(app).
		Post("/apps/" + url.PathEscape(app.ID) + "/remove")
	return checkResponse("remove", resp, err)
}

func (b *BridgeTransport) RemoveAllApps(ctx context.Context) error {
	resp, err := b.request(ctx).Delete("/apps")
	return checkResponse("remove all", resp, err)
}

func (b *BridgeTransport) SetClock(ctx context.Context) error {
	now := time.Now()
	_, offset := now.Zone()
	resp, err := b.request(ctx).
		SetBody(map[string]int64{
			"time":     now.UnixMilli(),
			"tzOffset": int64(offset / 60),
		}).
		Put("/clock")
	return checkResponse("set clock", resp, err)
}

func (b *BridgeTransport) ReadStorageFile(ctx context.Context, name string) ([]byte, error) {
	resp, err := b.request(ctx).
		SetHeader("Accept", "application/octet-stream").
		Get("/storage/" + url.PathEscape(name))
	if err := checkResponse("read file", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (b *BridgeTransport) Disconnect(ctx context.Context) error {
	resp, err := b.request(ctx).Post("/disconnect")
	return checkResponse("disconnect", resp, err)
}

var _ Transport = (*BridgeTransport)(nil)
