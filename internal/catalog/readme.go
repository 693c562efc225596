package catalog

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// AppsDir holds one directory per app, next to apps.json
const AppsDir = "apps"

// ReadmePath returns the catalog path of the app's readme, or "" when it has none
func (a *App) ReadmePath() string {
	if a.Readme == "" {
		return ""
	}
	return path.Join(AppsDir, a.ID, a.Readme)
}

// LoadReadme reads the app's readme markdown
func (l *Loader) LoadReadme(ctx context.Context, app *App) ([]byte, error) {
	p := app.ReadmePath()
	if p == "" {
		return nil, fmt.Errorf("%w: %s has no readme", ErrNotFound, app.ID)
	}
	return l.src.ReadFile(ctx, p)
}

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	sanitize = bluemonday.UGCPolicy()
)

// RenderReadme converts readme markdown to sanitized HTML
func RenderReadme(md []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdown.Convert(md, &buf); err != nil {
		return nil, fmt.Errorf("failed to render readme: %w", err)
	}
	return sanitize.SanitizeBytes(buf.Bytes()), nil
}

// Readme loads and renders the readme of the app with the given id
func (l *Library) Readme(ctx context.Context, id string) ([]byte, error) {
	cat, err := l.Current()
	if err != nil {
		return nil, err
	}
	app, ok := cat.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: app %s", ErrNotFound, id)
	}

	md, err := l.loader.LoadReadme(ctx, app)
	if err != nil {
		return nil, err
	}
	return RenderReadme(md)
}
