package plugin

import "context"

// FileService gives plugins read access to site sources.
type FileService interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	ListFiles(ctx context.Context, dir string) ([]string, error)
}

// IndexService exposes the site's content index.
type IndexService interface {
	Lookup(ctx context.Context, key string) (any, bool)
}

// RenderService renders content by file extension.
type RenderService interface {
	Render(ctx context.Context, ext, content string) (string, error)
}

// TransformService transforms content by input type.
type TransformService interface {
	Transform(ctx context.Context, inputType, content string) (string, error)
}

// ExportService writes build artifacts.
type ExportService interface {
	Export(ctx context.Context, format string, data []byte) error
}

// Services are the host collaborators handed to every plugin. Any field
// may be nil. When Render or Transform is nil the Manager supplies itself.
type Services struct {
	Files     FileService
	Index     IndexService
	Render    RenderService
	Transform TransformService
	Export    ExportService
}
