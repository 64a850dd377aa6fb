package app

import (
	"log/slog"
	"mime"
)

// servedTypes are the extensions the portal serves from /static and from the
// local report bucket. Hosts with a sparse mime.types must still label them.
var servedTypes = map[string]string{
	".css": "text/css; charset=utf-8",
	".svg": "image/svg+xml",
	".pdf": "application/pdf",
}

func init() {
	for ext, typ := range servedTypes {
		ensureMimeType(ext, typ)
	}
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		slog.Default().Warn("register mime type", slog.String("ext", ext), slog.Any("error", err))
	}
}
