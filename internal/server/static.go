package server

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

// LivenessText is served on / when no index.html is available.
const LivenessText = "GPT server is running. Use POST /api/chat"

// RegisterStatic serves files from dir. GET / serves dir/index.html when it
// exists and the liveness text otherwise. An empty dir only registers /.
func RegisterStatic(e *echo.Echo, dir string) {
	var fsys fs.FS
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fsys = os.DirFS(dir)
		}
	}

	e.GET("/", indexHandler(fsys))
	if fsys != nil {
		e.GET("/*", fileHandler(fsys))
	}
}

func indexHandler(fsys fs.FS) echo.HandlerFunc {
	return func(c echo.Context) error {
		if fsys != nil {
			if data, err := fs.ReadFile(fsys, "index.html"); err == nil {
				return c.HTMLBlob(http.StatusOK, data)
			}
		}
		return c.String(http.StatusOK, LivenessText)
	}
}

// fileHandler serves existing files only; there is no client side routing to
// fall back to.
func fileHandler(fsys fs.FS) echo.HandlerFunc {
	fileServer := http.FileServer(http.FS(fsys))

	return func(c echo.Context) error {
		// Clean the path to prevent directory traversal
		reqPath := strings.TrimPrefix(path.Clean("/"+c.Param("*")), "/")
		if reqPath == "" {
			reqPath = "index.html"
		}

		info, err := fs.Stat(fsys, reqPath)
		if err != nil || info.IsDir() {
			return echo.ErrNotFound
		}

		c.Request().URL.Path = "/" + reqPath
		fileServer.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
