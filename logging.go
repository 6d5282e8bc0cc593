package axon

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

// NewLogger builds a color-coded slog.Logger at the given level, in the
// same style the teacher's command wires up for its own process (see
// DESIGN.md). Axon itself never calls slog.SetDefault or otherwise
// installs a global logger — it only logs through package-level slog
// calls (internal/discovery, internal/transport) so an embedding
// application's own logger configuration always wins. This constructor
// exists so an application with no opinion of its own can get a
// reasonable one without depending on lmittmann/tint directly.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{Level: level}))
}
