package diagram

import (
	"context"

	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/pkg/schema"
)

// Format names an output of Render.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
	FormatPNG     Format = "png"
	FormatSVG     Format = "svg"
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatMermaid, FormatASCII, FormatPNG, FormatSVG}
}

// ContentType is the MIME type of a rendered format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatSVG:
		return "image/svg+xml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Render draws g, overlaid with trace when non-nil, in the given format.
func Render(ctx context.Context, g *flowgraph.Graph, trace *schema.Trace, format Format) ([]byte, error) {
	model := Build(g, trace)
	switch format {
	case FormatMermaid, "":
		return []byte(RenderMermaid(model)), nil
	case FormatASCII:
		return []byte(RenderASCII(model)), nil
	case FormatPNG:
		return RenderImage(ctx, model, ImagePNG)
	case FormatSVG:
		return RenderImage(ctx, model, ImageSVG)
	default:
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "unknown diagram format %q", format)
	}
}
