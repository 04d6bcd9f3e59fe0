package export

import (
	"fmt"
	"strings"
)

// FormatTag names an output canvas preset.
type FormatTag string

const (
	FormatLandscape FormatTag = "landscape"
	FormatPortrait  FormatTag = "portrait"
	FormatSquare    FormatTag = "square"
	FormatOriginal  FormatTag = "original"
)

// Formats lists the presets in display order.
var Formats = []FormatTag{FormatLandscape, FormatPortrait, FormatSquare, FormatOriginal}

var formatSizes = map[FormatTag][2]int{
	FormatLandscape: {1280, 720},
	FormatPortrait:  {720, 1280},
	FormatSquare:    {720, 720},
	FormatOriginal:  {1280, 960},
}

// OutputSpec is the resolved canvas for one export.
type OutputSpec struct {
	Format FormatTag `json:"format"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

func ParseFormat(s string) (FormatTag, error) {
	tag := FormatTag(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := formatSizes[tag]; !ok {
		return "", errorf(KindInvalidFormat, "unknown format %q", s)
	}
	return tag, nil
}

// ResolveOutputSpec maps a tag to canvas dimensions. With originalUsesPrimary
// set, "original" takes the primary stream's size rounded down to even
// numbers, falling back to the preset when that size is unknown.
func ResolveOutputSpec(tag FormatTag, primary *Stream, originalUsesPrimary bool) (OutputSpec, error) {
	size, ok := formatSizes[tag]
	if !ok {
		return OutputSpec{}, errorf(KindInvalidFormat, "unknown format %q", tag)
	}
	spec := OutputSpec{Format: tag, Width: size[0], Height: size[1]}

	if tag == FormatOriginal && originalUsesPrimary && primary != nil {
		w, h := primary.Width&^1, primary.Height&^1
		if w > 0 && h > 0 {
			spec.Width, spec.Height = w, h
		}
	}
	return spec, nil
}

// Container describes the packaged artifact a strategy produces.
type Container struct {
	Ext      string
	MIMEType string
}

var (
	ContainerMP4  = Container{Ext: "mp4", MIMEType: "video/mp4"}
	ContainerWebM = Container{Ext: "webm", MIMEType: "video/webm"}
)

// ArtifactName is the download name for an export, e.g.
// tesla_cam_export_landscape.mp4.
func ArtifactName(tag FormatTag, c Container) string {
	return fmt.Sprintf("tesla_cam_export_%s.%s", NameComponent(string(tag), 32), c.Ext)
}
