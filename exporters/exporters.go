package exporters

import (
	"context"
	"fmt"
	"sort"

	"github.com/bibin-skaria/ocidir/ocidir"
)

// Options selects what to export and where.
type Options struct {
	// Tag selects a tagged manifest. Empty means the directory's only manifest.
	Tag string
	// Reference names the image inside archives that record one, such as
	// docker archives. Defaults to Tag.
	Reference string
	// Output is the path of the archive to create.
	Output string
	// Compress gzips the archive where the format allows it.
	Compress bool
}

type Exporter interface {
	Export(ctx context.Context, dir *ocidir.OCIDir, opts Options) error
}

var exporters = make(map[string]Exporter)

func RegisterExporter(name string, exporter Exporter) {
	exporters[name] = exporter
}

func GetExporter(name string) (Exporter, error) {
	exporter, exists := exporters[name]
	if !exists {
		return nil, fmt.Errorf("exporter %s not found", name)
	}
	return exporter, nil
}

func ListExporters() []string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
