package qemu

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"snapshot-harness/internal/cmdutil"
)

// Image inspects disk images with qemu-img.
type Image struct {
	bin string
	run cmdutil.Runner
	log logrus.FieldLogger
}

// NewImage returns an Image that runs bin, "qemu-img" when empty.
func NewImage(run cmdutil.Runner, bin string, log logrus.FieldLogger) *Image {
	if bin == "" {
		bin = "qemu-img"
	}
	return &Image{bin: bin, run: run, log: log}
}

// Format returns the image format reported by `qemu-img info -U`, lower
// cased. Any failure yields "": the format is informational only.
func (i *Image) Format(ctx context.Context, path string) string {
	res, err := i.run.Run(ctx, i.bin, "info", "-U", path)
	if err != nil {
		i.log.WithField("path", path).WithError(err).Debug("qemu-img info failed, format unknown")
		return ""
	}
	return ParseFormat(res.Stdout)
}

// ParseFormat extracts the "file format:" value from qemu-img info output.
func ParseFormat(info string) string {
	for _, l := range strings.Split(info, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(l), ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), "file format") {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}
