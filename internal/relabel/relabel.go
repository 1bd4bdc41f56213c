// Package relabel applies the SELinux virt_image_t type to disk images the
// harness moves around, so QEMU may open them when the host enforces.
package relabel

import (
	"io/fs"
	"path/filepath"

	"github.com/opencontainers/selinux/go-selinux"
	"github.com/sirupsen/logrus"
)

// ImageType is the SELinux type QEMU is allowed to open.
const ImageType = "virt_image_t"

// Relabeler relabels files. Every failure is logged and swallowed.
type Relabeler struct {
	log       logrus.FieldLogger
	enforcing func() bool
	fileLabel func(string) (string, error)
	chcon     func(string, string, bool) error
}

type option func(*Relabeler)

func withEnforcing(f func() bool) option {
	return func(r *Relabeler) { r.enforcing = f }
}

func withLabeler(fileLabel func(string) (string, error), chcon func(string, string, bool) error) option {
	return func(r *Relabeler) {
		r.fileLabel = fileLabel
		r.chcon = chcon
	}
}

// New returns a Relabeler backed by the host's SELinux state.
func New(log logrus.FieldLogger, opts ...option) *Relabeler {
	r := &Relabeler{
		log:       log,
		enforcing: func() bool { return selinux.GetEnabled() && selinux.EnforceMode() == selinux.Enforcing },
		fileLabel: selinux.FileLabel,
		chcon:     selinux.Chcon,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Relabel sets the virt_image_t type on path and everything below it when
// SELinux is enforcing. Each file keeps its own user, role and level. It
// reports whether every file was relabeled.
func (r *Relabeler) Relabel(path string) bool {
	if !r.enforcing() {
		return false
	}
	ok := true
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			r.log.WithField("path", p).WithError(err).Warn("failed to walk, not relabeling")
			ok = false
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !r.relabelOne(p) {
			ok = false
		}
		return nil
	})
	return ok
}

func (r *Relabeler) relabelOne(path string) bool {
	log := r.log.WithField("path", path)

	current, err := r.fileLabel(path)
	if err != nil {
		log.WithError(err).Warn("failed to read SELinux label, not relabeling")
		return false
	}
	ctx, err := selinux.NewContext(current)
	if err != nil {
		log.WithError(err).Warn("failed to parse SELinux label, not relabeling")
		return false
	}
	ctx["type"] = ImageType
	if err := r.chcon(path, ctx.Get(), false); err != nil {
		log.WithError(err).Warn("failed to relabel")
		return false
	}
	log.WithField("label", ctx.Get()).Debug("relabeled")
	return true
}
