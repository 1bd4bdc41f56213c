package harness

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Configurator dumps and defines domain XML. *libvirt.Virsh satisfies it.
type Configurator interface {
	DumpXML(ctx context.Context, domainName string, inactive bool) (string, error)
	DefineXML(ctx context.Context, dir, domainName, doc string) error
}

// Baseline is the inactive domain XML captured before a test mutates
// anything. Restore puts it back.
type Baseline struct {
	vm   string
	dir  string
	doc  string
	conf Configurator
	log  logrus.FieldLogger
}

// CaptureBaseline dumps the inactive XML of vm. dir is where the XML file is
// written on restore.
func CaptureBaseline(ctx context.Context, conf Configurator, vm, dir string, log logrus.FieldLogger) (*Baseline, error) {
	doc, err := conf.DumpXML(ctx, vm, true)
	if err != nil {
		return nil, Preconditionf(err, "capture inactive XML of %s", vm)
	}
	return &Baseline{vm: vm, dir: dir, doc: doc, conf: conf, log: log}, nil
}

// XML returns the captured document.
func (b *Baseline) XML() string {
	if b == nil {
		return ""
	}
	return b.doc
}

// Restore defines the captured XML again. It is safe to call on a nil
// Baseline and more than once.
func (b *Baseline) Restore(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if err := b.conf.DefineXML(ctx, b.dir, b.vm, b.doc); err != nil {
		return fmt.Errorf("restore inactive XML of %s: %w", b.vm, err)
	}
	b.log.WithField("vm", b.vm).Info("restored inactive domain XML")
	return nil
}
