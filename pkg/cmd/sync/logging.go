package sync

import (
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"k8s.io/klog/v2"

	"netsync/internal/config"
)

// newLogger builds the process logger. klog is the default sink; std writes
// plain lines through the standard library logger.
func newLogger(format string, verbosity int, errOut io.Writer) (logr.Logger, error) {
	switch format {
	case config.LogFormatKlog, "":
		fs := flag.NewFlagSet("klog", flag.ContinueOnError)
		klog.InitFlags(fs)
		if err := fs.Set("v", strconv.Itoa(verbosity)); err != nil {
			return logr.Discard(), err
		}
		if err := fs.Set("logtostderr", "false"); err != nil {
			return logr.Discard(), err
		}
		klog.SetOutput(errOut)
		return klog.NewKlogr(), nil
	case config.LogFormatStd:
		stdr.SetVerbosity(verbosity)
		return stdr.New(log.New(errOut, "", log.LstdFlags)), nil
	default:
		return logr.Discard(), fmt.Errorf("unknown log format %q", format)
	}
}
