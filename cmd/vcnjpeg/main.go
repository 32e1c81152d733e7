// Command vcnjpeg decodes JPEG images with the VCN hardware decoder and writes
// the raw planes.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gen2brain/vcnjpeg"
)

// globalFlags are the flags shared by every subcommand.
type globalFlags struct {
	device       int
	backend      int
	arch         string
	deviceName   string
	renderNode   string
	poolCapacity int
	logLevel     string
	sim          bool
}

// options builds the decoder options and the logger.
func (f *globalFlags) options() (*vcnjpeg.Options, *logrus.Logger, error) {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(f.logLevel)
	if err != nil {
		return nil, nil, err
	}

	log.SetLevel(lvl)

	opts := &vcnjpeg.Options{
		Backend:      vcnjpeg.Backend(f.backend),
		DeviceID:     f.device,
		Arch:         f.arch,
		DeviceName:   f.deviceName,
		RenderNode:   f.renderNode,
		PoolCapacity: f.poolCapacity,
		Logger:       log,
	}

	if f.sim {
		if err := simOptions(opts); err != nil {
			return nil, nil, err
		}
	}

	return opts, log, nil
}

func newRootCmd() *cobra.Command {
	f := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "vcnjpeg",
		Short:         "Decode baseline JPEG images on the VCN hardware decoder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.IntVarP(&f.device, "device", "d", 0, "GPU device id among the visible devices")
	pf.IntVar(&f.backend, "backend", 0, "decode backend (0 hardware, 1 hybrid)")
	pf.StringVar(&f.arch, "arch", "", "override the GPU architecture, for example gfx90a")
	pf.StringVar(&f.deviceName, "device-name", "", "override the marketing name of the device")
	pf.StringVar(&f.renderNode, "render-node", "", "DRM render node to open")
	pf.IntVar(&f.poolCapacity, "pool", 0, "surface sets kept per surface format (0 for twice the JPEG cores)")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level")
	pf.BoolVar(&f.sim, "sim", false, "decode on the simulated driver")

	cmd.AddCommand(newDecodeCmd(f), newInfoCmd(f))

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vcnjpeg: %v (%s)\n", err, vcnjpeg.StatusOf(err).Name())
		os.Exit(1)
	}
}
