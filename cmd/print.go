package cmd

import (
	"io"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/mattn/go-isatty"
)

func newPrinter(w io.Writer) *pp.PrettyPrinter {
	printer := pp.New()
	printer.SetOutput(w)
	printer.SetExportedOnly(true)

	colored := false
	if f, ok := w.(*os.File); ok {
		colored = isatty.IsTerminal(f.Fd())
	}
	printer.SetColoringEnabled(colored)
	return printer
}
