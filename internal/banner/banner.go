// Package banner prints the startup banner.
package banner

import (
	"fmt"
	"io"
)

// Version is the release of the service.
const Version = "0.3.0"

// Print writes the banner and version to w.
func Print(w io.Writer) {
	banner := `
                _ _                  _   _  __
 __      ____ _(_) |_ _ __   ___ | |_(_)/ _|_   _
 \ \ /\ / / _' | | __| '_ \ / _ \| __| | |_| | | |
  \ V  V / (_| | | |_| | | | (_) | |_| |  _| |_| |
   \_/\_/ \__,_|_|\__|_| |_|\___/ \__|_|_|  \__, |
                                            |___/  v%s - distributed join
    `
	fmt.Fprintf(w, banner, Version)
	fmt.Fprintln(w, "\n------------------------------------------------")
}
