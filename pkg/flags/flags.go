// Package flags configures the logging and version flags common to every
// node-runtime binary (cmd/node-runner and any future ones), the way the
// teacher's pkg/flags configures every linkerd2 controller binary.
package flags

import (
	"fmt"
	"os"

	"github.com/linkerd/node-runtime/pkg/version"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

// ConfigureAndParse adds the flags common to all node-runtime processes
// (-log-level, -version) to cmd, then parses args. Call it after all other
// flags have been registered on cmd.
//
// The teacher's own pkg/flags additionally configures klog for its
// Kubernetes client dependencies; this module has no Kubernetes client, so
// that half is dropped (see DESIGN.md).
func ConfigureAndParse(cmd *flag.FlagSet, args []string) {
	logLevel := cmd.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	printVersion := cmd.Bool("version", false, "print version and exit")

	cmd.Parse(args)

	setLogLevel(*logLevel)
	maybePrintVersionAndExit(*printVersion)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(version.Version)
		os.Exit(0)
	}
	log.Infof("running version %s", version.Version)
}
