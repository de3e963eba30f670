// Command uaproxyd runs the UA-side proxy connection handler against a
// single configured upstream origin.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arcrelay/uaproxy/pkg/constants"
	"github.com/arcrelay/uaproxy/pkg/handler"
	"github.com/arcrelay/uaproxy/pkg/origin"
)

type runOptions struct {
	listen         string
	originAddr     string
	banner         string
	maxHeaderBytes int
	dialTimeout    time.Duration
	idleTimeout    time.Duration
	logLevel       string
}

func main() {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "uaproxyd",
		Short: "UA-side HTTP proxy connection handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.listen, "listen", "127.0.0.1:8080", "address to accept UA connections on")
	flags.StringVar(&opts.originAddr, "origin", "", "upstream origin address to forward every request to (required)")
	flags.StringVar(&opts.banner, "banner", constants.DefaultBanner, "Server header value for locally answered OPTIONS responses")
	flags.IntVar(&opts.maxHeaderBytes, "max-header-bytes", constants.MaxHeaderBytes, "maximum bytes a request's header block may occupy")
	flags.DurationVar(&opts.dialTimeout, "dial-timeout", constants.DefaultOriginDialTimeout, "timeout for dialing the upstream origin")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", constants.DefaultOriginIdleTimeout, "how long an idle pooled origin connection is kept before being reaped")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.MarkFlagRequired("origin")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts *runOptions) error {
	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "uaproxyd")

	dispatcher := origin.NewStaticDispatcher(opts.originAddr, 64, opts.dialTimeout, opts.idleTimeout)
	defer dispatcher.Close()

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.WithField("listen", opts.listen).WithField("origin", opts.originAddr).Info("accepting connections")

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Error("accept failed")
			return err
		}
		go func() {
			h := handler.New(conn, handler.Options{
				Banner:         opts.banner,
				MaxHeaderBytes: opts.maxHeaderBytes,
				Dispatcher:     dispatcher,
				Logger:         log,
			})
			if err := h.Serve(); err != nil {
				log.WithError(err).Warn("handler exited with error")
			}
		}()
	}
}
