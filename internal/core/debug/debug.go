package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

var frameSpew = &spew.ConfigState{Indent: "  ", DisableCapacities: true, DisablePointerAddresses: true}

// StartPprofServer starts the default pprof HTTP server that can be accessed via
// localhost to get runtime information about the gateway.
// See https://golang.org/pkg/net/http/pprof/
func StartPprofServer(logger *logrus.Logger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}

// LogFrame writes a full dump of a decoded frame to the debug log. direction
// should identify which side of the connection produced the frame.
func LogFrame(logger *logrus.Logger, direction, addr string, frame interface{}) {
	logger.Debugf("[%s] %s %s", direction, addr, frameSpew.Sdump(frame))
}
