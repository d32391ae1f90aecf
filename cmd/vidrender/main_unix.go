//go:build linux

package main

import (
	"runtime/debug"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/bnema/vidrender/internal/logging"
)

// raisedLimits are lifted to their hard limit at startup. Cores catch
// crashes inside vendor libraries, every queued buffer holds duplicated
// plane fds, and the poster may ask for SCHED_FIFO.
var raisedLimits = []struct {
	name     string
	resource int
}{
	{"core", unix.RLIMIT_CORE},
	{"nofile", unix.RLIMIT_NOFILE},
	{"rtprio", unix.RLIMIT_RTPRIO},
}

func prepareProcess() {
	debug.SetTraceback("crash")

	log := logging.NewFromEnv()
	for _, l := range raisedLimits {
		var limit unix.Rlimit
		if err := unix.Prlimit(0, l.resource, nil, &limit); err != nil {
			log.Debug().Err(err).Str("limit", l.name).Msg("read rlimit")
			continue
		}
		if limit.Cur < limit.Max {
			raised := unix.Rlimit{Cur: limit.Max, Max: limit.Max}
			if err := unix.Prlimit(0, l.resource, &raised, nil); err != nil {
				log.Debug().Err(err).Str("limit", l.name).Msg("raise rlimit")
			} else {
				limit = raised
			}
		}
		log.Debug().
			Str("limit", l.name).
			Str("soft", formatRlimit(limit.Cur)).
			Str("hard", formatRlimit(limit.Max)).
			Msg("process limit")
	}
}

func formatRlimit(value uint64) string {
	if value == unix.RLIM_INFINITY {
		return "infinity"
	}
	return strconv.FormatUint(value, 10)
}
