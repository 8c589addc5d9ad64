package obs

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Build describes the running binary.
type Build struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	GoVersion string    `json:"goVersion"`
	StartedAt time.Time `json:"startedAt"`
}

var (
	buildMu    sync.RWMutex
	build      = Build{Version: "dev", Commit: "unknown", GoVersion: runtime.Version(), StartedAt: time.Now().UTC()}
	registerBI sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "csebu_build_info",
			Help: "Build of the running csebu binary; always 1.",
		},
		[]string{"version", "commit", "goversion"},
	)
	startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "csebu_start_time_seconds",
		Help: "Unix time the process started serving.",
	})
)

// InitBuildInfo records the binary's version and commit and exports them.
func InitBuildInfo(version, commit string) {
	registerBI.Do(func() {
		prometheus.MustRegister(buildInfo, startTime)
	})
	buildMu.Lock()
	if version != "" {
		build.Version = version
	}
	if commit != "" {
		build.Commit = commit
	}
	b := build
	buildMu.Unlock()

	buildInfo.Reset()
	buildInfo.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
	startTime.Set(float64(b.StartedAt.Unix()))
}

// CurrentBuild returns what InitBuildInfo recorded.
func CurrentBuild() Build {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return build
}
