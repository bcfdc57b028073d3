package obs

import "github.com/prometheus/client_golang/prometheus"

// RegisterBuildInfo exposes build_info{version,commit} 1 on reg.
func RegisterBuildInfo(reg prometheus.Registerer, version, commit string) error {
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keyward_build_info",
		Help: "Keyward build information.",
	}, []string{"version", "commit"})
	if err := reg.Register(info); err != nil {
		return err
	}
	info.WithLabelValues(version, commit).Set(1)
	return nil
}
