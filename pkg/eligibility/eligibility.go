// Package eligibility decides whether a worker may be admitted into a cycle.
package eligibility

import "github.com/absmach/fedcycle/pkg/fl"

// Policy is an admission predicate evaluated against a worker's most recent
// measurements and the process server config. Policies must not have side
// effects.
type Policy interface {
	Eligible(w fl.Worker, cfg fl.ServerConfig) bool
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(w fl.Worker, cfg fl.ServerConfig) bool

func (f PolicyFunc) Eligible(w fl.Worker, cfg fl.ServerConfig) bool {
	return f(w, cfg)
}

type bandwidth struct{}

// Bandwidth admits workers whose average upload and download speeds are
// strictly above the configured minimums.
func Bandwidth() Policy {
	return bandwidth{}
}

func (bandwidth) Eligible(w fl.Worker, cfg fl.ServerConfig) bool {
	return w.AvgUpload > cfg.MinimumUploadSpeed && w.AvgDownload > cfg.MinimumDownloadSpeed
}

type all []Policy

// All admits a worker only if every policy admits it. An empty set admits
// everyone.
func All(policies ...Policy) Policy {
	return all(policies)
}

func (a all) Eligible(w fl.Worker, cfg fl.ServerConfig) bool {
	for _, p := range a {
		if !p.Eligible(w, cfg) {
			return false
		}
	}

	return true
}

// IsEligible applies the default admission policy.
func IsEligible(w fl.Worker, cfg fl.ServerConfig) bool {
	return Bandwidth().Eligible(w, cfg)
}
