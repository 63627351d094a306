package eligibility_test

import (
	"testing"

	"github.com/absmach/fedcycle/pkg/eligibility"
	"github.com/absmach/fedcycle/pkg/fl"
	"github.com/stretchr/testify/assert"
)

func TestBandwidth(t *testing.T) {
	cfg := fl.ServerConfig{MinimumUploadSpeed: 2, MinimumDownloadSpeed: 4}

	cases := []struct {
		desc     string
		upload   float64
		download float64
		eligible bool
	}{
		{desc: "both above minimum", upload: 3, download: 5, eligible: true},
		{desc: "upload equal to minimum", upload: 2, download: 5, eligible: false},
		{desc: "download equal to minimum", upload: 3, download: 4, eligible: false},
		{desc: "both equal to minimum", upload: 2, download: 4, eligible: false},
		{desc: "upload below minimum", upload: 1, download: 5, eligible: false},
		{desc: "download below minimum", upload: 3, download: 0, eligible: false},
		{desc: "barely above minimum", upload: 2.0001, download: 4.0001, eligible: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			w := fl.Worker{ID: "worker", AvgUpload: tc.upload, AvgDownload: tc.download}
			assert.Equal(t, tc.eligible, eligibility.Bandwidth().Eligible(w, cfg))
			assert.Equal(t, tc.eligible, eligibility.IsEligible(w, cfg))
		})
	}
}

func TestAll(t *testing.T) {
	allow := eligibility.PolicyFunc(func(fl.Worker, fl.ServerConfig) bool { return true })
	deny := eligibility.PolicyFunc(func(fl.Worker, fl.ServerConfig) bool { return false })

	cases := []struct {
		desc     string
		policy   eligibility.Policy
		eligible bool
	}{
		{desc: "no policies", policy: eligibility.All(), eligible: true},
		{desc: "single allowing policy", policy: eligibility.All(allow), eligible: true},
		{desc: "allow and deny", policy: eligibility.All(allow, deny), eligible: false},
		{desc: "deny first", policy: eligibility.All(deny, allow), eligible: false},
		{desc: "bandwidth with allow", policy: eligibility.All(eligibility.Bandwidth(), allow), eligible: true},
	}

	w := fl.Worker{ID: "worker", AvgUpload: 10, AvgDownload: 10}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.eligible, tc.policy.Eligible(w, fl.ServerConfig{}))
		})
	}
}
