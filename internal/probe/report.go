package probe

import (
	"github.com/momentics/hioload-probe/api"
)

// VersionResult is the outcome of one pinned-version handshake.
type VersionResult struct {
	Version   string `yaml:"version" json:"version"`
	Supported bool   `yaml:"supported" json:"supported"`
	Cipher    string `yaml:"cipher,omitempty" json:"cipher,omitempty"`
	ALPN      string `yaml:"alpn,omitempty" json:"alpn,omitempty"`
	Status    string `yaml:"status" json:"status"`
	Code      string `yaml:"code" json:"code"`
	Error     string `yaml:"error,omitempty" json:"error,omitempty"`

	version api.TLSVersion
}

// Report summarizes one host.
type Report struct {
	Host        string          `yaml:"host" json:"host"`
	Port        uint16          `yaml:"port" json:"port"`
	Versions    []VersionResult `yaml:"versions" json:"versions"`
	Best        string          `yaml:"best,omitempty" json:"best,omitempty"`
	HTTPVersion string          `yaml:"http_version" json:"http_version"`
	StatusLine  string          `yaml:"status_line,omitempty" json:"status_line,omitempty"`
	Error       string          `yaml:"error,omitempty" json:"error,omitempty"`
}

// Supported lists the versions that completed a handshake.
func (r *Report) Supported() []api.TLSVersion {
	var out []api.TLSVersion
	for _, v := range r.Versions {
		if v.Supported {
			out = append(out, v.version)
		}
	}
	return out
}
