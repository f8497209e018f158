package servicenow

import (
	"net/http"
	"strings"

	"github.com/RaikaSurendra/servicenow-change-adapter/internal/config"
)

// RequestSpec describes the single Table API call made per fetch. It is built
// fresh for every call and never mutated afterwards.
type RequestSpec struct {
	Method   string
	Username string
	Password string
	BaseURL  string
	Path     string
}

// NewRequestSpec builds the first-record request for table:
//
//	GET {baseURL}{tableAPIPath}/{table}?sysparm_limit=1
//
// The table name is inserted verbatim. No validation or escaping happens
// here; an invalid name produces whatever the instance answers.
func NewRequestSpec(cfg config.ServiceNowConfig, table string) RequestSpec {
	return RequestSpec{
		Method:   http.MethodGet,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		BaseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		Path:     cfg.TableAPIPath + "/" + table + "?sysparm_limit=1",
	}
}

// URL returns the absolute request URL.
func (s RequestSpec) URL() string {
	return s.BaseURL + s.Path
}

// Endpoint returns the path without its query string, for metric labels.
func (s RequestSpec) Endpoint() string {
	if i := strings.IndexByte(s.Path, '?'); i >= 0 {
		return s.Path[:i]
	}
	return s.Path
}
