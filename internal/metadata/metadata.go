// Package metadata talks to a remote org's metadata API: listing components,
// bulk retrieve, deploy, and status polling for the async jobs both of those
// spawn.
package metadata

import (
	"context"
	"errors"
)

// ErrAuth is returned when login is rejected or the endpoint is unreachable.
var ErrAuth = errors.New("authentication failed")

// ListedComponent is one entry from a list call.
type ListedComponent struct {
	FullName         string
	ID               string
	LastModifiedDate string
}

// PackageType selects members of a single component type for retrieve/deploy.
type PackageType struct {
	Name    string
	Members []string
}

// Package is an unpackaged manifest.
type Package struct {
	Types   []PackageType
	Version string
}

// RetrieveResult is the polled state of a retrieve job. ZipFile is base64
// and only populated once Done.
type RetrieveResult struct {
	Done    bool
	Status  string
	ZipFile string
}

// Succeeded reports whether a finished retrieve produced an archive.
func (r *RetrieveResult) Succeeded() bool {
	return r.Done && r.Status == "Succeeded"
}

// DeployOptions mirror the remote deploy call's options.
type DeployOptions struct {
	CheckOnly       bool
	RollbackOnError bool
	SinglePackage   bool
	TestLevel       string
	RunTests        []string
}

// ComponentFailure is one failed component in a deploy result.
type ComponentFailure struct {
	FullName      string `json:"fullName"`
	ComponentType string `json:"componentType"`
	Problem       string `json:"problem"`
}

// DeployResult is the polled state of a deploy job.
type DeployResult struct {
	ID                string             `json:"id"`
	Done              bool               `json:"done"`
	Success           bool               `json:"success"`
	Status            string             `json:"status"`
	ErrorMessage      string             `json:"errorMessage,omitempty"`
	ComponentFailures []ComponentFailure `json:"componentFailures,omitempty"`
}

// FailureMessage picks the most useful human-readable error from a failed
// deploy: first component failure's problem, then the job-level message,
// then a generic fallback.
func (r *DeployResult) FailureMessage() string {
	if len(r.ComponentFailures) > 0 && r.ComponentFailures[0].Problem != "" {
		return r.ComponentFailures[0].Problem
	}
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	return "deployment failed"
}

// API is the remote capability consumed by the collector and the deploy
// orchestrator. Session implements it over the wire; tests fake it.
type API interface {
	List(ctx context.Context, componentType, folder string) ([]ListedComponent, error)
	Retrieve(ctx context.Context, pkg Package) (string, error)
	CheckRetrieveStatus(ctx context.Context, id string) (*RetrieveResult, error)
	Deploy(ctx context.Context, zipBase64 string, opts DeployOptions) (string, error)
	CheckDeployStatus(ctx context.Context, id string, includeDetails bool) (*DeployResult, error)
}
